// visualize.go - Console visualization for debugging self-play games.
//
// PrintBoard renders the board with Red pieces in red and Black pieces in
// blue, river and palace marked, Red at the bottom.
package selfplay

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"

	"github.com/brensch/xqzero/game"
)

func PrintBoard(w io.Writer, state *game.State) {
	out := termenv.NewOutput(w)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== TRACE ply %d, %s to move ===\n", state.Ply, state.ToMove))
	for r := 0; r < game.Rows; r++ {
		sb.WriteString(fmt.Sprintf("%d ", game.Rows-1-r))
		for c := 0; c < game.Cols; c++ {
			sq := game.Sq(r, c)
			p := state.Board[sq]
			switch {
			case p == game.Empty && game.InPalace(game.Red, sq), p == game.Empty && game.InPalace(game.Black, sq):
				sb.WriteString(out.String("+").Faint().String())
			case p == game.Empty:
				sb.WriteString(".")
			case p.Is(game.Red):
				sb.WriteString(out.String(string(p.Letter())).Foreground(termenv.ANSIRed).Bold().String())
			default:
				sb.WriteString(out.String(string(p.Letter())).Foreground(termenv.ANSIBlue).Bold().String())
			}
			sb.WriteString(" ")
		}
		sb.WriteString("\n")
		if r == 4 {
			sb.WriteString("  ~ ~ ~ ~ ~ ~ ~ ~ ~\n")
		}
	}
	sb.WriteString("  a b c d e f g h i\n")
	sb.WriteString(state.FEN())
	sb.WriteString("\n")
	io.WriteString(w, sb.String())
}
