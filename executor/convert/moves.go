package convert

import "github.com/brensch/xqzero/game"

// PolicySize is the number of geometrically possible (from, to) pairs:
// rank/file slides, horse jumps, and the advisor and elephant diagonals of
// both halves.
const PolicySize = 2086

var (
	moveIndex [game.NumSquares][game.NumSquares]int16
	indexMove [PolicySize]game.Move
)

var (
	advisorSquares  = [][2]int{{7, 3}, {7, 5}, {8, 4}, {9, 3}, {9, 5}, {0, 3}, {0, 5}, {1, 4}, {2, 3}, {2, 5}}
	elephantSquares = [][2]int{
		{9, 2}, {9, 6}, {7, 0}, {7, 4}, {7, 8}, {5, 2}, {5, 6},
		{0, 2}, {0, 6}, {2, 0}, {2, 4}, {2, 8}, {4, 2}, {4, 6},
	}
)

func init() {
	for i := range moveIndex {
		for j := range moveIndex[i] {
			moveIndex[i][j] = -1
		}
	}
	n := 0
	add := func(fr, fc, tr, tc int) {
		if tr < 0 || tr >= Rows || tc < 0 || tc >= Cols {
			return
		}
		from, to := game.Sq(fr, fc), game.Sq(tr, tc)
		if moveIndex[from][to] >= 0 {
			return
		}
		moveIndex[from][to] = int16(n)
		indexMove[n] = game.Move{From: from, To: to}
		n++
	}

	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			for tr := 0; tr < Rows; tr++ {
				if tr != r {
					add(r, c, tr, c)
				}
			}
			for tc := 0; tc < Cols; tc++ {
				if tc != c {
					add(r, c, r, tc)
				}
			}
			for _, d := range [8][2]int{{-2, -1}, {-2, 1}, {2, -1}, {2, 1}, {-1, -2}, {1, -2}, {-1, 2}, {1, 2}} {
				add(r, c, r+d[0], c+d[1])
			}
		}
	}

	inSet := func(set [][2]int, r, c int) bool {
		for _, p := range set {
			if p[0] == r && p[1] == c {
				return true
			}
		}
		return false
	}
	for _, p := range advisorSquares {
		for _, d := range [4][2]int{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}} {
			if inSet(advisorSquares, p[0]+d[0], p[1]+d[1]) {
				add(p[0], p[1], p[0]+d[0], p[1]+d[1])
			}
		}
	}
	for _, p := range elephantSquares {
		for _, d := range [4][2]int{{-2, -2}, {-2, 2}, {2, -2}, {2, 2}} {
			tr, tc := p[0]+d[0], p[1]+d[1]
			// Same half only.
			if inSet(elephantSquares, tr, tc) && (tr <= 4) == (p[0] <= 4) {
				add(p[0], p[1], tr, tc)
			}
		}
	}

	if n != PolicySize {
		panic("convert: move encoding size mismatch")
	}
}

// MoveIndex returns the policy slot for m played by side, or -1 when the
// pair is not geometrically possible.
func MoveIndex(m game.Move, side game.Side) int {
	if !m.From.Valid() || !m.To.Valid() {
		return -1
	}
	return int(moveIndex[Orient(m.From, side)][Orient(m.To, side)])
}

// IndexMove is the inverse of MoveIndex.
func IndexMove(idx int, side game.Side) game.Move {
	m := indexMove[idx]
	return game.Move{From: Orient(m.From, side), To: Orient(m.To, side)}
}
