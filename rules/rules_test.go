package rules

import (
	"errors"
	"math/rand"
	"slices"
	"testing"

	"github.com/brensch/xqzero/game"
)

func mustFEN(t *testing.T, fen string) *game.State {
	t.Helper()
	s, err := game.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	return s
}

func movesFrom(moves []game.Move, from game.Square) []game.Move {
	var out []game.Move
	for _, m := range moves {
		if m.From == from {
			out = append(out, m)
		}
	}
	return out
}

func hasMove(moves []game.Move, from, to game.Square) bool {
	for _, m := range moves {
		if m.From == from && m.To == to {
			return true
		}
	}
	return false
}

func TestStartPositionPerft(t *testing.T) {
	s := game.NewInitialState(0)
	want := []int{1, 44, 1920, 79666}
	depth := 3
	if testing.Short() {
		depth = 2
	}
	for d := 0; d <= depth; d++ {
		if got := Perft(s, d); got != want[d] {
			t.Fatalf("perft(%d)=%d want %d", d, got, want[d])
		}
	}
	if s.FEN() != game.StartFEN || len(s.History) != 0 || s.Ply != 0 {
		t.Fatalf("perft did not restore the position: %s ply=%d hist=%d", s.FEN(), s.Ply, len(s.History))
	}
}

func TestFlyingGeneral(t *testing.T) {
	s := mustFEN(t, "3k5/9/9/9/9/9/9/9/9/4K4 w")
	moves := LegalMoves(s)
	if hasMove(moves, game.Sq(9, 4), game.Sq(9, 3)) {
		t.Fatalf("general may not face the enemy general on an open file")
	}
	if len(moves) != 2 {
		t.Fatalf("expected 2 legal moves, got %v", moves)
	}
	if !InCheck(&mustFEN(t, "4k4/9/9/9/9/9/9/9/9/4K4 w").Board, game.Red) {
		t.Fatalf("facing generals should count as check")
	}
	if InCheck(&mustFEN(t, "4k4/9/9/9/4P4/9/9/9/9/4K4 w").Board, game.Red) {
		t.Fatalf("a piece between the generals breaks the line")
	}
}

func TestPinnedChariot(t *testing.T) {
	s := mustFEN(t, "4k4/9/9/9/4r4/9/9/9/4R4/4K4 w")
	moves := LegalMoves(s)
	for _, m := range movesFrom(moves, game.Sq(8, 4)) {
		if m.To.Row() == 8 {
			t.Fatalf("pinned chariot moved sideways: %v", m)
		}
	}
	if len(moves) != 6 {
		t.Fatalf("expected 6 legal moves, got %d: %v", len(moves), moves)
	}
}

func TestCannonNeedsScreen(t *testing.T) {
	s := mustFEN(t, "3k5/9/9/4r4/4p4/9/9/4C4/9/5K3 w")
	moves := LegalMoves(s)
	from := game.Sq(7, 4)
	if !hasMove(moves, from, game.Sq(3, 4)) {
		t.Fatalf("cannon should capture over the screen")
	}
	if hasMove(moves, from, game.Sq(4, 4)) {
		t.Fatalf("cannon cannot capture without a screen")
	}
	if hasMove(moves, from, game.Sq(2, 4)) {
		t.Fatalf("cannon cannot pass the captured piece")
	}
	if !hasMove(moves, from, game.Sq(5, 4)) || !hasMove(moves, from, game.Sq(7, 0)) {
		t.Fatalf("cannon should slide to empty squares")
	}
}

func TestHorseLegBlocked(t *testing.T) {
	s := mustFEN(t, "3k5/9/9/9/9/9/4P4/4N4/9/5K3 w")
	got := movesFrom(LegalMoves(s), game.Sq(7, 4))
	if hasMove(got, game.Sq(7, 4), game.Sq(5, 3)) || hasMove(got, game.Sq(7, 4), game.Sq(5, 5)) {
		t.Fatalf("horse jumped over a blocked leg: %v", got)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 horse moves, got %v", got)
	}
}

func TestElephantEyeAndRiver(t *testing.T) {
	s := mustFEN(t, "3k5/9/9/9/9/2B6/3P5/9/9/5K3 w")
	got := movesFrom(LegalMoves(s), game.Sq(5, 2))
	if len(got) != 1 || got[0].To != game.Sq(7, 0) {
		t.Fatalf("expected only c4-a2, got %v", got)
	}
}

func TestAdvisorStaysInPalace(t *testing.T) {
	s := mustFEN(t, "3k5/9/9/9/9/9/9/3A5/9/4K4 w")
	got := movesFrom(LegalMoves(s), game.Sq(7, 3))
	if len(got) != 1 || got[0].To != game.Sq(8, 4) {
		t.Fatalf("advisor left the palace: %v", got)
	}
}

func TestSoldierSidewaysAfterRiver(t *testing.T) {
	s := mustFEN(t, "3k5/9/9/9/6P2/9/4P4/9/9/5K3 w")
	home := movesFrom(LegalMoves(s), game.Sq(6, 4))
	if len(home) != 1 || home[0].To != game.Sq(5, 4) {
		t.Fatalf("uncrossed soldier should only advance, got %v", home)
	}
	crossed := movesFrom(LegalMoves(s), game.Sq(4, 6))
	if len(crossed) != 3 {
		t.Fatalf("crossed soldier should have 3 moves, got %v", crossed)
	}
	if hasMove(crossed, game.Sq(4, 6), game.Sq(5, 6)) {
		t.Fatalf("soldier moved backwards")
	}
}

func TestCheckmateIsLoss(t *testing.T) {
	s := mustFEN(t, "R3k4/R8/9/9/9/9/9/9/9/3K5 b")
	over, res := Terminal(s)
	if !over {
		t.Fatalf("expected terminal")
	}
	if res.Outcome != game.RedWins || res.Reason != game.Checkmate {
		t.Fatalf("got %v", res)
	}
	if res.ValueFor(game.Black) != -1 {
		t.Fatalf("side to move should score -1")
	}
}

func TestStalemateIsLossNotDraw(t *testing.T) {
	s := mustFEN(t, "4k4/R8/9/9/9/5R3/9/9/9/3K5 b")
	if InCheck(&s.Board, game.Black) {
		t.Fatalf("position should not be check")
	}
	over, res := Terminal(s)
	if !over {
		t.Fatalf("expected terminal, moves=%v", LegalMoves(s))
	}
	if res.Outcome != game.RedWins || res.Reason != game.Stalemate {
		t.Fatalf("stalemate must lose for the side to move, got %v", res)
	}
}

func TestThreefoldRepetitionDraw(t *testing.T) {
	s := game.NewInitialState(0)
	cycle := []string{"b0c2", "b9c7", "c2b0", "c7b9"}
	for round := 0; round < 2; round++ {
		for _, str := range cycle {
			if over, res := Terminal(s); over {
				t.Fatalf("terminated early at ply %d: %v", s.Ply, res)
			}
			m, err := game.ParseMove(str)
			if err != nil {
				t.Fatal(err)
			}
			s, err = Apply(s, m)
			if err != nil {
				t.Fatalf("Apply(%s): %v", str, err)
			}
		}
	}
	over, res := Terminal(s)
	if !over || res.Outcome != game.Draw || res.Reason != game.Repetition {
		t.Fatalf("expected repetition draw, got over=%v %v", over, res)
	}
}

func TestMoveCapDraw(t *testing.T) {
	s := game.NewInitialState(2)
	for i := 0; i < 2; i++ {
		var err error
		s, err = Apply(s, LegalMoves(s)[0])
		if err != nil {
			t.Fatal(err)
		}
	}
	over, res := Terminal(s)
	if !over || res != game.DrawBy(game.MoveCap) {
		t.Fatalf("expected move cap draw, got over=%v %v", over, res)
	}
}

func TestApplyRejectsIllegal(t *testing.T) {
	s := game.NewInitialState(0)
	before := s.FEN()
	_, err := Apply(s, game.Move{From: game.Sq(9, 0), To: game.Sq(5, 0)})
	var ime *IllegalMoveError
	if !errors.As(err, &ime) {
		t.Fatalf("expected IllegalMoveError, got %v", err)
	}
	if _, err := Apply(s, game.Move{From: game.Sq(0, 0), To: game.Sq(1, 0)}); !errors.As(err, &ime) {
		t.Fatalf("moving the opponent's piece must fail, got %v", err)
	}
	if s.FEN() != before {
		t.Fatalf("Apply mutated its input")
	}
}

func TestMakeUnmakeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for g := 0; g < 20; g++ {
		s := game.NewInitialState(0)
		orig := s.Clone()
		var stack []game.Move
		for ply := 0; ply < 120; ply++ {
			moves := LegalMoves(s)
			if len(moves) == 0 {
				break
			}
			u := Make(s, moves[rng.Intn(len(moves))])
			if s.Hash != game.ComputeHash(&s.Board, s.ToMove) {
				t.Fatalf("incremental hash drifted at ply %d", s.Ply)
			}
			stack = append(stack, u)
		}
		for i := len(stack) - 1; i >= 0; i-- {
			Unmake(s, stack[i])
		}
		if s.Board != orig.Board || s.Hash != orig.Hash || s.ToMove != orig.ToMove || s.Ply != orig.Ply || len(s.History) != 0 {
			t.Fatalf("unmake did not restore the position: %s", s.FEN())
		}
	}
}

func TestMakeUnmakePastFullHistory(t *testing.T) {
	s := game.NewInitialState(0)
	orig := s.Clone()
	cycle := []string{"b0c2", "b9c7", "c2b0", "c7b9"}
	var stack []game.Move
	for len(stack) < game.MaxHistory+200 {
		m, err := game.ParseMove(cycle[len(stack)%len(cycle)])
		if err != nil {
			t.Fatal(err)
		}
		stack = append(stack, Make(s, m))
	}
	if len(s.History) != game.MaxHistory {
		t.Fatalf("history len=%d want %d", len(s.History), game.MaxHistory)
	}

	before := s.Clone()
	m, _ := game.ParseMove("h0g2")
	Unmake(s, Make(s, m))
	if !slices.Equal(s.History, before.History) || s.Hash != before.Hash || s.Board != before.Board {
		t.Fatalf("make/unmake on a full window changed the history")
	}

	for i := len(stack) - 1; i >= 0; i-- {
		Unmake(s, stack[i])
	}
	if s.Board != orig.Board || s.Hash != orig.Hash || s.Ply != 0 || len(s.History) != 0 {
		t.Fatalf("unwinding %d plies left ply=%d history=%d", len(stack), s.Ply, len(s.History))
	}
}

func TestLegalMovesNeverLeaveGeneralInCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for g := 0; g < 40; g++ {
		s := game.NewInitialState(0)
		for ply := 0; ply < 150; ply++ {
			moves := LegalMoves(s)
			if len(moves) == 0 {
				break
			}
			mover := s.ToMove
			for _, m := range moves {
				u := Make(s, m)
				if InCheck(&s.Board, mover) {
					t.Fatalf("game %d ply %d: %s leaves %s in check in %s", g, ply, m, mover, s.FEN())
				}
				Unmake(s, u)
			}
			Make(s, moves[rng.Intn(len(moves))])
		}
	}
}

func BenchmarkLegalMoves(b *testing.B) {
	s := game.NewInitialState(0)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = LegalMoves(s)
	}
}
