package game

import (
	"strings"
	"testing"
)

// dumpBoard is a test helper to visualize board state.
func dumpBoard(s *State) string {
	var sb strings.Builder
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			sb.WriteByte(s.Board[Sq(r, c)].Letter())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func TestStartFENRoundTrip(t *testing.T) {
	s := NewInitialState(200)
	if got := s.FEN(); got != StartFEN {
		t.Fatalf("FEN()=%q want %q", got, StartFEN)
	}
	if s.ToMove != Red {
		t.Fatalf("expected red to move")
	}
	if s.MaxPlies != 200 {
		t.Fatalf("MaxPlies=%d", s.MaxPlies)
	}
	if got := s.Board[Sq(9, 4)]; got != NewPiece(Red, General) {
		t.Fatalf("red general square holds %v\n%s", got, dumpBoard(s))
	}
	if got := s.Board[Sq(0, 4)]; got != NewPiece(Black, General) {
		t.Fatalf("black general square holds %v\n%s", got, dumpBoard(s))
	}
	if s.General(Red) != Sq(9, 4) || s.General(Black) != Sq(0, 4) {
		t.Fatalf("General() wrong: %v %v", s.General(Red), s.General(Black))
	}
}

func TestParseFENRejectsBadBoards(t *testing.T) {
	cases := map[string]string{
		"two red generals": "rnbakabnr/9/1c5c1/p1p1p1p1p/9/9/P1P1P1P1P/1C5C1/4K4/RNBAKABNR w",
		"no black general": "rnba1abnr/9/1c5c1/p1p1p1p1p/9/9/P1P1P1P1P/1C5C1/9/RNBAKABNR w",
		"general outside":  "3k5/9/9/9/9/9/9/9/9/K8 w",
		"short board":      "rnbakabnr/9/9 w",
		"bad side":         "4k4/9/9/9/9/9/9/9/9/4K4 x",
		"bad piece":        "4k4/9/9/9/9/9/9/9/9/4K3z w",
	}
	for name, fen := range cases {
		if _, err := ParseFEN(fen); err == nil {
			t.Errorf("%s: expected error for %q", name, fen)
		}
	}
}

func TestParseFENSideAndAliases(t *testing.T) {
	s, err := ParseFEN("4k4/9/9/9/9/9/9/4H4/9/3EK4 b - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if s.ToMove != Black {
		t.Fatalf("expected black to move")
	}
	if s.Board[Sq(7, 4)] != NewPiece(Red, Horse) || s.Board[Sq(9, 3)] != NewPiece(Red, Elephant) {
		t.Fatalf("aliases not parsed:\n%s", dumpBoard(s))
	}
	if got, want := s.FEN(), "4k4/9/9/9/9/9/9/4N4/9/3BK4 b"; got != want {
		t.Fatalf("FEN()=%q want %q", got, want)
	}
}

func TestHashIncludesSideToMove(t *testing.T) {
	a, _ := ParseFEN("4k4/9/9/9/9/9/9/9/9/4K4 w")
	b, _ := ParseFEN("4k4/9/9/9/9/9/9/9/9/4K4 b")
	if a.Hash == b.Hash {
		t.Fatalf("side to move not hashed")
	}
	if a.Hash^SideKey() != b.Hash {
		t.Fatalf("hashes should differ by exactly the side key")
	}
}

func TestSquareNotation(t *testing.T) {
	if got := Sq(9, 0).String(); got != "a0" {
		t.Fatalf("Sq(9,0)=%s", got)
	}
	if got := Sq(0, 8).String(); got != "i9" {
		t.Fatalf("Sq(0,8)=%s", got)
	}
	m, err := ParseMove("h2e2")
	if err != nil {
		t.Fatalf("ParseMove: %v", err)
	}
	if m.From != Sq(7, 7) || m.To != Sq(7, 4) {
		t.Fatalf("ParseMove(h2e2)=%+v", m)
	}
	if m.String() != "h2e2" {
		t.Fatalf("String()=%s", m.String())
	}
	if _, err := ParseMove("z9a0"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestHistoryWindowAndClone(t *testing.T) {
	s := NewInitialState(0)
	for i := 0; i < MaxHistory+10; i++ {
		s.PushHistory()
	}
	if len(s.History) != MaxHistory {
		t.Fatalf("history len=%d want %d", len(s.History), MaxHistory)
	}
	c := s.Clone()
	c.History[0] = 42
	if s.History[0] == 42 {
		t.Fatalf("clone shares history")
	}
	if s.Repetitions() != MaxHistory {
		t.Fatalf("Repetitions()=%d", s.Repetitions())
	}

	s.History[0] = 7
	s.Hash = 9
	dropped, ok := s.PushHistory()
	if !ok || dropped != 7 || s.History[len(s.History)-1] != 9 {
		t.Fatalf("push on full window: dropped=%d ok=%v", dropped, ok)
	}
	s.PopHistory(dropped, ok)
	if len(s.History) != MaxHistory || s.History[0] != 7 || s.History[MaxHistory-1] != s.History[1] {
		t.Fatalf("pop did not restore the window")
	}
}

func TestResultValues(t *testing.T) {
	r := WinFor(Black, Checkmate)
	if r.ValueFor(Black) != 1 || r.ValueFor(Red) != -1 {
		t.Fatalf("bad values for %v", r)
	}
	d := DrawBy(MoveCap)
	if d.ValueFor(Red) != 0 || d.ValueFor(Black) != 0 {
		t.Fatalf("draw must be 0")
	}
	if !d.Over() || (Result{}).Over() {
		t.Fatalf("Over() wrong")
	}
	if d.String() != "draw (move_cap)" {
		t.Fatalf("String()=%q", d.String())
	}
}
