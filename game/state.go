// Package game defines the core board types for Xiangqi.
//
// A State is a flat 90-square board plus side to move, ply counter, zobrist
// hash and a bounded window of earlier hashes used for repetition detection.
// States are cheap to clone so search can copy the root and replay moves.
package game

import "fmt"

const (
	Rows       = 10
	Cols       = 9
	NumSquares = Rows * Cols

	// MaxHistory bounds the number of prior position hashes kept on a state.
	MaxHistory = 1024
)

// Square indexes the board as row*Cols+col. Row 0 is Black's back rank,
// row 9 is Red's back rank.
type Square int8

const NoSquare Square = -1

func Sq(row, col int) Square { return Square(row*Cols + col) }

func (s Square) Row() int { return int(s) / Cols }
func (s Square) Col() int { return int(s) % Cols }

func (s Square) Valid() bool { return s >= 0 && s < NumSquares }

// String renders the square in ICCS coordinates: file a..i left to right
// from Red's view, rank 0..9 counted from Red's back rank.
func (s Square) String() string {
	if !s.Valid() {
		return "--"
	}
	return fmt.Sprintf("%c%d", 'a'+s.Col(), Rows-1-s.Row())
}

func ParseSquare(str string) (Square, error) {
	if len(str) != 2 {
		return NoSquare, fmt.Errorf("bad square %q", str)
	}
	c := int(str[0] - 'a')
	r := int(str[1] - '0')
	if c < 0 || c >= Cols || r < 0 || r >= Rows {
		return NoSquare, fmt.Errorf("bad square %q", str)
	}
	return Sq(Rows-1-r, c), nil
}

// Move is a from/to pair. Captured is filled in by make so the move can be
// undone exactly; it is ignored when comparing moves.
type Move struct {
	From     Square
	To       Square
	Captured Piece
	// Dropped is the history hash Make evicted from a full window, kept so
	// Unmake can put it back. HasDropped tells a zero hash from none.
	Dropped    uint64
	HasDropped bool
}

func (m Move) Same(o Move) bool { return m.From == o.From && m.To == o.To }

func (m Move) String() string { return m.From.String() + m.To.String() }

func ParseMove(str string) (Move, error) {
	if len(str) != 4 {
		return Move{}, fmt.Errorf("bad move %q", str)
	}
	from, err := ParseSquare(str[:2])
	if err != nil {
		return Move{}, err
	}
	to, err := ParseSquare(str[2:])
	if err != nil {
		return Move{}, err
	}
	return Move{From: from, To: to}, nil
}

// State is the complete position needed for rules and inference.
type State struct {
	Board  [NumSquares]Piece
	ToMove Side
	Ply    int
	Hash   uint64
	// History holds the hashes of earlier positions, oldest first.
	History []uint64
	// MaxPlies is the move cap; 0 disables it.
	MaxPlies int
}

// Clone performs a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if len(s.History) > 0 {
		out.History = make([]uint64, len(s.History), len(s.History)+16)
		copy(out.History, s.History)
	} else {
		out.History = nil
	}
	return &out
}

// PushHistory records the current hash before a move is made. On a full
// window the oldest hash is shifted out and returned with ok set.
func (s *State) PushHistory() (dropped uint64, ok bool) {
	if n := len(s.History); n >= MaxHistory {
		dropped, ok = s.History[0], true
		copy(s.History, s.History[1:])
		s.History = s.History[:n-1]
	}
	s.History = append(s.History, s.Hash)
	return dropped, ok
}

// PopHistory undoes the matching PushHistory, restoring the hash it dropped.
func (s *State) PopHistory(dropped uint64, ok bool) {
	n := len(s.History)
	if n == 0 {
		return
	}
	if !ok {
		s.History = s.History[:n-1]
		return
	}
	copy(s.History[1:], s.History[:n-1])
	s.History[0] = dropped
}

// Repetitions counts how often the current position appeared before.
func (s *State) Repetitions() int {
	n := 0
	for _, h := range s.History {
		if h == s.Hash {
			n++
		}
	}
	return n
}

// General returns the square of side's general, or NoSquare.
func (s *State) General(side Side) Square {
	g := NewPiece(side, General)
	for sq, p := range s.Board {
		if p == g {
			return Square(sq)
		}
	}
	return NoSquare
}

// Validate checks the one-general-per-side invariant and that generals sit
// inside their palace.
func (s *State) Validate() error {
	for _, side := range []Side{Red, Black} {
		g := NewPiece(side, General)
		count := 0
		for sq, p := range s.Board {
			if p != g {
				continue
			}
			count++
			if !InPalace(side, Square(sq)) {
				return fmt.Errorf("%s general outside palace at %s", side, Square(sq))
			}
		}
		if count != 1 {
			return fmt.Errorf("%s has %d generals", side, count)
		}
	}
	return nil
}

// Rehash recomputes Hash from the board and side to move.
func (s *State) Rehash() {
	s.Hash = ComputeHash(&s.Board, s.ToMove)
}

// InPalace reports whether sq lies in side's 3x3 palace.
func InPalace(side Side, sq Square) bool {
	c := sq.Col()
	if c < 3 || c > 5 {
		return false
	}
	r := sq.Row()
	if side == Red {
		return r >= 7
	}
	return r <= 2
}

// OwnHalf reports whether sq lies on side's side of the river.
func OwnHalf(side Side, sq Square) bool {
	if side == Red {
		return sq.Row() >= 5
	}
	return sq.Row() <= 4
}

const StartFEN = "rnbakabnr/9/1c5c1/p1p1p1p1p/9/9/P1P1P1P1P/1C5C1/9/RNBAKABNR w"

// NewInitialState returns the standard opening position with the given move cap.
func NewInitialState(maxPlies int) *State {
	s, err := ParseFEN(StartFEN)
	if err != nil {
		panic(err)
	}
	s.MaxPlies = maxPlies
	return s
}
