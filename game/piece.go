package game

type Side int8

const (
	Red   Side = 0
	Black Side = 1
)

func (s Side) Other() Side { return s ^ 1 }

func (s Side) String() string {
	if s == Red {
		return "red"
	}
	return "black"
}

// Kind is a piece type without colour.
type Kind int8

const (
	None Kind = iota
	General
	Advisor
	Elephant
	Horse
	Chariot
	Cannon
	Soldier
)

const NumKinds = 7

var kindNames = [...]string{"none", "general", "advisor", "elephant", "horse", "chariot", "cannon", "soldier"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "?"
	}
	return kindNames[k]
}

// Piece is a signed kind: positive for Red, negative for Black, 0 empty.
type Piece int8

const Empty Piece = 0

func NewPiece(side Side, k Kind) Piece {
	if side == Red {
		return Piece(k)
	}
	return -Piece(k)
}

func (p Piece) Kind() Kind {
	if p < 0 {
		return Kind(-p)
	}
	return Kind(p)
}

func (p Piece) Side() Side {
	if p < 0 {
		return Black
	}
	return Red
}

func (p Piece) Empty() bool { return p == Empty }

// Is reports whether p is a piece of the given side.
func (p Piece) Is(side Side) bool {
	if side == Red {
		return p > 0
	}
	return p < 0
}

const fenLetters = ".kabnrcp"

// Letter returns the FEN letter, uppercase for Red.
func (p Piece) Letter() byte {
	if p == Empty {
		return '.'
	}
	c := fenLetters[p.Kind()]
	if p > 0 {
		c -= 'a' - 'A'
	}
	return c
}

func pieceFromLetter(c byte) (Piece, bool) {
	side := Black
	if c >= 'A' && c <= 'Z' {
		side = Red
		c += 'a' - 'A'
	}
	switch c {
	case 'k':
		return NewPiece(side, General), true
	case 'a':
		return NewPiece(side, Advisor), true
	case 'b', 'e':
		return NewPiece(side, Elephant), true
	case 'n', 'h':
		return NewPiece(side, Horse), true
	case 'r':
		return NewPiece(side, Chariot), true
	case 'c':
		return NewPiece(side, Cannon), true
	case 'p':
		return NewPiece(side, Soldier), true
	}
	return Empty, false
}
