package game

import (
	"fmt"
	"strings"
)

// ParseFEN reads the board and side fields of a Xiangqi FEN string. Any
// trailing fields are ignored. The result is validated and hashed.
func ParseFEN(fen string) (*State, error) {
	fields := strings.Fields(fen)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty fen")
	}
	ranks := strings.Split(fields[0], "/")
	if len(ranks) != Rows {
		return nil, fmt.Errorf("fen %q: want %d ranks, got %d", fen, Rows, len(ranks))
	}

	s := &State{}
	for r, rank := range ranks {
		c := 0
		for i := 0; i < len(rank); i++ {
			ch := rank[i]
			if ch >= '1' && ch <= '9' {
				c += int(ch - '0')
				continue
			}
			p, ok := pieceFromLetter(ch)
			if !ok {
				return nil, fmt.Errorf("fen %q: bad piece %q", fen, ch)
			}
			if c >= Cols {
				return nil, fmt.Errorf("fen %q: rank %d too long", fen, r)
			}
			s.Board[Sq(r, c)] = p
			c++
		}
		if c != Cols {
			return nil, fmt.Errorf("fen %q: rank %d has %d files", fen, r, c)
		}
	}

	s.ToMove = Red
	if len(fields) > 1 {
		switch fields[1] {
		case "w", "r":
			s.ToMove = Red
		case "b":
			s.ToMove = Black
		default:
			return nil, fmt.Errorf("fen %q: bad side %q", fen, fields[1])
		}
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("fen %q: %w", fen, err)
	}
	s.Rehash()
	return s, nil
}

// FEN formats the board and side to move.
func (s *State) FEN() string {
	var b strings.Builder
	for r := 0; r < Rows; r++ {
		if r > 0 {
			b.WriteByte('/')
		}
		empty := 0
		for c := 0; c < Cols; c++ {
			p := s.Board[Sq(r, c)]
			if p == Empty {
				empty++
				continue
			}
			if empty > 0 {
				b.WriteByte(byte('0' + empty))
				empty = 0
			}
			b.WriteByte(p.Letter())
		}
		if empty > 0 {
			b.WriteByte(byte('0' + empty))
		}
	}
	if s.ToMove == Red {
		b.WriteString(" w")
	} else {
		b.WriteString(" b")
	}
	return b.String()
}
