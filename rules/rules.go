// Package rules implements Xiangqi move generation, check detection and
// terminal-state adjudication over game.State.
package rules

import (
	"fmt"

	"github.com/brensch/xqzero/game"
)

// IllegalMoveError is returned by Apply when a move is not legal in the
// given position.
type IllegalMoveError struct {
	Move game.Move
	FEN  string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %s in %s", e.Move, e.FEN)
}

type dir struct{ dr, dc int }

var (
	orthogonal = [4]dir{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	diagonal   = [4]dir{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}}
	horseJumps = [8]struct{ leg, to dir }{
		{dir{-1, 0}, dir{-2, -1}}, {dir{-1, 0}, dir{-2, 1}},
		{dir{1, 0}, dir{2, -1}}, {dir{1, 0}, dir{2, 1}},
		{dir{0, -1}, dir{-1, -2}}, {dir{0, -1}, dir{1, -2}},
		{dir{0, 1}, dir{-1, 2}}, {dir{0, 1}, dir{1, 2}},
	}
)

func offset(sq game.Square, d dir) (game.Square, bool) {
	r, c := sq.Row()+d.dr, sq.Col()+d.dc
	if r < 0 || r >= game.Rows || c < 0 || c >= game.Cols {
		return game.NoSquare, false
	}
	return game.Sq(r, c), true
}

// generator appends the pseudo-legal moves of the piece on from.
type generator func(b *[game.NumSquares]game.Piece, from game.Square, side game.Side, out []game.Move) []game.Move

var generators = [game.NumKinds + 1]generator{
	game.General:  genGeneral,
	game.Advisor:  genAdvisor,
	game.Elephant: genElephant,
	game.Horse:    genHorse,
	game.Chariot:  genChariot,
	game.Cannon:   genCannon,
	game.Soldier:  genSoldier,
}

// canLand reports whether side may finish a move on sq (empty or enemy).
func canLand(b *[game.NumSquares]game.Piece, sq game.Square, side game.Side) bool {
	return !b[sq].Is(side)
}

func genGeneral(b *[game.NumSquares]game.Piece, from game.Square, side game.Side, out []game.Move) []game.Move {
	for _, d := range orthogonal {
		to, ok := offset(from, d)
		if ok && game.InPalace(side, to) && canLand(b, to, side) {
			out = append(out, game.Move{From: from, To: to})
		}
	}
	return out
}

func genAdvisor(b *[game.NumSquares]game.Piece, from game.Square, side game.Side, out []game.Move) []game.Move {
	for _, d := range diagonal {
		to, ok := offset(from, d)
		if ok && game.InPalace(side, to) && canLand(b, to, side) {
			out = append(out, game.Move{From: from, To: to})
		}
	}
	return out
}

func genElephant(b *[game.NumSquares]game.Piece, from game.Square, side game.Side, out []game.Move) []game.Move {
	for _, d := range diagonal {
		eye, ok := offset(from, d)
		if !ok || b[eye] != game.Empty {
			continue
		}
		to, ok := offset(from, dir{2 * d.dr, 2 * d.dc})
		if ok && game.OwnHalf(side, to) && canLand(b, to, side) {
			out = append(out, game.Move{From: from, To: to})
		}
	}
	return out
}

func genHorse(b *[game.NumSquares]game.Piece, from game.Square, side game.Side, out []game.Move) []game.Move {
	for _, j := range horseJumps {
		leg, ok := offset(from, j.leg)
		if !ok || b[leg] != game.Empty {
			continue
		}
		to, ok := offset(from, j.to)
		if ok && canLand(b, to, side) {
			out = append(out, game.Move{From: from, To: to})
		}
	}
	return out
}

func genChariot(b *[game.NumSquares]game.Piece, from game.Square, side game.Side, out []game.Move) []game.Move {
	for _, d := range orthogonal {
		to, ok := offset(from, d)
		for ok {
			if b[to] != game.Empty {
				if !b[to].Is(side) {
					out = append(out, game.Move{From: from, To: to})
				}
				break
			}
			out = append(out, game.Move{From: from, To: to})
			to, ok = offset(to, d)
		}
	}
	return out
}

func genCannon(b *[game.NumSquares]game.Piece, from game.Square, side game.Side, out []game.Move) []game.Move {
	for _, d := range orthogonal {
		to, ok := offset(from, d)
		for ok && b[to] == game.Empty {
			out = append(out, game.Move{From: from, To: to})
			to, ok = offset(to, d)
		}
		if !ok {
			continue
		}
		// to is the screen; capture the first piece beyond it.
		to, ok = offset(to, d)
		for ok {
			if b[to] != game.Empty {
				if !b[to].Is(side) {
					out = append(out, game.Move{From: from, To: to})
				}
				break
			}
			to, ok = offset(to, d)
		}
	}
	return out
}

func forward(side game.Side) int {
	if side == game.Red {
		return -1
	}
	return 1
}

func genSoldier(b *[game.NumSquares]game.Piece, from game.Square, side game.Side, out []game.Move) []game.Move {
	if to, ok := offset(from, dir{forward(side), 0}); ok && canLand(b, to, side) {
		out = append(out, game.Move{From: from, To: to})
	}
	if game.OwnHalf(side, from) {
		return out
	}
	for _, dc := range [2]int{-1, 1} {
		if to, ok := offset(from, dir{0, dc}); ok && canLand(b, to, side) {
			out = append(out, game.Move{From: from, To: to})
		}
	}
	return out
}

// PseudoLegalMoves returns every move that obeys piece geometry for the side
// to move, including moves that leave its own general in check.
func PseudoLegalMoves(s *game.State) []game.Move {
	out := make([]game.Move, 0, 64)
	for sq, p := range s.Board {
		if p == game.Empty || !p.Is(s.ToMove) {
			continue
		}
		out = generators[p.Kind()](&s.Board, game.Square(sq), s.ToMove, out)
	}
	return out
}

// InCheck reports whether side's general is attacked. Two generals facing
// each other on an open file count as check.
func InCheck(b *[game.NumSquares]game.Piece, side game.Side) bool {
	own := game.NewPiece(side, game.General)
	king := game.NoSquare
	for sq, p := range b {
		if p == own {
			king = game.Square(sq)
			break
		}
	}
	if king == game.NoSquare {
		return true
	}
	enemy := side.Other()

	// Lines: chariot or general on the first piece, cannon on the second.
	for _, d := range orthogonal {
		to, ok := offset(king, d)
		for ok && b[to] == game.Empty {
			to, ok = offset(to, d)
		}
		if !ok {
			continue
		}
		if p := b[to]; p.Is(enemy) {
			switch p.Kind() {
			case game.Chariot:
				return true
			case game.General:
				if d.dc == 0 {
					return true
				}
			}
		}
		to, ok = offset(to, d)
		for ok && b[to] == game.Empty {
			to, ok = offset(to, d)
		}
		if ok && b[to] == game.NewPiece(enemy, game.Cannon) {
			return true
		}
	}

	// Horses: the leg is the square diagonal to the general on the horse's side.
	enemyHorse := game.NewPiece(enemy, game.Horse)
	for _, j := range horseJumps {
		from, ok := offset(king, j.to)
		if !ok || b[from] != enemyHorse {
			continue
		}
		leg, _ := offset(king, dir{j.to.dr - j.leg.dr, j.to.dc - j.leg.dc})
		if b[leg] == game.Empty {
			return true
		}
	}

	// Soldiers attack forward, and sideways once across the river.
	enemySoldier := game.NewPiece(enemy, game.Soldier)
	if from, ok := offset(king, dir{-forward(enemy), 0}); ok && b[from] == enemySoldier {
		return true
	}
	for _, dc := range [2]int{-1, 1} {
		if from, ok := offset(king, dir{0, dc}); ok && b[from] == enemySoldier && !game.OwnHalf(enemy, from) {
			return true
		}
	}
	return false
}

// Make plays m in place without checking legality and returns it with the
// captured piece and any evicted history hash filled in, ready for Unmake.
func Make(s *game.State, m game.Move) game.Move {
	p := s.Board[m.From]
	m.Captured = s.Board[m.To]
	m.Dropped, m.HasDropped = s.PushHistory()
	s.Hash ^= game.PieceKey(m.From, p) ^ game.PieceKey(m.To, p) ^ game.PieceKey(m.To, m.Captured) ^ game.SideKey()
	s.Board[m.To] = p
	s.Board[m.From] = game.Empty
	s.ToMove = s.ToMove.Other()
	s.Ply++
	return m
}

// Unmake reverts a move returned by Make.
func Unmake(s *game.State, m game.Move) {
	p := s.Board[m.To]
	s.Board[m.From] = p
	s.Board[m.To] = m.Captured
	s.ToMove = s.ToMove.Other()
	s.Ply--
	s.Hash ^= game.PieceKey(m.From, p) ^ game.PieceKey(m.To, p) ^ game.PieceKey(m.To, m.Captured) ^ game.SideKey()
	s.PopHistory(m.Dropped, m.HasDropped)
}

// LegalMoves returns the moves of the side to move that do not leave its own
// general in check. It does not consider repetition or the move cap.
func LegalMoves(s *game.State) []game.Move {
	pseudo := PseudoLegalMoves(s)
	legal := pseudo[:0]
	mover := s.ToMove
	for _, m := range pseudo {
		// Board-only make: history and hash are not needed for the check test.
		captured := s.Board[m.To]
		s.Board[m.To] = s.Board[m.From]
		s.Board[m.From] = game.Empty
		ok := !InCheck(&s.Board, mover)
		s.Board[m.From] = s.Board[m.To]
		s.Board[m.To] = captured
		if ok {
			legal = append(legal, m)
		}
	}
	return legal
}

// IsLegal reports whether m is among LegalMoves(s).
func IsLegal(s *game.State, m game.Move) bool {
	if !m.From.Valid() || !m.To.Valid() || !s.Board[m.From].Is(s.ToMove) {
		return false
	}
	for _, l := range LegalMoves(s) {
		if l.Same(m) {
			return true
		}
	}
	return false
}

// Apply returns the successor of s after m, leaving s untouched.
func Apply(s *game.State, m game.Move) (*game.State, error) {
	if !IsLegal(s, m) {
		return nil, &IllegalMoveError{Move: game.Move{From: m.From, To: m.To}, FEN: s.FEN()}
	}
	next := s.Clone()
	Make(next, m)
	return next, nil
}

// Terminal reports whether s is over and with what result.
func Terminal(s *game.State) (bool, game.Result) {
	return Adjudicate(s, LegalMoves(s))
}

// Adjudicate is Terminal for callers that already generated the legal moves.
// Order: no legal move (loss for the side to move, checkmate or stalemate),
// threefold repetition, move cap.
func Adjudicate(s *game.State, legal []game.Move) (bool, game.Result) {
	if len(legal) == 0 {
		reason := game.Stalemate
		if InCheck(&s.Board, s.ToMove) {
			reason = game.Checkmate
		}
		return true, game.WinFor(s.ToMove.Other(), reason)
	}
	if s.Repetitions() >= 2 {
		return true, game.DrawBy(game.Repetition)
	}
	if s.MaxPlies > 0 && s.Ply >= s.MaxPlies {
		return true, game.DrawBy(game.MoveCap)
	}
	return false, game.Result{}
}

// Perft counts leaf nodes of the legal move tree to the given depth.
func Perft(s *game.State, depth int) int {
	if depth == 0 {
		return 1
	}
	moves := LegalMoves(s)
	if depth == 1 {
		return len(moves)
	}
	n := 0
	for _, m := range moves {
		u := Make(s, m)
		n += Perft(s, depth-1)
		Unmake(s, u)
	}
	return n
}
