package replay

import (
	"fmt"

	"github.com/brensch/xqzero/executor/convert"
	"github.com/brensch/xqzero/executor/selfplay"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/network"
	"github.com/brensch/xqzero/store"
)

// Entry is one training position. The policy target is sparse over the move
// encoding oriented for ToMove. Entries are never mutated once built.
type Entry struct {
	Board      [game.NumSquares]game.Piece
	ToMove     game.Side
	PolicyIdx  []int32
	PolicyProb []float32
	Value      float32
}

func newEntry(board [game.NumSquares]game.Piece, side game.Side, moves []game.Move, probs []float32, value float32) (Entry, error) {
	if len(moves) != len(probs) {
		return Entry{}, fmt.Errorf("entry: %d moves, %d probs", len(moves), len(probs))
	}
	e := Entry{
		Board:      board,
		ToMove:     side,
		PolicyIdx:  make([]int32, 0, len(moves)),
		PolicyProb: make([]float32, 0, len(moves)),
		Value:      value,
	}
	for i, m := range moves {
		if probs[i] == 0 {
			continue
		}
		idx := convert.MoveIndex(m, side)
		if idx < 0 {
			return Entry{}, fmt.Errorf("entry: move %s has no encoding", m)
		}
		e.PolicyIdx = append(e.PolicyIdx, int32(idx))
		e.PolicyProb = append(e.PolicyProb, probs[i])
	}
	return e, nil
}

// FromRecord converts every decision of a finished game.
func FromRecord(rec *selfplay.GameRecord) ([]Entry, error) {
	out := make([]Entry, 0, len(rec.Entries))
	for i := range rec.Entries {
		r := &rec.Entries[i]
		e, err := newEntry(r.Board, r.ToMove, r.Moves, r.Policy, r.Value)
		if err != nil {
			return nil, fmt.Errorf("game %s ply %d: %w", rec.ID, r.Ply, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// FromRow converts a stored parquet row.
func FromRow(row *store.GameRow) (Entry, error) {
	s, err := row.Position()
	if err != nil {
		return Entry{}, err
	}
	moves := make([]game.Move, len(row.Moves))
	for i, v := range row.Moves {
		moves[i] = store.DecodeMove(v)
	}
	return newEntry(s.Board, s.ToMove, moves, row.Policy, row.Value)
}

// Example builds the network input for the entry. The policy slices are
// shared with the entry and must not be modified.
func (e *Entry) Example() network.Example {
	return network.Example{
		Active:     convert.ActiveFeatures(&e.Board, e.ToMove, make([]int32, 0, convert.MaxActive)),
		PolicyIdx:  e.PolicyIdx,
		PolicyProb: e.PolicyProb,
		Value:      e.Value,
	}
}
