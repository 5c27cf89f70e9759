package network

import (
	"fmt"
	"time"

	"github.com/brensch/xqzero/executor/convert"
	"github.com/brensch/xqzero/game"
)

// Snapshot is an immutable, versioned parameter set. Self-play and the arena
// only ever read snapshots; the trainer publishes new ones.
type Snapshot struct {
	Version uint64
	Step    int64
	Created time.Time
	net     *Net
}

// NewSnapshot freezes a copy of n.
func NewSnapshot(n *Net, version uint64, step int64) *Snapshot {
	return &Snapshot{Version: version, Step: step, Created: time.Now(), net: n.Clone()}
}

func (s *Snapshot) Arch() Arch { return s.net.Arch }

// Net returns a mutable copy of the snapshot's parameters.
func (s *Snapshot) Net() *Net { return s.net.Clone() }

func (s *Snapshot) String() string {
	return fmt.Sprintf("v%d@%d", s.Version, s.Step)
}

// Predict implements the search predictor contract: raw policy logits over
// the move encoding oriented for the side to move, and a one-element value.
func (s *Snapshot) Predict(state *game.State) ([]float32, []float32, error) {
	buf := convert.GetActiveBuffer()
	active := convert.ActiveFeatures(&state.Board, state.ToMove, *buf)
	logits, value := s.net.Forward(active)
	*buf = active
	convert.PutActiveBuffer(buf)
	return logits, []float32{value}, nil
}
