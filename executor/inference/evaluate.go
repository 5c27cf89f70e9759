package inference

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/brensch/xqzero/executor/convert"
	"github.com/brensch/xqzero/game"
)

// Predictor returns raw policy logits over the move encoding (oriented for
// the side to move) and a value slice whose first element is in [-1, 1].
type Predictor interface {
	Predict(state *game.State) ([]float32, []float32, error)
}

// Evaluate turns raw network output into priors over legal and a scalar
// value for the side to move. Illegal moves get no mass; the softmax over
// the legal logits is renormalised, falling back to uniform when it is
// degenerate.
func Evaluate(p Predictor, s *game.State, legal []game.Move) ([]float32, float32, error) {
	logits, values, err := p.Predict(s)
	if err != nil {
		return nil, 0, err
	}
	if len(logits) != convert.PolicySize {
		return nil, 0, fmt.Errorf("predictor returned %d logits, want %d", len(logits), convert.PolicySize)
	}
	value := float32(0)
	if len(values) > 0 {
		value = values[0]
	}
	if math.IsNaN(float64(value)) {
		value = 0
	}
	if value > 1 {
		value = 1
	} else if value < -1 {
		value = -1
	}
	return LegalPriors(logits, s.ToMove, legal), value, nil
}

// LegalPriors is the masked softmax used by Evaluate.
func LegalPriors(logits []float32, side game.Side, legal []game.Move) []float32 {
	priors := make([]float32, len(legal))
	if len(legal) == 0 {
		return priors
	}
	maxV := float32(math.Inf(-1))
	for i, m := range legal {
		idx := convert.MoveIndex(m, side)
		v := float32(math.Inf(-1))
		if idx >= 0 {
			v = logits[idx]
		}
		priors[i] = v
		if v > maxV {
			maxV = v
		}
	}
	sum := float32(0)
	if !math.IsInf(float64(maxV), 0) && !math.IsNaN(float64(maxV)) {
		for i, v := range priors {
			e := float32(math.Exp(float64(v - maxV)))
			if math.IsNaN(float64(e)) {
				e = 0
			}
			priors[i] = e
			sum += e
		}
	}
	if sum <= 0 || math.IsNaN(float64(sum)) || math.IsInf(float64(sum), 0) {
		u := 1 / float32(len(legal))
		for i := range priors {
			priors[i] = u
		}
		return priors
	}
	inv := 1 / sum
	for i := range priors {
		priors[i] *= inv
	}
	return priors
}

// Uniform predicts flat logits and a neutral value.
type Uniform struct{}

func (Uniform) Predict(*game.State) ([]float32, []float32, error) {
	return make([]float32, convert.PolicySize), []float32{0}, nil
}

// Counting wraps a predictor and counts calls. Shared, when set, is also
// incremented so several wrappers can feed one process-wide counter.
type Counting struct {
	Inner  Predictor
	Shared *atomic.Int64
	calls  atomic.Int64
}

func (c *Counting) Predict(s *game.State) ([]float32, []float32, error) {
	c.calls.Add(1)
	if c.Shared != nil {
		c.Shared.Add(1)
	}
	return c.Inner.Predict(s)
}

func (c *Counting) Calls() int64 { return c.calls.Load() }
