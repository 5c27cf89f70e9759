package inference

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/brensch/xqzero/executor/convert"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/rules"
)

type fixedPredictor struct {
	logits []float32
	value  float32
	err    error
}

func (f fixedPredictor) Predict(*game.State) ([]float32, []float32, error) {
	return f.logits, []float32{f.value}, f.err
}

func TestEvaluateMasksIllegalMoves(t *testing.T) {
	s := game.NewInitialState(0)
	legal := rules.LegalMoves(s)

	logits := make([]float32, convert.PolicySize)
	for i := range logits {
		logits[i] = 50 // illegal slots would dominate if not masked
	}
	for _, m := range legal {
		logits[convert.MoveIndex(m, s.ToMove)] = 0
	}
	logits[convert.MoveIndex(legal[3], s.ToMove)] = 2

	priors, value, err := Evaluate(fixedPredictor{logits: logits, value: 0.25}, s, legal)
	if err != nil {
		t.Fatal(err)
	}
	if value != 0.25 {
		t.Fatalf("value=%f", value)
	}
	sum := float32(0)
	for _, p := range priors {
		sum += p
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Fatalf("priors sum to %f", sum)
	}
	for i, p := range priors {
		if i != 3 && p >= priors[3] {
			t.Fatalf("move %d prior %f not below the boosted move %f", i, p, priors[3])
		}
	}
}

func TestEvaluateDegenerateFallsBackToUniform(t *testing.T) {
	s := game.NewInitialState(0)
	legal := rules.LegalMoves(s)
	logits := make([]float32, convert.PolicySize)
	for i := range logits {
		logits[i] = float32(math.NaN())
	}
	priors, value, err := Evaluate(fixedPredictor{logits: logits, value: 7}, s, legal)
	if err != nil {
		t.Fatal(err)
	}
	if value != 1 {
		t.Fatalf("value should be clamped, got %f", value)
	}
	for _, p := range priors {
		if p != 1/float32(len(legal)) {
			t.Fatalf("expected uniform priors, got %v", priors)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	s := game.NewInitialState(0)
	legal := rules.LegalMoves(s)
	boom := errors.New("boom")
	if _, _, err := Evaluate(fixedPredictor{err: boom}, s, legal); !errors.Is(err, boom) {
		t.Fatalf("expected predictor error, got %v", err)
	}
	if _, _, err := Evaluate(fixedPredictor{logits: make([]float32, 4)}, s, legal); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestCounting(t *testing.T) {
	var shared atomic.Int64
	c := &Counting{Inner: Uniform{}, Shared: &shared}
	other := &Counting{Inner: Uniform{}, Shared: &shared}
	s := game.NewInitialState(0)
	for i := 0; i < 3; i++ {
		if _, _, err := c.Predict(s); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := other.Predict(s); err != nil {
		t.Fatal(err)
	}
	if c.Calls() != 3 || other.Calls() != 1 {
		t.Fatalf("Calls()=%d/%d", c.Calls(), other.Calls())
	}
	if shared.Load() != 4 {
		t.Fatalf("shared=%d", shared.Load())
	}
}

func BenchmarkLegalPriors(b *testing.B) {
	s := game.NewInitialState(0)
	legal := rules.LegalMoves(s)
	logits := make([]float32, convert.PolicySize)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = LegalPriors(logits, s.ToMove, legal)
	}
}
