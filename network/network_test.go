package network

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/xqzero/executor/convert"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/rules"
)

func smallArch() Arch {
	a := DefaultArch()
	a.Hidden = 16
	a.ValueHidden = 4
	return a
}

func newTestNet(t *testing.T) *Net {
	t.Helper()
	n, err := New(smallArch(), rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func startExample(t *testing.T, value float32) Example {
	t.Helper()
	s := game.NewInitialState(0)
	moves := rules.LegalMoves(s)
	idx := int32(convert.MoveIndex(moves[0], s.ToMove))
	return Example{
		Active:     convert.ActiveFeatures(&s.Board, s.ToMove, nil),
		PolicyIdx:  []int32{idx},
		PolicyProb: []float32{1},
		Value:      value,
	}
}

func TestPredictShapes(t *testing.T) {
	snap := NewSnapshot(newTestNet(t), 1, 0)
	logits, value, err := snap.Predict(game.NewInitialState(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(logits) != convert.PolicySize || len(value) != 1 {
		t.Fatalf("got %d logits, %d values", len(logits), len(value))
	}
	if value[0] < -1 || value[0] > 1 {
		t.Fatalf("value %f out of range", value[0])
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	n := newTestNet(t)
	batch := []Example{startExample(t, 0.8)}
	grads := make([]float32, len(n.Params))
	opt := NewAdam(len(n.Params), 1e-2)

	first := n.Gradients(batch, 1e-5, grads)
	var last Loss
	for i := 0; i < 60; i++ {
		last = n.Gradients(batch, 1e-5, grads)
		if err := opt.Step(n.Params, grads); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	last = n.Gradients(batch, 1e-5, grads)
	if !last.Finite() {
		t.Fatalf("loss not finite: %+v", last)
	}
	if last.Total >= first.Total*0.5 {
		t.Fatalf("loss did not fall enough: %f -> %f", first.Total, last.Total)
	}
}

func TestAdamRejectsNonFinite(t *testing.T) {
	n := newTestNet(t)
	before := n.Clone()
	grads := make([]float32, len(n.Params))
	grads[len(grads)/2] = float32(math.NaN())
	opt := NewAdam(len(n.Params), 1e-3)
	if err := opt.Step(n.Params, grads); !errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected ErrNonFinite, got %v", err)
	}
	for i := range n.Params {
		if n.Params[i] != before.Params[i] {
			t.Fatalf("param %d changed after a rejected step", i)
		}
	}
	if opt.T != 0 {
		t.Fatalf("timestep advanced on a rejected step")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	snap := NewSnapshot(newTestNet(t), 7, 1234)
	path := CheckpointPath(t.TempDir(), snap.Version)
	if err := Save(path, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != 7 || got.Step != 1234 || got.Arch() != snap.Arch() {
		t.Fatalf("metadata mismatch: %v %+v", got, got.Arch())
	}
	for i := range snap.net.Params {
		if got.net.Params[i] != snap.net.Params[i] {
			t.Fatalf("param %d: %v != %v", i, got.net.Params[i], snap.net.Params[i])
		}
	}
}

func TestCheckpointCorruption(t *testing.T) {
	snap := NewSnapshot(newTestNet(t), 1, 1)
	good := Encode(snap)

	cases := map[string][]byte{
		"empty":     {},
		"magic":     append([]byte("NOPE"), good[4:]...),
		"truncated": good[:len(good)-10],
		"flipped":   func() []byte { b := append([]byte(nil), good...); b[len(b)-5] ^= 0xff; return b }(),
		"trailing":  append(append([]byte(nil), good...), 0),
	}
	for name, data := range cases {
		_, err := Decode(name, data)
		var cce *CorruptCheckpointError
		if !errors.As(err, &cce) {
			t.Errorf("%s: expected CorruptCheckpointError, got %v", name, err)
		}
	}

	path := filepath.Join(t.TempDir(), "bad.xqz")
	if err := os.WriteFile(path, cases["flipped"], 0o644); err != nil {
		t.Fatal(err)
	}
	if s, err := Load(path); err == nil || s != nil {
		t.Fatalf("Load accepted a corrupt file")
	}
}

func TestArchMismatch(t *testing.T) {
	a := smallArch()
	if _, err := FromParams(a, make([]float32, 3)); err == nil {
		t.Fatalf("expected param count error")
	}
	a.Policy = 10
	if _, err := New(a, rand.New(rand.NewSource(1))); err == nil {
		t.Fatalf("expected arch validation error")
	}
}

func BenchmarkForward(b *testing.B) {
	n, _ := New(DefaultArch(), rand.New(rand.NewSource(1)))
	s := game.NewInitialState(0)
	active := convert.ActiveFeatures(&s.Board, s.ToMove, nil)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = n.Forward(active)
	}
}
