// Package network is a small pure-Go policy/value network for Xiangqi.
//
// Input is the sparse one-hot plane encoding from executor/convert. A single
// ReLU trunk feeds a policy head over the fixed move encoding and a value
// head squashed with tanh. All parameters live in one flat float32 slice so
// the optimizer and checkpoints can treat them uniformly.
package network

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/brensch/xqzero/executor/convert"
)

// ArchID names the parameter layout. It is written into checkpoints.
const ArchID = "xq-mlp-v1"

type Arch struct {
	Input       int
	Hidden      int
	ValueHidden int
	Policy      int
}

func DefaultArch() Arch {
	return Arch{Input: convert.FloatSize, Hidden: 128, ValueHidden: 32, Policy: convert.PolicySize}
}

func (a Arch) Validate() error {
	if a.Input != convert.FloatSize || a.Policy != convert.PolicySize {
		return fmt.Errorf("arch %+v does not match the board encoding (%d inputs, %d moves)", a, convert.FloatSize, convert.PolicySize)
	}
	if a.Hidden <= 0 || a.ValueHidden <= 0 {
		return fmt.Errorf("arch %+v: hidden sizes must be positive", a)
	}
	return nil
}

// layout holds offsets of each tensor in the flat parameter slice.
type layout struct {
	w1, b1   int // [Input][Hidden], [Hidden]
	wp, bp   int // [Policy][Hidden], [Policy]
	wv1, bv1 int // [ValueHidden][Hidden], [ValueHidden]
	wv2, bv2 int // [ValueHidden], [1]
	total    int
}

func (a Arch) layout() layout {
	var l layout
	off := 0
	next := func(n int) int {
		o := off
		off += n
		return o
	}
	l.w1 = next(a.Input * a.Hidden)
	l.b1 = next(a.Hidden)
	l.wp = next(a.Policy * a.Hidden)
	l.bp = next(a.Policy)
	l.wv1 = next(a.ValueHidden * a.Hidden)
	l.bv1 = next(a.ValueHidden)
	l.wv2 = next(a.ValueHidden)
	l.bv2 = next(1)
	l.total = off
	return l
}

// NumParams is the length of the flat parameter vector for a.
func (a Arch) NumParams() int { return a.layout().total }

// Net is a parameter set. It is not safe to mutate while other goroutines
// run Forward on it; snapshots wrap a Net nobody mutates.
type Net struct {
	Arch   Arch
	Params []float32
	l      layout
}

// New builds a randomly initialised network (He-style uniform init).
func New(arch Arch, rng *rand.Rand) (*Net, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	n := &Net{Arch: arch, l: arch.layout()}
	n.Params = make([]float32, n.l.total)
	fill := func(off, count, fanIn int) {
		limit := math32.Sqrt(6 / float32(fanIn))
		for i := 0; i < count; i++ {
			n.Params[off+i] = (rng.Float32()*2 - 1) * limit
		}
	}
	// The first layer sees ~32 active inputs, not Input.
	fill(n.l.w1, arch.Input*arch.Hidden, convert.MaxActive)
	fill(n.l.wp, arch.Policy*arch.Hidden, arch.Hidden)
	fill(n.l.wv1, arch.ValueHidden*arch.Hidden, arch.Hidden)
	fill(n.l.wv2, arch.ValueHidden, arch.ValueHidden)
	// Start the policy head near uniform.
	for i := 0; i < arch.Policy*arch.Hidden; i++ {
		n.Params[n.l.wp+i] *= 0.1
	}
	return n, nil
}

// FromParams wraps an existing parameter vector.
func FromParams(arch Arch, params []float32) (*Net, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	l := arch.layout()
	if len(params) != l.total {
		return nil, fmt.Errorf("arch %+v wants %d params, got %d", arch, l.total, len(params))
	}
	return &Net{Arch: arch, Params: params, l: l}, nil
}

// Clone deep-copies the parameters.
func (n *Net) Clone() *Net {
	p := make([]float32, len(n.Params))
	copy(p, n.Params)
	return &Net{Arch: n.Arch, Params: p, l: n.l}
}

// CopyFrom overwrites n's parameters with o's. Shapes must match.
func (n *Net) CopyFrom(o *Net) {
	copy(n.Params, o.Params)
}

func tanh(x float32) float32 {
	if x > 20 {
		return 1
	}
	if x < -20 {
		return -1
	}
	e := math32.Exp(2 * x)
	return (e - 1) / (e + 1)
}

// activations holds the intermediates of one forward pass.
type activations struct {
	hPre, h    []float32
	logits     []float32
	vPre, vHid []float32
	value      float32
}

func (n *Net) newActivations() *activations {
	a := n.Arch
	return &activations{
		hPre:   make([]float32, a.Hidden),
		h:      make([]float32, a.Hidden),
		logits: make([]float32, a.Policy),
		vPre:   make([]float32, a.ValueHidden),
		vHid:   make([]float32, a.ValueHidden),
	}
}

// forward runs the network on a sparse one-hot input.
func (n *Net) forward(active []int32, act *activations) {
	a, p, l := n.Arch, n.Params, n.l
	H := a.Hidden

	copy(act.hPre, p[l.b1:l.b1+H])
	for _, f := range active {
		row := p[l.w1+int(f)*H : l.w1+int(f)*H+H]
		for j, w := range row {
			act.hPre[j] += w
		}
	}
	for j, x := range act.hPre {
		if x > 0 {
			act.h[j] = x
		} else {
			act.h[j] = 0
		}
	}

	for k := 0; k < a.Policy; k++ {
		row := p[l.wp+k*H : l.wp+k*H+H]
		sum := p[l.bp+k]
		for j, w := range row {
			sum += w * act.h[j]
		}
		act.logits[k] = sum
	}

	out := p[l.bv2]
	for k := 0; k < a.ValueHidden; k++ {
		row := p[l.wv1+k*H : l.wv1+k*H+H]
		sum := p[l.bv1+k]
		for j, w := range row {
			sum += w * act.h[j]
		}
		act.vPre[k] = sum
		if sum > 0 {
			act.vHid[k] = sum
		} else {
			act.vHid[k] = 0
		}
		out += p[l.wv2+k] * act.vHid[k]
	}
	act.value = tanh(out)
}

// Forward returns policy logits over the move encoding and the value for a
// sparse input. The logits slice is freshly allocated.
func (n *Net) Forward(active []int32) ([]float32, float32) {
	act := n.newActivations()
	n.forward(active, act)
	return act.logits, act.value
}
