package network

import (
	"errors"
	"math"

	"github.com/chewxy/math32"
)

// ErrNonFinite is returned by Adam.Step when the proposed update contains a
// NaN or Inf. Parameters and moments are left unchanged.
var ErrNonFinite = errors.New("non-finite update")

type Adam struct {
	M, V  []float32 // First and second moment estimates
	LR    float32
	Beta1 float32 // Typically 0.9
	Beta2 float32 // Typically 0.999
	Eps   float32
	T     int // Timestep (for bias correction)

	nextP, nextM, nextV []float32
}

func NewAdam(numParams int, lr float32) *Adam {
	return &Adam{
		M:     make([]float32, numParams),
		V:     make([]float32, numParams),
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
	}
}

// Reset clears the moment estimates, e.g. after the parameters were
// replaced wholesale.
func (opt *Adam) Reset() {
	clear(opt.M)
	clear(opt.V)
	opt.T = 0
}

// Step applies one update. The new parameters and moments are computed into
// scratch buffers first and only committed when all of them are finite.
func (opt *Adam) Step(params, grads []float32) error {
	if opt.nextP == nil {
		opt.nextP = make([]float32, len(params))
		opt.nextM = make([]float32, len(params))
		opt.nextV = make([]float32, len(params))
	}
	t := opt.T + 1

	// Bias correction factors
	bc1 := 1 - float32(math.Pow(float64(opt.Beta1), float64(t)))
	bc2 := 1 - float32(math.Pow(float64(opt.Beta2), float64(t)))

	for i, g := range grads {
		m := opt.Beta1*opt.M[i] + (1-opt.Beta1)*g
		v := opt.Beta2*opt.V[i] + (1-opt.Beta2)*g*g
		p := params[i] - opt.LR*(m/bc1)/(math32.Sqrt(v/bc2)+opt.Eps)
		if !finite(p) || !finite(m) || !finite(v) {
			return ErrNonFinite
		}
		opt.nextP[i], opt.nextM[i], opt.nextV[i] = p, m, v
	}

	copy(params, opt.nextP)
	opt.M, opt.nextM = opt.nextM, opt.M
	opt.V, opt.nextV = opt.nextV, opt.V
	opt.T = t
	return nil
}
