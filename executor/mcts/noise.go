package mcts

import (
	"math"
	"math/rand"
)

// sampleGamma draws from Gamma(alpha, 1) (Marsaglia and Tsang).
func sampleGamma(rng *rand.Rand, alpha float64) float64 {
	if alpha < 1 {
		// Boost: Gamma(a) = Gamma(a+1) * U^(1/a).
		return sampleGamma(rng, alpha+1) * math.Pow(rng.Float64(), 1/alpha)
	}
	d := alpha - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// dirichlet draws a symmetric Dirichlet(alpha) vector of length n.
func dirichlet(rng *rand.Rand, alpha float64, n int) []float32 {
	out := make([]float32, n)
	sum := 0.0
	draws := make([]float64, n)
	for i := range draws {
		draws[i] = sampleGamma(rng, alpha)
		sum += draws[i]
	}
	if sum <= 0 {
		for i := range out {
			out[i] = 1 / float32(n)
		}
		return out
	}
	for i, g := range draws {
		out[i] = float32(g / sum)
	}
	return out
}

// mixNoise returns (1-eps)*p + eps*Dir(alpha).
func mixNoise(rng *rand.Rand, priors []float32, alpha, eps float32) []float32 {
	noise := dirichlet(rng, float64(alpha), len(priors))
	out := make([]float32, len(priors))
	for i, p := range priors {
		out[i] = (1-eps)*p + eps*noise[i]
	}
	return out
}
