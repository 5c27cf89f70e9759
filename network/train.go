package network

import (
	"github.com/chewxy/math32"
)

// Example is one training sample: sparse input, sparse policy target over
// the move encoding, and the value target in [-1, 1].
type Example struct {
	Active     []int32
	PolicyIdx  []int32
	PolicyProb []float32
	Value      float32
}

// Loss components averaged over a batch.
type Loss struct {
	Total  float32
	Value  float32
	Policy float32
	L2     float32
}

// Finite reports whether every component is a finite number.
func (l Loss) Finite() bool {
	return finite(l.Total) && finite(l.Value) && finite(l.Policy) && finite(l.L2)
}

func finite(x float32) bool { return !math32.IsNaN(x) && !math32.IsInf(x, 0) }

// AllFinite reports whether xs holds no NaN or Inf.
func AllFinite(xs []float32) bool {
	for _, x := range xs {
		if !finite(x) {
			return false
		}
	}
	return true
}

// Gradients computes the batch loss
//
//	mean((v - z)^2) + mean(-sum(pi * log p)) + l2 * sum(w^2)
//
// and writes d(loss)/d(params) into grads, which must have NumParams entries.
func (n *Net) Gradients(batch []Example, l2 float32, grads []float32) Loss {
	clear(grads)
	var loss Loss
	if len(batch) == 0 {
		return loss
	}
	a, p, l := n.Arch, n.Params, n.l
	H := a.Hidden
	inv := 1 / float32(len(batch))

	act := n.newActivations()
	probs := make([]float32, a.Policy)
	dh := make([]float32, H)
	dvPre := make([]float32, a.ValueHidden)

	for _, ex := range batch {
		n.forward(ex.Active, act)

		// Policy: softmax cross-entropy against the sparse target.
		maxL := act.logits[0]
		for _, x := range act.logits[1:] {
			if x > maxL {
				maxL = x
			}
		}
		sum := float32(0)
		for k, x := range act.logits {
			e := math32.Exp(x - maxL)
			probs[k] = e
			sum += e
		}
		lse := maxL + math32.Log(sum)
		targetMass := float32(0)
		for i, idx := range ex.PolicyIdx {
			pi := ex.PolicyProb[i]
			loss.Policy -= pi * (act.logits[idx] - lse) * inv
			targetMass += pi
		}
		// dL/dlogit_k = mass*p_k - pi_k.
		scale := targetMass / sum
		for k := range probs {
			probs[k] *= scale
		}
		for i, idx := range ex.PolicyIdx {
			probs[idx] -= ex.PolicyProb[i]
		}

		clear(dh)
		for k := 0; k < a.Policy; k++ {
			g := probs[k] * inv
			if g == 0 {
				continue
			}
			grads[l.bp+k] += g
			row := p[l.wp+k*H : l.wp+k*H+H]
			grow := grads[l.wp+k*H : l.wp+k*H+H]
			for j := range row {
				grow[j] += g * act.h[j]
				dh[j] += g * row[j]
			}
		}

		// Value: squared error through tanh.
		diff := act.value - ex.Value
		loss.Value += diff * diff * inv
		dOut := 2 * diff * (1 - act.value*act.value) * inv
		grads[l.bv2] += dOut
		for k := 0; k < a.ValueHidden; k++ {
			grads[l.wv2+k] += dOut * act.vHid[k]
			if act.vPre[k] > 0 {
				dvPre[k] = dOut * p[l.wv2+k]
			} else {
				dvPre[k] = 0
			}
		}
		for k := 0; k < a.ValueHidden; k++ {
			g := dvPre[k]
			if g == 0 {
				continue
			}
			grads[l.bv1+k] += g
			row := p[l.wv1+k*H : l.wv1+k*H+H]
			grow := grads[l.wv1+k*H : l.wv1+k*H+H]
			for j := range row {
				grow[j] += g * act.h[j]
				dh[j] += g * row[j]
			}
		}

		// Trunk.
		for j := range dh {
			if act.hPre[j] <= 0 {
				dh[j] = 0
			}
		}
		for j, g := range dh {
			grads[l.b1+j] += g
		}
		for _, f := range ex.Active {
			grow := grads[l.w1+int(f)*H : l.w1+int(f)*H+H]
			for j, g := range dh {
				grow[j] += g
			}
		}
	}

	if l2 > 0 {
		for i, w := range p {
			loss.L2 += l2 * w * w
			grads[i] += 2 * l2 * w
		}
	}
	loss.Total = loss.Value + loss.Policy + loss.L2
	return loss
}
