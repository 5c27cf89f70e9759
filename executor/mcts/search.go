package mcts

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/rules"
)

// ErrTerminalRoot is returned when Search is asked to move in a finished game.
var ErrTerminalRoot = errors.New("search root is terminal")

// reserveSims bounds the simulations the node arena is sized for up front;
// larger searches grow it as they expand.
const reserveSims = 4096

// Result summarises the root after a search. Slices are aligned with Moves.
type Result struct {
	Moves  []game.Move
	Visits []int
	// Q is the mean value of each child from the root mover's view.
	Q []float32
	// Priors are the root priors after noise.
	Priors []float32
	// RootValue is the evaluator's value for the root (side to move).
	RootValue   float32
	Simulations int
	MaxDepth    int
	Collisions  int
	// Forced is set when the root had a single legal move and no search ran.
	Forced bool
}

// Search runs Config.Simulations simulations from root and returns the
// visit statistics of its children.
func (m *MCTS) Search(ctx context.Context, root *game.State) (*Result, error) {
	legal := rules.LegalMoves(root)
	if over, _ := rules.Adjudicate(root, legal); over {
		return nil, ErrTerminalRoot
	}
	if len(legal) == 1 {
		return &Result{
			Moves:  legal,
			Visits: []int{0},
			Q:      []float32{0},
			Priors: []float32{1},
			Forced: true,
		}, nil
	}

	priors, rootValue, err := inference.Evaluate(m.Client, root, legal)
	if err != nil {
		return nil, err
	}
	if m.Config.DirichletEpsilon > 0 && m.Config.DirichletAlpha > 0 && m.Rng != nil {
		priors = mixNoise(m.Rng, priors, m.Config.DirichletAlpha, m.Config.DirichletEpsilon)
	}

	t := newTree(1 + min(m.Config.Simulations, reserveSims)*len(legal))
	t.addChildren(0, legal, priors)

	s := &search{m: m, t: t, root: root}
	if err := s.run(ctx); err != nil {
		return nil, err
	}

	res := &Result{
		Moves:       legal,
		Visits:      make([]int, len(legal)),
		Q:           make([]float32, len(legal)),
		Priors:      priors,
		RootValue:   rootValue,
		Simulations: int(s.completed.Load()),
		MaxDepth:    int(s.maxDepth.Load()),
		Collisions:  int(s.collisions.Load()),
	}
	r := &t.nodes[0]
	for i := int32(0); i < r.numChildren; i++ {
		c := &t.nodes[r.firstChild+nodeID(i)]
		res.Visits[i] = int(c.visits)
		if c.visits > 0 {
			res.Q[i] = c.valueSum / float32(c.visits)
		}
	}
	return res, nil
}

type search struct {
	m    *MCTS
	t    *tree
	root *game.State

	started    atomic.Int64
	completed  atomic.Int64
	maxDepth   atomic.Int64
	collisions atomic.Int64
}

func (s *search) run(ctx context.Context) error {
	budget := int64(s.m.Config.Simulations)
	workers := s.m.Config.Parallelism
	if workers <= 1 {
		for s.completed.Load() < budget {
			if ctx != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			if _, err := s.simulate(); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		stop     atomic.Bool
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				if ctx != nil {
					select {
					case <-ctx.Done():
						errOnce.Do(func() { firstErr = ctx.Err() })
						stop.Store(true)
						return
					default:
					}
				}
				// Claim a slot; give it back on collision.
				if !s.claim(budget) {
					return
				}
				ok, err := s.simulate()
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					stop.Store(true)
					return
				}
				if !ok {
					s.started.Add(-1)
					runtime.Gosched()
				}
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (s *search) claim(budget int64) bool {
	for {
		cur := s.started.Load()
		if cur >= budget {
			return false
		}
		if s.started.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// selectChild picks the PUCT-maximising child of id. Caller holds mu.
func (s *search) selectChild(id nodeID) nodeID {
	t := s.t
	n := &t.nodes[id]
	vl := s.m.Config.VirtualLoss
	parentN := float32(n.visits + n.virtual)
	if parentN < 1 {
		parentN = 1
	}
	sqrtN := float32(math.Sqrt(float64(parentN)))

	best := n.firstChild
	bestScore := float32(math.Inf(-1))
	for i := int32(0); i < n.numChildren; i++ {
		cid := n.firstChild + nodeID(i)
		c := &t.nodes[cid]
		visits := float32(c.visits + c.virtual)
		q := float32(0)
		if visits > 0 {
			// In-flight simulations count as losses for the mover.
			q = (c.valueSum - vl*float32(c.virtual)) / visits
		}
		// PUCT formula
		// U(s,a) = Q(s,a) + C_puct * P(s,a) * sqrt(sum(N)) / (1 + N)
		u := q + s.m.Config.Cpuct*c.prior*sqrtN/(1+visits)
		if u > bestScore {
			bestScore = u
			best = cid
		}
	}
	return best
}

// backup adds v (seen by the side to move at the leaf) along path and
// releases the virtual loss. Caller holds mu.
func (s *search) backup(path []nodeID, v float32) {
	for i := len(path) - 1; i >= 0; i-- {
		n := &s.t.nodes[path[i]]
		// The leaf's W belongs to the player who moved into it.
		v = -v
		n.visits++
		n.valueSum += v
		n.virtual--
	}
	s.completed.Add(1)
	if d := int64(len(path) - 1); d > s.maxDepth.Load() {
		s.maxDepth.Store(d)
	}
}

func (s *search) release(path []nodeID) {
	for _, id := range path {
		s.t.nodes[id].virtual--
	}
}

// simulate runs one selection/expansion/backup pass. It reports false when
// it hit a node another simulation is expanding and backed out.
func (s *search) simulate() (bool, error) {
	t := s.t
	st := s.root.Clone()
	path := make([]nodeID, 0, 32)

	t.mu.Lock()
	id := nodeID(0)
	t.nodes[id].virtual++
	path = append(path, id)
	for t.nodes[id].status == expanded {
		id = s.selectChild(id)
		rules.Make(st, t.nodes[id].move)
		t.nodes[id].virtual++
		path = append(path, id)
	}

	switch t.nodes[id].status {
	case terminal:
		s.backup(path, t.nodes[id].terminalValue)
		t.mu.Unlock()
		return true, nil
	case expanding:
		s.release(path)
		s.collisions.Add(1)
		t.mu.Unlock()
		return false, nil
	}
	t.nodes[id].status = expanding
	t.mu.Unlock()

	legal := rules.LegalMoves(st)
	if over, res := rules.Adjudicate(st, legal); over {
		v := res.ValueFor(st.ToMove)
		t.mu.Lock()
		t.nodes[id].status = terminal
		t.nodes[id].terminalValue = v
		s.backup(path, v)
		t.mu.Unlock()
		return true, nil
	}

	priors, value, err := inference.Evaluate(s.m.Client, st, legal)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.nodes[id].status = unexpanded
		s.release(path)
		return false, err
	}
	t.addChildren(id, legal, priors)
	s.backup(path, value)
	return true, nil
}

// Distribution returns the move-decision distribution N^(1/T). A
// temperature at or below 1e-3 is one-hot on the most visited move, ties
// broken by rng (or the first such move when rng is nil).
func (r *Result) Distribution(temp float32, rng *rand.Rand) []float32 {
	out := make([]float32, len(r.Moves))
	if len(out) == 0 {
		return out
	}
	if r.Forced {
		out[0] = 1
		return out
	}

	total := 0
	for _, v := range r.Visits {
		total += v
	}
	if total == 0 {
		copy(out, r.Priors)
		return out
	}

	if temp <= 1e-3 {
		best := 0
		ties := 1
		for i := 1; i < len(r.Visits); i++ {
			switch {
			case r.Visits[i] > r.Visits[best]:
				best, ties = i, 1
			case r.Visits[i] == r.Visits[best]:
				ties++
				if rng != nil && rng.Intn(ties) == 0 {
					best = i
				}
			}
		}
		out[best] = 1
		return out
	}

	// Work in log space so large visit counts and small T do not overflow.
	inv := 1 / float64(temp)
	maxLog := math.Inf(-1)
	logs := make([]float64, len(r.Visits))
	for i, v := range r.Visits {
		if v == 0 {
			logs[i] = math.Inf(-1)
			continue
		}
		logs[i] = inv * math.Log(float64(v))
		if logs[i] > maxLog {
			maxLog = logs[i]
		}
	}
	sum := 0.0
	w := make([]float64, len(logs))
	for i, l := range logs {
		if math.IsInf(l, -1) {
			continue
		}
		w[i] = math.Exp(l - maxLog)
		sum += w[i]
	}
	for i := range out {
		out[i] = float32(w[i] / sum)
	}
	return out
}

// Sample draws an index from probs.
func Sample(rng *rand.Rand, probs []float32) int {
	r := rng.Float32()
	cumulative := float32(0)
	last := 0
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		last = i
		cumulative += p
		if r < cumulative {
			return i
		}
	}
	return last // rounding fallback
}

// Best returns the index of the most visited move.
func (r *Result) Best() int {
	return argmax(r.Distribution(0, nil))
}

func argmax(xs []float32) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}
