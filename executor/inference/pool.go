package inference

import (
	"fmt"
	"sync/atomic"

	"github.com/brensch/xqzero/game"
)

// OnnxPool spreads Predict calls over several sessions, each with its own
// batcher, so batches can run in parallel on the device. A call goes to the
// session with the shortest queue, starting the scan at a rotating offset.
type OnnxPool struct {
	clients []*OnnxClient
	next    atomic.Uint64
}

func NewOnnxClientPoolWithConfig(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	sessions = max(sessions, 1)
	p := &OnnxPool{clients: make([]*OnnxClient, 0, sessions)}
	for i := range sessions {
		c, err := NewOnnxClientWithConfig(modelPath, cfg)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("session %d/%d: %w", i+1, sessions, err)
		}
		p.clients = append(p.clients, c)
	}
	return p, nil
}

func (p *OnnxPool) pick() *OnnxClient {
	n := len(p.clients)
	start := int(p.next.Add(1) % uint64(n))
	best := p.clients[start]
	for i := 1; i < n && len(best.requests) > 0; i++ {
		c := p.clients[(start+i)%n]
		if len(c.requests) < len(best.requests) {
			best = c
		}
	}
	return best
}

func (p *OnnxPool) Predict(state *game.State) ([]float32, []float32, error) {
	if len(p.clients) == 0 {
		return nil, nil, ErrClientClosed
	}
	return p.pick().Predict(state)
}

// Stats sums the sessions' counters; LastBatchSize is the largest.
func (p *OnnxPool) Stats() RuntimeStats {
	var st RuntimeStats
	for _, c := range p.clients {
		st.add(c.Stats())
	}
	st.finish()
	return st
}

func (p *OnnxPool) Close() error {
	var first error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
