package mcts

import (
	"math/rand"
	"sync"

	"github.com/brensch/xqzero/game"
)

type nodeID int32

const noNode nodeID = -1

const (
	unexpanded uint8 = iota
	expanding        // an evaluation is in flight
	expanded
	terminal
)

// node is one arena slot. W is accumulated from the point of view of the
// player who made move, so the parent reads child Q directly.
type node struct {
	parent      nodeID
	move        game.Move
	prior       float32
	visits      int32
	valueSum    float32
	virtual     int32
	firstChild  nodeID
	numChildren int32
	status      uint8
	// terminalValue is exact and seen by the side to move at this node.
	terminalValue float32
}

// tree is an arena of nodes addressed by index. Root is index 0.
type tree struct {
	mu    sync.Mutex
	nodes []node
}

func newTree(capacity int) *tree {
	t := &tree{nodes: make([]node, 0, capacity)}
	t.nodes = append(t.nodes, node{parent: noNode, firstChild: noNode})
	return t
}

// addChildren appends a contiguous child block under id. Caller holds mu.
func (t *tree) addChildren(id nodeID, moves []game.Move, priors []float32) {
	first := nodeID(len(t.nodes))
	for i, m := range moves {
		t.nodes = append(t.nodes, node{parent: id, move: m, prior: priors[i], firstChild: noNode})
	}
	n := &t.nodes[id]
	n.firstChild = first
	n.numChildren = int32(len(moves))
	n.status = expanded
}

// Config holds MCTS configuration
type Config struct {
	Cpuct       float32
	Simulations int
	// DirichletEpsilon is the noise weight at the root; 0 disables noise.
	DirichletAlpha   float32
	DirichletEpsilon float32
	// Parallelism is the number of simulations kept in flight.
	Parallelism int
	VirtualLoss float32
}

func DefaultConfig() Config {
	return Config{
		Cpuct:            1.5,
		Simulations:      200,
		DirichletAlpha:   0.3,
		DirichletEpsilon: 0.25,
		Parallelism:      1,
		VirtualLoss:      1,
	}
}

// Predictor defines the interface for inference
type Predictor interface {
	Predict(state *game.State) ([]float32, []float32, error)
}

// MCTS holds the search context. Rng is only touched by the goroutine
// calling Search.
type MCTS struct {
	Config Config
	Client Predictor
	Rng    *rand.Rand
}
