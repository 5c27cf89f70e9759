package convert

import (
	"fmt"
	"sync"

	"github.com/brensch/xqzero/game"
)

const (
	Rows     = game.Rows
	Cols     = game.Cols
	Channels = 2 * game.NumKinds
	// FloatSize is the dense input length: Channels planes of Rows x Cols.
	FloatSize = Channels * Rows * Cols
	// MaxActive bounds the number of set input features (32 pieces).
	MaxActive = 32
)

// Orient maps sq into the side-to-move frame: Black's board is flipped
// vertically so the mover always plays "up" from rows 7-9.
func Orient(sq game.Square, side game.Side) game.Square {
	if side == game.Red {
		return sq
	}
	return game.Sq(Rows-1-sq.Row(), sq.Col())
}

// FeatureIndex is the input slot for piece p on sq, seen by side.
// Planes 0..6 hold the mover's kinds, 7..13 the opponent's.
func FeatureIndex(p game.Piece, sq game.Square, side game.Side) int {
	plane := int(p.Kind()) - 1
	if !p.Is(side) {
		plane += game.NumKinds
	}
	return plane*Rows*Cols + int(Orient(sq, side))
}

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

var activePool = sync.Pool{
	New: func() interface{} {
		b := make([]int32, 0, MaxActive)
		return &b
	},
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

func GetActiveBuffer() *[]int32 {
	return activePool.Get().(*[]int32)
}

func PutActiveBuffer(b *[]int32) {
	*b = (*b)[:0]
	activePool.Put(b)
}

// ActiveFeatures appends the indices of the non-zero input features of a
// board seen by side. Every feature is a one-hot 1.0.
func ActiveFeatures(board *[game.NumSquares]game.Piece, side game.Side, out []int32) []int32 {
	for sq, p := range board {
		if p == game.Empty {
			continue
		}
		out = append(out, int32(FeatureIndex(p, game.Square(sq), side)))
	}
	return out
}

// StateToFloat32 encodes the state into a pooled dense float32 slice suitable
// for ONNX input. Output shape: [Channels, Rows, Cols].
// Caller must return it to pool using PutFloatBuffer.
func StateToFloat32(s *game.State) *[]float32 {
	dataPtr := GetFloatBuffer()
	data := *dataPtr
	clear(data)
	for sq, p := range s.Board {
		if p == game.Empty {
			continue
		}
		data[FeatureIndex(p, game.Square(sq), s.ToMove)] = 1
	}
	return dataPtr
}

// PolicyVector scatters a distribution over legal moves into the fixed
// encoding space, oriented for side.
func PolicyVector(moves []game.Move, probs []float32, side game.Side) ([]float32, error) {
	if len(moves) != len(probs) {
		return nil, fmt.Errorf("policy vector: %d moves, %d probs", len(moves), len(probs))
	}
	out := make([]float32, PolicySize)
	for i, m := range moves {
		idx := MoveIndex(m, side)
		if idx < 0 {
			return nil, fmt.Errorf("policy vector: move %s has no encoding", m)
		}
		out[idx] += probs[i]
	}
	return out, nil
}
