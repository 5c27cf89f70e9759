package game

var (
	zobristPieces [NumSquares][2*NumKinds + 1]uint64
	zobristSide   uint64
)

func init() {
	// splitmix64 with a fixed seed so hashes are stable across runs.
	x := uint64(0x9e3779b97f4a7c15)
	next := func() uint64 {
		x += 0x9e3779b97f4a7c15
		z := x
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		return z ^ (z >> 31)
	}
	for sq := range zobristPieces {
		for p := range zobristPieces[sq] {
			zobristPieces[sq][p] = next()
		}
	}
	zobristSide = next()
}

// PieceKey is the zobrist key for p standing on sq. Empty squares hash to 0.
func PieceKey(sq Square, p Piece) uint64 {
	if p == Empty {
		return 0
	}
	return zobristPieces[sq][int(p)+NumKinds]
}

// SideKey is xored in when Black is to move.
func SideKey() uint64 { return zobristSide }

func ComputeHash(b *[NumSquares]Piece, toMove Side) uint64 {
	var h uint64
	for sq, p := range b {
		h ^= PieceKey(Square(sq), p)
	}
	if toMove == Black {
		h ^= zobristSide
	}
	return h
}
