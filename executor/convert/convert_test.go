package convert

import (
	"math/rand"
	"testing"

	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/rules"
)

func TestMoveIndexRoundTrip(t *testing.T) {
	for _, side := range []game.Side{game.Red, game.Black} {
		for idx := 0; idx < PolicySize; idx++ {
			m := IndexMove(idx, side)
			if got := MoveIndex(m, side); got != idx {
				t.Fatalf("%s: MoveIndex(IndexMove(%d))=%d", side, idx, got)
			}
		}
	}
}

func TestEveryLegalMoveIsEncoded(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for g := 0; g < 30; g++ {
		s := game.NewInitialState(150)
		for {
			moves := rules.LegalMoves(s)
			if over, _ := rules.Adjudicate(s, moves); over {
				break
			}
			for _, m := range moves {
				if MoveIndex(m, s.ToMove) < 0 {
					t.Fatalf("move %s for %s has no encoding in %s", m, s.ToMove, s.FEN())
				}
			}
			rules.Make(s, moves[rng.Intn(len(moves))])
		}
	}
}

func TestOrientationMirrorsSides(t *testing.T) {
	// Red's central cannon and Black's mirrored reply share an encoding.
	red := game.Move{From: game.Sq(7, 7), To: game.Sq(7, 4)}
	black := game.Move{From: game.Sq(2, 7), To: game.Sq(2, 4)}
	if MoveIndex(red, game.Red) != MoveIndex(black, game.Black) {
		t.Fatalf("mirrored moves should share an index")
	}
	if MoveIndex(game.Move{From: 0, To: 50}, game.Red) != -1 {
		t.Fatalf("impossible move should have no index")
	}
}

func TestFeaturesFromMoverView(t *testing.T) {
	s := game.NewInitialState(0)
	active := ActiveFeatures(&s.Board, s.ToMove, nil)
	if len(active) != 32 {
		t.Fatalf("expected 32 active features, got %d", len(active))
	}

	// Swapping colours and flipping the board leaves the mover's view unchanged.
	for _, str := range []string{"h2e2", "h7e7"} {
		m, _ := game.ParseMove(str)
		rules.Make(s, m)
	}
	redView := StateToFloat32(s)
	defer PutFloatBuffer(redView)
	flipped := s.Clone()
	for sq := range flipped.Board {
		flipped.Board[sq] = 0
	}
	for sq, p := range s.Board {
		if p != 0 {
			flipped.Board[Orient(game.Square(sq), game.Black)] = -p
		}
	}
	flipped.ToMove = game.Black
	blackView := StateToFloat32(flipped)
	defer PutFloatBuffer(blackView)
	for i := range *redView {
		if (*redView)[i] != (*blackView)[i] {
			t.Fatalf("feature %d differs between mirrored positions", i)
		}
	}
}

func TestPolicyVector(t *testing.T) {
	s := game.NewInitialState(0)
	moves := rules.LegalMoves(s)
	probs := make([]float32, len(moves))
	for i := range probs {
		probs[i] = 1 / float32(len(probs))
	}
	vec, err := PolicyVector(moves, probs, s.ToMove)
	if err != nil {
		t.Fatal(err)
	}
	sum := float32(0)
	for _, v := range vec {
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("policy vector sums to %f", sum)
	}
	if _, err := PolicyVector(moves, probs[:1], s.ToMove); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}

func BenchmarkStateToFloat32(b *testing.B) {
	s := game.NewInitialState(0)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := StateToFloat32(s)
		PutFloatBuffer(buf)
	}
}
