package selfplay

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/rules"
)

// Config controls one self-play game.
type Config struct {
	MCTS     mcts.Config
	MaxPlies int
	// Temperature maps the ply about to be played to the decision
	// temperature. Nil means 1 throughout.
	Temperature func(ply int) float32
	// Trace, when set, receives a rendered board before every move.
	Trace  io.Writer
	Logger zerolog.Logger
}

// Entry is one recorded decision. Value is filled in once the game ends,
// from the point of view of ToMove.
type Entry struct {
	Board  [game.NumSquares]game.Piece
	ToMove game.Side
	Ply    int
	Moves  []game.Move
	Policy []float32
	Value  float32
}

// State rebuilds a position from the entry (without history).
func (e *Entry) State() *game.State {
	s := &game.State{Board: e.Board, ToMove: e.ToMove, Ply: e.Ply}
	s.Rehash()
	return s
}

type GameRecord struct {
	ID              string
	Entries         []Entry
	Played          []game.Move
	Result          game.Result
	Plies           int
	SnapshotVersion uint64
	WorkerID        int
	Duration        time.Duration
}

// PlayGame plays one game from the standard opening with client guiding the
// search at every ply, and returns the record with outcomes assigned.
func PlayGame(ctx context.Context, workerId int, cfg Config, client mcts.Predictor, rng *rand.Rand, onStep func()) (*GameRecord, error) {
	return PlayFrom(ctx, workerId, cfg, client, rng, game.NewInitialState(cfg.MaxPlies), onStep)
}

// PlayFrom is PlayGame from an arbitrary start position. start is not modified.
func PlayFrom(ctx context.Context, workerId int, cfg Config, client mcts.Predictor, rng *rand.Rand, start *game.State, onStep func()) (*GameRecord, error) {
	started := time.Now()
	state := start.Clone()
	search := mcts.MCTS{Config: cfg.MCTS, Client: client, Rng: rng}

	rec := &GameRecord{
		ID:       uuid.NewString(),
		Entries:  make([]Entry, 0, 128),
		WorkerID: workerId,
	}

	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		legal := rules.LegalMoves(state)
		if over, res := rules.Adjudicate(state, legal); over {
			rec.Result = res
			break
		}

		if cfg.Trace != nil {
			PrintBoard(cfg.Trace, state)
		}

		res, err := search.Search(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("search at ply %d: %w", state.Ply, err)
		}

		temp := float32(1)
		if cfg.Temperature != nil {
			temp = cfg.Temperature(state.Ply)
		}
		probs := res.Distribution(temp, rng)
		idx := mcts.Sample(rng, probs)
		move := res.Moves[idx]

		rec.Entries = append(rec.Entries, Entry{
			Board:  state.Board,
			ToMove: state.ToMove,
			Ply:    state.Ply,
			Moves:  res.Moves,
			Policy: probs,
		})

		if cfg.Trace != nil {
			fmt.Fprintf(cfg.Trace, "ply %d %s plays %s (p=%.2f visits=%d q=%.3f depth=%d)\n",
				state.Ply, state.ToMove, move, probs[idx], res.Visits[idx], res.Q[idx], res.MaxDepth)
		}

		next, err := rules.Apply(state, move)
		if err != nil {
			return nil, err
		}
		state = next
		rec.Played = append(rec.Played, move)

		if onStep != nil {
			onStep()
		}
	}

	for i := range rec.Entries {
		rec.Entries[i].Value = rec.Result.ValueFor(rec.Entries[i].ToMove)
	}
	rec.Plies = state.Ply
	rec.Duration = time.Since(started)

	if cfg.Trace != nil {
		PrintBoard(cfg.Trace, state)
		fmt.Fprintf(cfg.Trace, "result: %s after %d plies\n", rec.Result, rec.Plies)
	}
	cfg.Logger.Debug().
		Str("game_id", rec.ID).
		Int("worker", workerId).
		Int("plies", rec.Plies).
		Str("result", rec.Result.String()).
		Dur("took", rec.Duration).
		Msg("game finished")
	return rec, nil
}
