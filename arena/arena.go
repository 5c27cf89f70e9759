package arena

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/rules"
)

type Config struct {
	Games int
	// Simulations per move; 0 plays the raw policy argmax.
	Simulations int
	Cpuct       float32
	// Parallelism is the in-tree parallelism of each search.
	Parallelism int
	Workers     int
	MaxPlies    int
	Threshold   float64
	Seed        int64
	Logger      zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Games:       40,
		Simulations: 100,
		Cpuct:       1.5,
		Parallelism: 1,
		Workers:     4,
		MaxPlies:    300,
		Threshold:   0.55,
	}
}

// Report is the match result from the candidate's point of view.
type Report struct {
	Games    int
	Wins     int
	Losses   int
	Draws    int
	Score    float64
	Promoted bool
	Duration time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("+%d -%d =%d score=%.3f promoted=%v", r.Wins, r.Losses, r.Draws, r.Score, r.Promoted)
}

// Score is (wins + draws/2) / games.
func Score(wins, draws, games int) float64 {
	if games <= 0 {
		return 0
	}
	return (float64(wins) + float64(draws)/2) / float64(games)
}

// Promote reports whether score strictly clears the threshold.
func Promote(score, threshold float64) bool { return score > threshold }

type player struct {
	cfg    Config
	client mcts.Predictor
}

func (p *player) choose(ctx context.Context, s *game.State, legal []game.Move, rng *rand.Rand) (game.Move, error) {
	if len(legal) == 1 {
		return legal[0], nil
	}
	if p.cfg.Simulations == 0 {
		priors, _, err := inference.Evaluate(p.client, s, legal)
		if err != nil {
			return game.Move{}, err
		}
		best := 0
		for i, pr := range priors {
			if pr > priors[best] {
				best = i
			}
		}
		return legal[best], nil
	}
	search := mcts.MCTS{
		Config: mcts.Config{
			Cpuct:       p.cfg.Cpuct,
			Simulations: p.cfg.Simulations,
			Parallelism: p.cfg.Parallelism,
			VirtualLoss: 1,
		},
		Client: p.client,
		Rng:    rng,
	}
	res, err := search.Search(ctx, s)
	if err != nil {
		return game.Move{}, err
	}
	return res.Moves[mcts.Sample(rng, res.Distribution(0, rng))], nil
}

// PlayGame plays one game between red and black and returns the result.
func PlayGame(ctx context.Context, cfg Config, red, black mcts.Predictor, rng *rand.Rand) (game.Result, int, error) {
	players := [2]*player{{cfg: cfg, client: red}, {cfg: cfg, client: black}}
	s := game.NewInitialState(cfg.MaxPlies)
	for {
		if err := ctx.Err(); err != nil {
			return game.Result{}, s.Ply, err
		}
		legal := rules.LegalMoves(s)
		if over, res := rules.Adjudicate(s, legal); over {
			return res, s.Ply, nil
		}
		m, err := players[s.ToMove].choose(ctx, s, legal, rng)
		if err != nil {
			return game.Result{}, s.Ply, fmt.Errorf("ply %d: %w", s.Ply, err)
		}
		next, err := rules.Apply(s, m)
		if err != nil {
			return game.Result{}, s.Ply, err
		}
		s = next
	}
}

// Evaluate plays cfg.Games games between candidate and best, alternating
// colours, and decides promotion.
func Evaluate(ctx context.Context, cfg Config, candidate, best mcts.Predictor) (Report, error) {
	started := time.Now()
	var wins, losses, draws atomic.Int64
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < cfg.Games; i++ {
		gameNum := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed + int64(gameNum)*7919))
			candidateSide := game.Red
			red, black := candidate, best
			if gameNum%2 == 1 {
				candidateSide = game.Black
				red, black = best, candidate
			}
			res, plies, err := PlayGame(gctx, cfg, red, black, rng)
			if err != nil {
				return err
			}
			switch v := res.ValueFor(candidateSide); {
			case v > 0:
				wins.Add(1)
			case v < 0:
				losses.Add(1)
			default:
				draws.Add(1)
			}
			cfg.Logger.Debug().
				Int("game", gameNum).
				Str("candidate", candidateSide.String()).
				Str("result", res.String()).
				Int("plies", plies).
				Msg("arena game")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	r := Report{
		Games:    cfg.Games,
		Wins:     int(wins.Load()),
		Losses:   int(losses.Load()),
		Draws:    int(draws.Load()),
		Duration: time.Since(started),
	}
	r.Score = Score(r.Wins, r.Draws, r.Games)
	r.Promoted = Promote(r.Score, cfg.Threshold)
	cfg.Logger.Info().
		Int("wins", r.Wins).
		Int("losses", r.Losses).
		Int("draws", r.Draws).
		Float64("score", r.Score).
		Bool("promoted", r.Promoted).
		Dur("took", r.Duration).
		Msg("arena finished")
	return r, nil
}
