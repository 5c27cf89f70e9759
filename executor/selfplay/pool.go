package selfplay

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/xqzero/executor/mcts"
)

// Source hands out the predictor a new game should use and its version. It
// is read once per game, so a swap only affects games started afterwards.
type Source func() (mcts.Predictor, uint64)

type RunConfig struct {
	Game    Config
	Workers int
	// Games stops the run after this many completed games; 0 runs until ctx
	// is cancelled.
	Games int
	Seed  int64
	// OnStep is called after every move on any worker.
	OnStep func()
}

// Run plays games on Workers goroutines and sends each finished record to
// out. It returns when Games are done, ctx ends, or a game fails.
func Run(ctx context.Context, cfg RunConfig, source Source, out chan<- *GameRecord) error {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var claimed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		workerID := w
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed + int64(workerID)*1000003))
			for {
				if ctx.Err() != nil {
					return nil
				}
				if cfg.Games > 0 && claimed.Add(1) > int64(cfg.Games) {
					return nil
				}
				client, version := source()
				rec, err := PlayGame(ctx, workerID, cfg.Game, client, rng, cfg.OnStep)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				rec.SnapshotVersion = version
				select {
				case out <- rec:
				case <-ctx.Done():
					return nil
				}
			}
		})
	}
	return g.Wait()
}
