package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/xqzero/arena"
	"github.com/brensch/xqzero/config"
	"github.com/brensch/xqzero/executor/selfplay"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/network"
	"github.com/brensch/xqzero/replay"
	"github.com/brensch/xqzero/store"
)

// Run drives the configured mode until ctx ends or, in alternating mode,
// the configured number of generations is done.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info().
		Str("mode", p.cfg.Mode).
		Str("best", p.Best().String()).
		Int("workers", p.cfg.Workers).
		Int("simulations", p.cfg.Simulations).
		Msg("pipeline starting")
	if p.cfg.Mode == config.ModeConcurrent {
		return p.RunConcurrent(ctx)
	}
	return p.RunAlternating(ctx)
}

// RunAlternating repeats: play a generation of games, train one checkpoint
// interval, gate the candidate.
func (p *Pipeline) RunAlternating(ctx context.Context) error {
	for gen := 0; p.cfg.Generations == 0 || gen < p.cfg.Generations; gen++ {
		if ctx.Err() != nil {
			return nil
		}
		rc := p.selfPlayConfig(p.cfg.GamesPerGeneration)
		if rc.Seed != 0 {
			rc.Seed += int64(gen) * 7777
		}
		if err := p.playAndIngest(ctx, rc, 0); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if _, err := p.registry.AddCounter(counterGenerations, 1); err != nil {
			return err
		}

		if p.buf.Len() < p.cfg.MinEntriesBeforeTrain {
			p.log.Info().Int("gen", gen).Int("buffer", p.buf.Len()).Int("need", p.cfg.MinEntriesBeforeTrain).Msg("not enough positions to train yet")
			continue
		}
		mark := p.trainer.StepCount()
		err := p.trainer.Run(ctx, p.buf, p.cfg.CheckpointInterval, p.gate)
		if _, rerr := p.recordTrainSteps(mark); err == nil {
			err = rerr
		}
		if err != nil {
			return err
		}
		p.log.Info().Int("gen", gen).Str("best", p.Best().String()).Int("buffer", p.buf.Len()).Msg("generation done")
	}
	return nil
}

// RunConcurrent runs self-play against the current best while training and
// gating proceed in parallel. Promotion swaps the best wholesale; games in
// flight finish on the snapshot they started with.
func (p *Pipeline) RunConcurrent(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.playAndIngest(ctx, p.selfPlayConfig(0), p.flushGames)
	})
	g.Go(func() error {
		mark := p.trainer.StepCount()
		err := p.trainer.Run(ctx, p.buf, 0, func(ctx context.Context, c *network.Snapshot, path string) error {
			var err error
			if mark, err = p.recordTrainSteps(mark); err != nil {
				return err
			}
			return p.gate(ctx, c, path)
		})
		if _, rerr := p.recordTrainSteps(mark); err == nil {
			err = rerr
		}
		return err
	})
	return g.Wait()
}

// recordTrainSteps persists the steps trained since mark and returns the
// new mark.
func (p *Pipeline) recordTrainSteps(mark int64) (int64, error) {
	now := p.trainer.StepCount()
	if now == mark {
		return now, nil
	}
	_, err := p.registry.AddCounter(counterTrainSteps, now-mark)
	return now, err
}

// playAndIngest runs self-play until it stops and feeds every record to the
// buffer and to parquet shards of at most flushEvery games (0 = one shard).
func (p *Pipeline) playAndIngest(ctx context.Context, rc selfplay.RunConfig, flushEvery int) error {
	records := make(chan *selfplay.GameRecord, 2*max(rc.Workers, 1))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return selfplay.Run(gctx, rc, p.source, records)
	})
	g.Go(func() error {
		return p.ingest(records, flushEvery)
	})
	return g.Wait()
}

// ingest consumes records until the channel closes. It deliberately ignores
// ctx so that every game already played reaches disk.
func (p *Pipeline) ingest(records <-chan *selfplay.GameRecord, flushEvery int) error {
	var w *store.ShardWriter
	flush := func() error {
		if w == nil {
			return nil
		}
		info, err := w.Close()
		w = nil
		if err != nil {
			return err
		}
		if info.Games == 0 {
			return nil
		}
		if _, err := p.registry.AddCounter(counterGames, int64(info.Games)); err != nil {
			return err
		}
		p.log.Info().Str("shard", filepath.Base(info.Path)).Int("games", info.Games).Int("rows", info.Rows).Msg("parquet flush ok")
		return nil
	}

	for rec := range records {
		entries, err := replay.FromRecord(rec)
		if err != nil {
			return err
		}
		p.buf.Add(entries...)

		if w == nil {
			if w, err = store.NewShardWriter(p.gamesDir, "selfplay"); err != nil {
				return err
			}
		}
		if err := w.Add(rec, "selfplay"); err != nil {
			return err
		}

		p.counters.Games.Add(1)
		p.counters.Positions.Add(int64(len(entries)))
		p.counters.BufferLen.Store(int64(p.buf.Len()))
		winner, ok := rec.Result.Winner()
		p.counters.Outcome(winner == game.Red, ok)
		p.event("game %s: %s after %d plies (v%d)", rec.ID[:8], rec.Result, rec.Plies, rec.SnapshotVersion)

		if flushEvery > 0 && w.Games() >= flushEvery {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// gate registers a candidate, plays it against the best and either promotes
// it or (optionally) resets the trainer to the best.
func (p *Pipeline) gate(ctx context.Context, candidate *network.Snapshot, path string) error {
	best := p.Best()
	p.counters.Candidates.Add(1)
	meta := store.SnapshotMeta{
		Version: candidate.Version,
		Step:    candidate.Step,
		Path:    path,
		Parent:  best.Version,
		Created: candidate.Created,
	}

	var report arena.Report
	if p.cfg.ArenaGames == 0 {
		// No gating: every candidate becomes the best.
		report = arena.Report{Promoted: true}
	} else {
		var err error
		report, err = arena.Evaluate(ctx, p.arenaConfig(), candidate, best)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("arena %s vs %s: %w", candidate, best, err)
		}
	}
	meta.Score, meta.Games = report.Score, report.Games
	p.counters.SetArenaScore(report.Score)
	if err := p.registry.PutSnapshot(meta); err != nil {
		return err
	}

	if report.Promoted {
		if err := p.registry.SetBest(candidate.Version); err != nil {
			return err
		}
		p.best.Store(candidate)
		p.counters.Promotions.Add(1)
		p.counters.BestVersion.Store(candidate.Version)
		p.log.Info().Str("candidate", candidate.String()).Str("replaced", best.String()).Str("arena", report.String()).Msg("promoted")
		p.event("promoted %s over %s (%s)", candidate, best, report)
		return nil
	}

	p.counters.Rejections.Add(1)
	p.log.Info().Str("candidate", candidate.String()).Str("best", best.String()).Str("arena", report.String()).Msg("rejected")
	p.event("rejected %s against %s (%s)", candidate, best, report)
	if p.cfg.ResetOnReject {
		p.trainer.ResetTo(best)
	}
	return nil
}

// RunExternal trains on shards written by a separate self-play process into
// dir, polling for new shards every interval. Loaded shards are marked in the
// registry so a restart does not load them twice.
func (p *Pipeline) RunExternal(ctx context.Context, dir string, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	loader := &replay.Loader{
		Dir:    dir,
		Buffer: p.buf,
		Ledger: p.registry,
		Logger: p.log.With().Str("component", "loader").Logger(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			n, err := loader.Poll()
			if err != nil {
				return err
			}
			if n > 0 {
				p.counters.Positions.Add(int64(n))
				p.counters.BufferLen.Store(int64(p.buf.Len()))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	g.Go(func() error {
		return p.trainer.Run(ctx, p.buf, 0, p.gate)
	})
	return g.Wait()
}
