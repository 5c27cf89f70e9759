package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/xqzero/config"
	"github.com/brensch/xqzero/store"
)

func smallConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Simulations = 4
	cfg.MaxPlies = 8
	cfg.Workers = 2
	cfg.GamesPerGeneration = 2
	cfg.Generations = 2
	cfg.ReplayCapacity = 1000
	cfg.MinEntriesBeforeTrain = 4
	cfg.BatchSize = 4
	cfg.CheckpointInterval = 2
	cfg.HiddenSize = 8
	cfg.ValueHiddenSize = 4
	cfg.ArenaGames = 2
	cfg.ArenaSimulations = 0
	cfg.ArenaWorkers = 2
	cfg.Seed = 11
	return cfg
}

func TestAlternatingGenerations(t *testing.T) {
	cfg := smallConfig(t)
	events := make(chan string, 64)
	p, err := New(Options{Config: cfg, Logger: zerolog.Nop(), Events: events})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Best().Version != 0 {
		t.Fatalf("fresh pipeline best = %s", p.Best())
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := p.Counters().Snapshot()
	if stats.Games != 4 {
		t.Fatalf("games = %d, want 4", stats.Games)
	}
	if stats.Candidates != 2 || stats.Promotions+stats.Rejections != 2 {
		t.Fatalf("gating counters %+v", stats)
	}
	if stats.TrainSteps != 4 {
		t.Fatalf("train steps = %d", stats.TrainSteps)
	}
	if saved, err := p.Registry().Counters(); err != nil || saved[counterTrainSteps] != 4 {
		t.Fatalf("registered train steps = %v, %v", saved, err)
	}
	if int64(p.Buffer().Len()) != stats.Positions {
		t.Fatalf("buffer %d, positions %d", p.Buffer().Len(), stats.Positions)
	}

	shards, err := store.ListShards(p.GamesDir())
	if err != nil || len(shards) != 2 {
		t.Fatalf("shards = %v, %v", shards, err)
	}
	metas, err := p.Registry().Snapshots()
	if err != nil || len(metas) != 3 {
		t.Fatalf("registered snapshots = %+v, %v", metas, err)
	}
	if metas[1].Games != 2 || metas[2].Parent > metas[2].Version {
		t.Fatalf("candidate metadata %+v", metas[1:])
	}
	bestVersion := p.Best().Version
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("no events emitted")
	}

	// A restart resumes from the registered best and keeps numbering.
	p, err = New(Options{Config: cfg, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p.Close()
	if p.Best().Version != bestVersion {
		t.Fatalf("resumed best v%d, want v%d", p.Best().Version, bestVersion)
	}
	if got := p.Counters().Snapshot().Games; got != 4 {
		t.Fatalf("resumed games counter = %d", got)
	}
	snap, _, err := p.trainer.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if snap.Version != 3 {
		t.Fatalf("next candidate v%d, want v3", snap.Version)
	}
}

func TestUngatedPromotesEveryCandidate(t *testing.T) {
	cfg := smallConfig(t)
	cfg.ArenaGames = 0
	cfg.Generations = 1
	p, err := New(Options{Config: cfg, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Best().Version != 1 {
		t.Fatalf("best = %s, want v1", p.Best())
	}
	meta, ok, err := p.Registry().Best()
	if err != nil || !ok || meta.Version != 1 {
		t.Fatalf("registry best = %+v %v %v", meta, ok, err)
	}
}

func TestConcurrentModeStopsOnCancel(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Mode = config.ModeConcurrent
	p, err := New(Options{Config: cfg, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	p.flushGames = 2

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.Counters().Snapshot().Games == 0 {
		t.Fatalf("no games played")
	}
	shards, err := store.ListShards(p.GamesDir())
	if err != nil || len(shards) == 0 {
		t.Fatalf("no shards written: %v", err)
	}
	// Steps after the last checkpoint count too.
	saved, err := p.Registry().Counters()
	if err != nil || saved[counterTrainSteps] != p.trainer.StepCount() {
		t.Fatalf("registered train steps %v, trainer at %d (%v)", saved, p.trainer.StepCount(), err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Mode = "never"
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatalf("invalid config accepted")
	}
}

func TestRunExternalLoadsShards(t *testing.T) {
	// Produce shards with one pipeline, train from them with another.
	producer := smallConfig(t)
	producer.Generations = 1
	producer.MinEntriesBeforeTrain = 1000 // play only
	p, err := New(Options{Config: producer, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New producer: %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("producer Run: %v", err)
	}
	gamesDir := p.GamesDir()
	positions := p.Counters().Snapshot().Positions
	_ = p.Close()

	consumer := smallConfig(t)
	c, err := New(Options{Config: consumer, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New consumer: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.RunExternal(ctx, gamesDir, 50*time.Millisecond); err != nil {
		t.Fatalf("RunExternal: %v", err)
	}
	if int64(c.Buffer().Len()) != positions {
		t.Fatalf("loaded %d positions, want %d", c.Buffer().Len(), positions)
	}
	if c.Counters().Snapshot().TrainSteps == 0 {
		t.Fatalf("no training steps ran")
	}
}
