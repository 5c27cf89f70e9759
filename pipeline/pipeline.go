package pipeline

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/xqzero/arena"
	"github.com/brensch/xqzero/config"
	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/executor/selfplay"
	"github.com/brensch/xqzero/network"
	"github.com/brensch/xqzero/replay"
	"github.com/brensch/xqzero/store"
	"github.com/brensch/xqzero/telemetry"
	"github.com/brensch/xqzero/trainer"
)

// Registry counter names.
const (
	counterGames       = "games"
	counterGenerations = "generations"
	counterTrainSteps  = "train_steps"
)

// Pipeline ties self-play, the replay buffer, training and the arena gate
// together around one "best" snapshot.
type Pipeline struct {
	cfg      config.Config
	schedule *config.Schedule
	log      zerolog.Logger
	counters *telemetry.Counters
	events   chan<- string

	best     atomic.Pointer[network.Snapshot]
	buf      *replay.Buffer
	trainer  *trainer.Trainer
	registry *store.Registry

	gamesDir string
	ckptDir  string
	// flushGames bounds how many games go into one shard in concurrent mode.
	flushGames int
}

type Options struct {
	Config   config.Config
	Logger   zerolog.Logger
	Counters *telemetry.Counters
	// Events, when set, receives one human-readable line per notable event.
	// Sends never block.
	Events chan<- string
}

func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	schedule, err := config.CompileSchedule(cfg.TemperatureSchedule)
	if err != nil {
		return nil, err
	}
	counters := opts.Counters
	if counters == nil {
		counters = telemetry.NewCounters()
	}

	p := &Pipeline{
		cfg:        cfg,
		schedule:   schedule,
		log:        opts.Logger,
		counters:   counters,
		events:     opts.Events,
		buf:        replay.New(cfg.ReplayCapacity, cfg.MinEntriesBeforeTrain),
		gamesDir:   filepath.Join(cfg.DataDir, "games"),
		ckptDir:    filepath.Join(cfg.DataDir, "checkpoints"),
		flushGames: 50,
	}
	for _, dir := range []string{p.gamesDir, p.ckptDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	p.registry, err = store.OpenRegistry(filepath.Join(cfg.DataDir, "registry"))
	if err != nil {
		return nil, err
	}
	best, err := p.loadBest()
	if err != nil {
		_ = p.registry.Close()
		return nil, err
	}
	p.best.Store(best)
	counters.BestVersion.Store(best.Version)

	if saved, err := p.registry.Counters(); err == nil {
		counters.Games.Store(saved[counterGames])
		counters.TrainSteps.Store(saved[counterTrainSteps])
	}

	p.trainer = trainer.New(p.trainerConfig(), best, rand.New(rand.NewSource(p.seed()+1)))
	metas, err := p.registry.Snapshots()
	if err != nil {
		_ = p.registry.Close()
		return nil, err
	}
	if len(metas) > 0 {
		p.trainer.SetVersion(metas[len(metas)-1].Version)
	}
	return p, nil
}

func (p *Pipeline) seed() int64 {
	if p.cfg.Seed != 0 {
		return p.cfg.Seed
	}
	return time.Now().UnixNano()
}

// loadBest restores the promoted snapshot, or creates and registers a fresh
// random network as version 0.
func (p *Pipeline) loadBest() (*network.Snapshot, error) {
	meta, ok, err := p.registry.Best()
	if err != nil {
		return nil, err
	}
	if ok {
		snap, err := network.Load(meta.Path)
		if err != nil {
			return nil, fmt.Errorf("load best v%d: %w", meta.Version, err)
		}
		if snap.Arch().Hidden != p.cfg.HiddenSize || snap.Arch().ValueHidden != p.cfg.ValueHiddenSize {
			p.log.Warn().
				Int("hidden", snap.Arch().Hidden).
				Int("value_hidden", snap.Arch().ValueHidden).
				Msg("best checkpoint architecture differs from config; keeping checkpoint")
		}
		p.log.Info().Str("best", snap.String()).Str("path", meta.Path).Msg("resumed")
		return snap, nil
	}

	arch := network.DefaultArch()
	arch.Hidden = p.cfg.HiddenSize
	arch.ValueHidden = p.cfg.ValueHiddenSize
	net, err := network.New(arch, rand.New(rand.NewSource(p.seed())))
	if err != nil {
		return nil, err
	}
	snap := network.NewSnapshot(net, 0, 0)
	path := network.CheckpointPath(p.ckptDir, 0)
	if err := network.Save(path, snap); err != nil {
		return nil, err
	}
	if err := p.registry.PutSnapshot(store.SnapshotMeta{Version: 0, Path: path, Created: snap.Created}); err != nil {
		return nil, err
	}
	if err := p.registry.SetBest(0); err != nil {
		return nil, err
	}
	p.log.Info().Int("params", arch.NumParams()).Msg("initialised fresh network")
	return snap, nil
}

func (p *Pipeline) Close() error {
	return p.registry.Close()
}

// Best is the snapshot self-play currently uses.
func (p *Pipeline) Best() *network.Snapshot { return p.best.Load() }

func (p *Pipeline) Buffer() *replay.Buffer { return p.buf }

func (p *Pipeline) Registry() *store.Registry { return p.registry }

func (p *Pipeline) Counters() *telemetry.Counters { return p.counters }

func (p *Pipeline) GamesDir() string { return p.gamesDir }

func (p *Pipeline) event(format string, args ...any) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- fmt.Sprintf(format, args...):
	default:
	}
}

func (p *Pipeline) mctsConfig() mcts.Config {
	return mcts.Config{
		Cpuct:            p.cfg.Cpuct,
		Simulations:      p.cfg.Simulations,
		DirichletAlpha:   p.cfg.DirichletAlpha,
		DirichletEpsilon: p.cfg.DirichletEpsilon,
		Parallelism:      p.cfg.SearchParallelism,
		VirtualLoss:      p.cfg.VirtualLoss,
	}
}

func (p *Pipeline) trainerConfig() trainer.Config {
	return trainer.Config{
		BatchSize:          p.cfg.BatchSize,
		LearningRate:       p.cfg.LearningRate,
		L2:                 p.cfg.L2,
		CheckpointInterval: p.cfg.CheckpointInterval,
		Dir:                p.ckptDir,
		MaxDivergences:     10,
		OnStep: func(_ int64, loss network.Loss) {
			p.counters.TrainSteps.Add(1)
			p.counters.SetLoss(loss.Total)
		},
		OnReject: func(*trainer.NumericDivergenceError) {
			p.counters.Divergences.Add(1)
		},
		Logger: p.log.With().Str("component", "trainer").Logger(),
	}
}

func (p *Pipeline) arenaConfig() arena.Config {
	return arena.Config{
		Games:       p.cfg.ArenaGames,
		Simulations: p.cfg.ArenaSimulations,
		Cpuct:       p.cfg.Cpuct,
		Parallelism: p.cfg.SearchParallelism,
		Workers:     p.cfg.ArenaWorkers,
		MaxPlies:    p.cfg.MaxPlies,
		Threshold:   p.cfg.PromotionThreshold,
		Seed:        p.cfg.Seed,
		Logger:      p.log.With().Str("component", "arena").Logger(),
	}
}

// source hands each new game the current best, counted into telemetry.
func (p *Pipeline) source() (mcts.Predictor, uint64) {
	best := p.best.Load()
	return &inference.Counting{Inner: best, Shared: &p.counters.Inferences}, best.Version
}

func (p *Pipeline) selfPlayConfig(games int) selfplay.RunConfig {
	return selfplay.RunConfig{
		Game: selfplay.Config{
			MCTS:        p.mctsConfig(),
			MaxPlies:    p.cfg.MaxPlies,
			Temperature: p.schedule.At,
			Logger:      p.log.With().Str("component", "selfplay").Logger(),
		},
		Workers: p.cfg.Workers,
		Games:   games,
		Seed:    p.cfg.Seed,
		OnStep:  func() { p.counters.Moves.Add(1) },
	}
}
