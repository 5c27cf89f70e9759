// Command executor is the standalone self-play generator. It plays games
// against one fixed predictor and writes them as parquet shards for a
// trainer running elsewhere (cmd/train -external-games).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/xqzero/internal/cli"
	"github.com/brensch/xqzero/config"
	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/executor/selfplay"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/store"
	"github.com/brensch/xqzero/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	sets := cli.Sets{}
	configPath := flag.String("config", cli.GetEnvOrDefault("XQ_CONFIG", ""), "JSON config file")
	flag.Var(sets, "set", "Override a config key (key=value, repeatable)")
	outDir := flag.String("out-dir", cli.GetEnvOrDefault("OUT_DIR", filepath.Join("data", "generated")), "Output directory for generated parquet shards")
	gamesPerFlush := flag.Int("games-per-flush", cli.GetEnvIntOrDefault("GAMES_PER_FLUSH", 50), "Number of games per parquet shard")
	maxGames := flag.Int("max-games", 0, "If > 0, stop after generating this many games (across all workers)")
	checkpoint := flag.String("checkpoint", "", "Snapshot file to play with (default: registry best in data_dir)")
	onnxModel := flag.String("onnx-model", cli.GetEnvOrDefault("ONNX_MODEL", ""), "Use an exported ONNX model instead of a snapshot")
	onnxSessions := flag.Int("onnx-sessions", 1, "Number of ONNX Runtime sessions to run in parallel (each has its own batching loop)")
	onnxBatchSize := flag.Int("onnx-batch-size", inference.DefaultBatchSize, "ONNX inference batch size")
	onnxBatchTimeout := flag.Duration("onnx-batch-timeout", inference.DefaultBatchTimeout, "Max time to wait for filling an ONNX batch")
	onnxCPU := flag.Bool("onnx-cpu", cli.GetEnvBoolOrDefault("ONNX_CPU", false), "Do not try the CUDA execution provider")
	httpAddr := flag.String("http", cli.GetEnvOrDefault("TELEMETRY_ADDR", ""), "Serve telemetry on this address (e.g. :8080)")
	tui := flag.Bool("tui", false, "Show the terminal dashboard instead of periodic stats logs")
	trace := flag.Bool("trace", false, "Print every board and move to stdout (best with -set workers=1)")
	flag.Parse()

	cfg, err := cli.LoadConfig(*configPath, sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	log := cli.Logger(cfg)
	if *tui {
		// Keep log lines from tearing the dashboard.
		log = log.Level(zerolog.WarnLevel)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	predictor, version, err := cli.OpenPredictor(cli.PredictorOptions{
		OnnxModel:    *onnxModel,
		OnnxSessions: *onnxSessions,
		OnnxConfig:   inference.OnnxClientConfig{BatchSize: *onnxBatchSize, BatchTimeout: *onnxBatchTimeout, CPUOnly: *onnxCPU},
		Checkpoint:   *checkpoint,
		DataDir:      cfg.DataDir,
		Uniform:      true,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("open predictor")
		return 1
	}
	defer func() { _ = predictor.Close() }()

	schedule, err := config.CompileSchedule(cfg.TemperatureSchedule)
	if err != nil {
		log.Error().Err(err).Msg("temperature schedule")
		return 1
	}

	counters := telemetry.NewCounters()
	counters.BestVersion.Store(version)
	counted := &inference.Counting{Inner: predictor, Shared: &counters.Inferences}

	if *httpAddr != "" {
		srv := telemetry.NewServer(counters, *outDir, log)
		go func() {
			if err := srv.ListenAndServe(ctx, *httpAddr); err != nil {
				log.Error().Err(err).Msg("telemetry server")
			}
		}()
	}

	gameCfg := selfplay.Config{
		MCTS: mcts.Config{
			Cpuct:            cfg.Cpuct,
			Simulations:      cfg.Simulations,
			DirichletAlpha:   cfg.DirichletAlpha,
			DirichletEpsilon: cfg.DirichletEpsilon,
			Parallelism:      cfg.SearchParallelism,
			VirtualLoss:      cfg.VirtualLoss,
		},
		MaxPlies:    cfg.MaxPlies,
		Temperature: schedule.At,
		Logger:      log,
	}
	if *trace {
		gameCfg.Trace = os.Stdout
	}

	log.Info().
		Int("workers", cfg.Workers).
		Int("simulations", cfg.Simulations).
		Uint64("snapshot", version).
		Str("out_dir", *outDir).
		Msg("starting self-play")

	events := make(chan string, 64)
	if *tui {
		p := tea.NewProgram(telemetry.NewDashboard(counters, events), tea.WithAltScreen())
		go func() {
			if _, err := p.Run(); err != nil {
				log.Error().Err(err).Msg("dashboard")
			}
			cancel()
		}()
	} else {
		go statsLoop(ctx, counters, predictor, log)
	}

	rc := selfplay.RunConfig{
		Game:    gameCfg,
		Workers: cfg.Workers,
		Games:   *maxGames,
		Seed:    cfg.Seed,
		OnStep:  func() { counters.Moves.Add(1) },
	}
	source := func() (mcts.Predictor, uint64) { return counted, version }
	if err := generate(ctx, rc, source, *outDir, *gamesPerFlush, counters, events, log); err != nil {
		log.Error().Err(err).Int64("games", counters.Games.Load()).Msg("self-play failed")
		return 1
	}
	log.Info().Int64("games", counters.Games.Load()).Msg("shutdown complete: final parquet flush done")
	return 0
}

// generate plays games and writes them until self-play stops. A failing
// writer cancels the workers; games already handed over are still flushed
// when the workers stop first.
func generate(ctx context.Context, rc selfplay.RunConfig, source selfplay.Source, outDir string, gamesPerFlush int, counters *telemetry.Counters, events chan<- string, log zerolog.Logger) error {
	records := make(chan *selfplay.GameRecord, max(rc.Workers, 1)*2)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return selfplay.Run(gctx, rc, source, records)
	})
	g.Go(func() error {
		return parquetWriterLoop(outDir, gamesPerFlush, records, counters, events, log)
	})
	return g.Wait()
}

func statsLoop(ctx context.Context, counters *telemetry.Counters, predictor any, log zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s := counters.Snapshot()
		ev := log.Info().
			Int64("games", s.Games).
			Float64("moves_per_sec", s.MovesPerSec).
			Float64("inferences_per_sec", s.InferPerSec)
		if sp, ok := predictor.(interface{ Stats() inference.RuntimeStats }); ok {
			st := sp.Stats()
			ev = ev.Float64("batch_avg", st.AvgBatchSize).
				Int64("batch_last", st.LastBatchSize).
				Int("queue", st.QueueLen).
				Float64("run_avg_ms", st.AvgRunMs)
		}
		ev.Msg("stats")
	}
}

// parquetWriterLoop drains records into shards of gamesPerFlush games. It
// runs until records is closed so games already played are never lost.
func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan *selfplay.GameRecord, counters *telemetry.Counters, events chan<- string, log zerolog.Logger) error {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	var w *store.ShardWriter
	flush := func(reason string) error {
		if w == nil {
			return nil
		}
		info, err := w.Close()
		w = nil
		if err != nil {
			return fmt.Errorf("parquet flush (%s): %w", reason, err)
		}
		if info.Games > 0 {
			log.Info().Str("shard", info.Path).Int("games", info.Games).Int("rows", info.Rows).Str("reason", reason).Msg("parquet flush ok")
		}
		return nil
	}

	for rec := range in {
		if w == nil {
			var err error
			if w, err = store.NewShardWriter(outDir, "selfplay"); err != nil {
				return err
			}
		}
		if err := w.Add(rec, "selfplay"); err != nil {
			return err
		}
		counters.Games.Add(1)
		counters.Positions.Add(int64(len(rec.Entries)))
		winner, ok := rec.Result.Winner()
		counters.Outcome(winner == game.Red, ok)

		select {
		case events <- fmt.Sprintf("Worker %d: %s, %d plies", rec.WorkerID, rec.Result, rec.Plies):
		default:
		}

		if w.Games() >= gamesPerFlush {
			if err := flush("count"); err != nil {
				return err
			}
		}
	}
	return flush("final")
}
