// Command debuggame plays one traced game and prints every board, search
// summary and the final record. -out writes the game as a parquet shard.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/brensch/xqzero/internal/cli"
	"github.com/brensch/xqzero/config"
	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/executor/selfplay"
	"github.com/brensch/xqzero/game"
	"github.com/brensch/xqzero/store"
)

func main() {
	sets := cli.Sets{}
	configPath := flag.String("config", cli.GetEnvOrDefault("XQ_CONFIG", ""), "JSON config file")
	flag.Var(sets, "set", "Override a config key (key=value, repeatable)")
	fen := flag.String("fen", "", "Start position (default: the standard opening)")
	checkpoint := flag.String("checkpoint", "", "Snapshot file to play with (default: registry best, then uniform)")
	onnxModel := flag.String("onnx-model", "", "Use an exported ONNX model")
	outDir := flag.String("out", "", "Write the game to a parquet shard in this directory")
	timeout := flag.Duration("timeout", 5*time.Minute, "Give up after this long")
	flag.Parse()

	cfg, err := cli.LoadConfig(*configPath, sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := cli.Logger(cfg)

	predictor, version, err := cli.OpenPredictor(cli.PredictorOptions{
		OnnxModel:    *onnxModel,
		OnnxSessions: 1,
		OnnxConfig:   inference.OnnxClientConfig{BatchSize: 1},
		Checkpoint:   *checkpoint,
		DataDir:      cfg.DataDir,
		Uniform:      true,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open predictor")
	}
	defer func() { _ = predictor.Close() }()

	schedule, err := config.CompileSchedule(cfg.TemperatureSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("temperature schedule")
	}

	start := game.NewInitialState(cfg.MaxPlies)
	if *fen != "" {
		start, err = game.ParseFEN(*fen)
		if err != nil {
			log.Fatal().Err(err).Msg("fen")
		}
		start.MaxPlies = cfg.MaxPlies
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
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
		Trace:       os.Stdout,
		Logger:      log,
	}

	fmt.Printf("Playing from %s with %d sims (snapshot v%d)\n", start.FEN(), cfg.Simulations, version)
	rec, err := selfplay.PlayFrom(ctx, 0, gameCfg, predictor, rand.New(rand.NewSource(seed)), start, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("play")
	}
	rec.SnapshotVersion = version

	fmt.Printf("\nGame %s: %s after %d plies in %v\n", rec.ID, rec.Result, rec.Plies, rec.Duration.Round(time.Millisecond))
	for i, m := range rec.Played {
		if i%2 == 0 {
			fmt.Printf("%3d.", i/2+1)
		}
		fmt.Printf(" %s", m)
		if i%2 == 1 || i == len(rec.Played)-1 {
			fmt.Println()
		}
	}

	if *outDir == "" {
		return
	}
	w, err := store.NewShardWriter(*outDir, "debug")
	if err != nil {
		log.Fatal().Err(err).Msg("writer")
	}
	if err := w.Add(rec, "debug"); err != nil {
		log.Fatal().Err(err).Msg("write")
	}
	info, err := w.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("close shard")
	}
	fmt.Printf("Saved %d rows to %s\n", info.Rows, info.Path)
}
