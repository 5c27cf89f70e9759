// Command engine serves move analysis over HTTP for positions given as FEN.
//
//	POST /move  {"fen": "...", "simulations": 400}
//	POST /legal {"fen": "..."}
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/xqzero/internal/cli"
	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/executor/mcts"
)

func main() {
	sets := cli.Sets{}
	configPath := flag.String("config", cli.GetEnvOrDefault("XQ_CONFIG", ""), "JSON config file")
	flag.Var(sets, "set", "Override a config key (key=value, repeatable)")
	listen := flag.String("listen", cli.GetEnvOrDefault("LISTEN", ":8080"), "HTTP listen address")
	checkpoint := flag.String("checkpoint", "", "Snapshot file (default: registry best in data_dir)")
	onnxModel := flag.String("onnx-model", cli.GetEnvOrDefault("ONNX_MODEL", ""), "Use an exported ONNX model")
	sessions := flag.Int("sessions", 1, "Number of ONNX sessions (for parallel requests)")
	maxSims := flag.Int("max-simulations", cli.GetEnvIntOrDefault("MAX_SIMULATIONS", 0), "Largest per-request simulations (0: 8x n_simulations)")
	moveTimeout := flag.Duration("move-timeout", cli.GetEnvDurationOrDefault("MOVE_TIMEOUT", 10*time.Second), "Abort a search after this long")
	flag.Parse()

	cfg, err := cli.LoadConfig(*configPath, sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := cli.Logger(cfg)

	predictor, version, err := cli.OpenPredictor(cli.PredictorOptions{
		OnnxModel:    *onnxModel,
		OnnxSessions: *sessions,
		OnnxConfig:   inference.OnnxClientConfig{BatchSize: inference.DefaultBatchSize, BatchTimeout: inference.DefaultBatchTimeout},
		Checkpoint:   *checkpoint,
		DataDir:      cfg.DataDir,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open predictor")
	}
	defer func() { _ = predictor.Close() }()

	server := NewServer(predictor, version, mcts.Config{
		Cpuct:       cfg.Cpuct,
		Simulations: cfg.Simulations,
		Parallelism: cfg.SearchParallelism,
		VirtualLoss: cfg.VirtualLoss,
	}, *maxSims, *moveTimeout, log)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", *listen).Uint64("snapshot", version).Msg("engine listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}
