// Command arena plays a match between two snapshots and prints the report.
// With -promote the candidate is recorded in the registry and becomes best
// when it clears the threshold.
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

	"github.com/brensch/xqzero/arena"
	"github.com/brensch/xqzero/internal/cli"
	"github.com/brensch/xqzero/network"
	"github.com/brensch/xqzero/store"
)

func main() {
	sets := cli.Sets{}
	configPath := flag.String("config", cli.GetEnvOrDefault("XQ_CONFIG", ""), "JSON config file")
	flag.Var(sets, "set", "Override a config key (key=value, repeatable)")
	candidatePath := flag.String("candidate", "", "Candidate snapshot file (required)")
	bestPath := flag.String("best", "", "Opponent snapshot file (default: registry best in data_dir)")
	promote := flag.Bool("promote", false, "Record the candidate in the registry and promote it if it wins")
	flag.Parse()

	if *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-candidate is required")
		os.Exit(2)
	}
	cfg, err := cli.LoadConfig(*configPath, sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := cli.Logger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	candidate, err := network.Load(*candidatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("load candidate")
	}
	var best *network.Snapshot
	if *bestPath != "" {
		best, err = network.Load(*bestPath)
	} else {
		best, err = cli.BestSnapshot(cfg.DataDir)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("load opponent")
	}

	acfg := arena.Config{
		Games:       cfg.ArenaGames,
		Simulations: cfg.ArenaSimulations,
		Cpuct:       cfg.Cpuct,
		Parallelism: cfg.SearchParallelism,
		Workers:     cfg.ArenaWorkers,
		MaxPlies:    cfg.MaxPlies,
		Threshold:   cfg.PromotionThreshold,
		Seed:        cfg.Seed,
		Logger:      log,
	}
	if acfg.Games <= 0 {
		acfg.Games = arena.DefaultConfig().Games
	}

	log.Info().Str("candidate", candidate.String()).Str("best", best.String()).Int("games", acfg.Games).Msg("starting match")
	report, err := arena.Evaluate(ctx, acfg, candidate, best)
	if err != nil {
		log.Fatal().Err(err).Msg("arena")
	}
	fmt.Println(report.String())

	if !*promote {
		return
	}
	reg, err := store.OpenRegistry(filepath.Join(cfg.DataDir, "registry"))
	if err != nil {
		log.Fatal().Err(err).Msg("open registry")
	}
	defer reg.Close()

	abs, err := filepath.Abs(*candidatePath)
	if err != nil {
		abs = *candidatePath
	}
	meta := store.SnapshotMeta{
		Version: candidate.Version,
		Step:    candidate.Step,
		Path:    abs,
		Parent:  best.Version,
		Score:   report.Score,
		Games:   report.Games,
		Created: time.Now(),
	}
	if err := reg.PutSnapshot(meta); err != nil {
		log.Fatal().Err(err).Msg("record candidate")
	}
	if report.Promoted {
		if err := reg.SetBest(candidate.Version); err != nil {
			log.Fatal().Err(err).Msg("promote")
		}
		log.Info().Uint64("version", candidate.Version).Msg("promoted")
	}
}
