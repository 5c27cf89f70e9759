// Command train runs the learning loop: self-play, replay buffer, training
// and the arena gate. With -external-games it only trains, on shards written
// by separate executor processes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/brensch/xqzero/internal/cli"
	"github.com/brensch/xqzero/pipeline"
	"github.com/brensch/xqzero/telemetry"
)

func main() {
	sets := cli.Sets{}
	configPath := flag.String("config", cli.GetEnvOrDefault("XQ_CONFIG", ""), "JSON config file")
	flag.Var(sets, "set", "Override a config key (key=value, repeatable)")
	httpAddr := flag.String("http", cli.GetEnvOrDefault("TELEMETRY_ADDR", ""), "Serve telemetry on this address (e.g. :8080)")
	tui := flag.Bool("tui", false, "Show the terminal dashboard")
	external := flag.String("external-games", "", "Train only, on parquet shards appearing in this directory")
	poll := flag.Duration("poll", cli.GetEnvDurationOrDefault("POLL_INTERVAL", 30*time.Second), "How often to look for new external shards")
	flag.Parse()

	cfg, err := cli.LoadConfig(*configPath, sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := cli.Logger(cfg)
	if *tui {
		log = log.Level(zerolog.WarnLevel)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	counters := telemetry.NewCounters()
	events := make(chan string, 64)
	p, err := pipeline.New(pipeline.Options{
		Config:   cfg,
		Logger:   log,
		Counters: counters,
		Events:   events,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline")
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Msg("close registry")
		}
	}()

	if *httpAddr != "" {
		dataDir := p.GamesDir()
		if *external != "" {
			dataDir = *external
		}
		srv := telemetry.NewServer(counters, dataDir, log)
		go func() {
			if err := srv.ListenAndServe(ctx, *httpAddr); err != nil {
				log.Error().Err(err).Msg("telemetry server")
			}
		}()
	}

	if *tui {
		prog := tea.NewProgram(telemetry.NewDashboard(counters, events), tea.WithAltScreen())
		go func() {
			if _, err := prog.Run(); err != nil {
				log.Error().Err(err).Msg("dashboard")
			}
			cancel()
		}()
	} else {
		go drainEvents(ctx, events, log)
	}

	log.Info().
		Str("mode", cfg.Mode).
		Str("data_dir", cfg.DataDir).
		Str("best", p.Best().String()).
		Str("external", *external).
		Msg("starting training")

	if *external != "" {
		err = p.RunExternal(ctx, *external, *poll)
	} else {
		err = p.Run(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("training stopped")
		os.Exit(1)
	}
	s := counters.Snapshot()
	log.Info().
		Int64("games", s.Games).
		Int64("train_steps", s.TrainSteps).
		Int64("promotions", s.Promotions).
		Uint64("best", s.BestVersion).
		Msg("done")
}

func drainEvents(ctx context.Context, events <-chan string, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			log.Debug().Msg(ev)
		}
	}
}
