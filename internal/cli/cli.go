// Package cli holds the flag, environment and predictor plumbing shared by
// the binaries.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/xqzero/config"
	"github.com/brensch/xqzero/executor/inference"
	"github.com/brensch/xqzero/executor/mcts"
	"github.com/brensch/xqzero/logging"
	"github.com/brensch/xqzero/network"
	"github.com/brensch/xqzero/store"
)

// Environment variable helpers
func GetEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func GetEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}

func GetEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func GetEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

// Sets collects repeated -set key=value flags overriding config keys.
type Sets map[string]any

func (s Sets) String() string {
	parts := make([]string, 0, len(s))
	for k, v := range s {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (s Sets) Set(kv string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("want key=value, got %q", kv)
	}
	s[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

// LoadConfig reads path (the defaults when empty), applies the overrides
// and validates the result.
func LoadConfig(path string, overrides Sets) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	if len(overrides) > 0 {
		if err := config.Decode(overrides, &cfg); err != nil {
			return cfg, fmt.Errorf("-set: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// Logger builds the process logger from the config, writing to stderr.
func Logger(cfg config.Config) zerolog.Logger {
	log, err := logging.New(os.Stderr, cfg.LogLevel, logging.Format(cfg.LogPretty))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	return log
}

// Predictor is a search predictor that may hold resources.
type Predictor interface {
	mcts.Predictor
	Close() error
}

type nopCloser struct{ mcts.Predictor }

func (nopCloser) Close() error { return nil }

type PredictorOptions struct {
	// OnnxModel selects the ONNX runtime backend when set.
	OnnxModel    string
	OnnxSessions int
	OnnxConfig   inference.OnnxClientConfig
	// Checkpoint loads a pure-Go snapshot file.
	Checkpoint string
	// DataDir falls back to the registry's best snapshot.
	DataDir string
	// Uniform, when nothing else is configured, uses flat priors instead of
	// failing.
	Uniform bool
}

// OpenPredictor picks a backend: ONNX model, checkpoint file, registry best,
// then uniform. version is the snapshot version when known.
func OpenPredictor(opts PredictorOptions, log zerolog.Logger) (Predictor, uint64, error) {
	switch {
	case opts.OnnxModel != "":
		if _, err := os.Stat(opts.OnnxModel); err != nil {
			return nil, 0, fmt.Errorf("model file not found: %s", opts.OnnxModel)
		}
		opts.OnnxConfig.Logger = log
		if opts.OnnxSessions <= 1 {
			c, err := inference.NewOnnxClientWithConfig(opts.OnnxModel, opts.OnnxConfig)
			if err != nil {
				return nil, 0, fmt.Errorf("create ONNX client: %w", err)
			}
			return c, 0, nil
		}
		pool, err := inference.NewOnnxClientPoolWithConfig(opts.OnnxModel, opts.OnnxSessions, opts.OnnxConfig)
		if err != nil {
			return nil, 0, fmt.Errorf("create ONNX client pool: %w", err)
		}
		return pool, 0, nil

	case opts.Checkpoint != "":
		snap, err := network.Load(opts.Checkpoint)
		if err != nil {
			return nil, 0, err
		}
		log.Info().Str("snapshot", snap.String()).Str("path", opts.Checkpoint).Msg("loaded checkpoint")
		return nopCloser{snap}, snap.Version, nil

	case opts.DataDir != "":
		snap, err := BestSnapshot(opts.DataDir)
		if err == nil {
			log.Info().Str("snapshot", snap.String()).Msg("using registry best")
			return nopCloser{snap}, snap.Version, nil
		}
		if !opts.Uniform {
			return nil, 0, err
		}
		log.Warn().Err(err).Msg("no best snapshot; using uniform priors")
	}
	if opts.Uniform {
		return nopCloser{inference.Uniform{}}, 0, nil
	}
	return nil, 0, fmt.Errorf("no predictor configured")
}

// BestSnapshot loads the promoted snapshot recorded in dataDir's registry.
func BestSnapshot(dataDir string) (*network.Snapshot, error) {
	reg, err := store.OpenRegistry(filepath.Join(dataDir, "registry"))
	if err != nil {
		return nil, err
	}
	defer reg.Close()
	meta, ok, err := reg.Best()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("registry in %s has no best snapshot", dataDir)
	}
	return network.Load(meta.Path)
}
