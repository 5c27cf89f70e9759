package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
)

const (
	ModeAlternating = "alternating"
	ModeConcurrent  = "concurrent"
)

// MaxSimulations caps n_simulations and arena_simulations.
const MaxSimulations = 1 << 20

// Config is the full run configuration. Field tags are the JSON keys.
type Config struct {
	// Search
	Cpuct             float32 `mapstructure:"c_puct"`
	Simulations       int     `mapstructure:"n_simulations"`
	DirichletAlpha    float32 `mapstructure:"dirichlet_alpha"`
	DirichletEpsilon  float32 `mapstructure:"dirichlet_epsilon"`
	SearchParallelism int     `mapstructure:"search_parallelism"`
	VirtualLoss       float32 `mapstructure:"virtual_loss"`

	// Self-play
	TemperatureSchedule string `mapstructure:"temperature_schedule"`
	MaxPlies            int    `mapstructure:"max_plies"`
	Workers             int    `mapstructure:"workers"`

	// Replay and training
	ReplayCapacity        int     `mapstructure:"replay_capacity"`
	MinEntriesBeforeTrain int     `mapstructure:"min_entries_before_train"`
	BatchSize             int     `mapstructure:"batch_size"`
	LearningRate          float32 `mapstructure:"learning_rate"`
	L2                    float32 `mapstructure:"l2"`
	CheckpointInterval    int     `mapstructure:"checkpoint_interval"`
	HiddenSize            int     `mapstructure:"hidden_size"`
	ValueHiddenSize       int     `mapstructure:"value_hidden_size"`

	// Arena
	ArenaGames         int     `mapstructure:"arena_games"`
	ArenaSimulations   int     `mapstructure:"arena_simulations"`
	ArenaWorkers       int     `mapstructure:"arena_workers"`
	PromotionThreshold float64 `mapstructure:"promotion_threshold"`
	ResetOnReject      bool    `mapstructure:"reset_on_reject"`

	// Pipeline
	Mode               string `mapstructure:"mode"`
	GamesPerGeneration int    `mapstructure:"games_per_generation"`
	Generations        int    `mapstructure:"generations"`
	DataDir            string `mapstructure:"data_dir"`
	Seed               int64  `mapstructure:"seed"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
}

func Default() Config {
	return Config{
		Cpuct:             1.5,
		Simulations:       200,
		DirichletAlpha:    0.3,
		DirichletEpsilon:  0.25,
		SearchParallelism: 1,
		VirtualLoss:       1,

		TemperatureSchedule: "ply < 30 ? 1.0 : 0.05",
		MaxPlies:            300,
		Workers:             4,

		ReplayCapacity:        200000,
		MinEntriesBeforeTrain: 5000,
		BatchSize:             256,
		LearningRate:          1e-3,
		L2:                    1e-4,
		CheckpointInterval:    1000,
		HiddenSize:            128,
		ValueHiddenSize:       32,

		ArenaGames:         40,
		ArenaSimulations:   100,
		ArenaWorkers:       4,
		PromotionThreshold: 0.55,
		ResetOnReject:      true,

		Mode:               ModeAlternating,
		GamesPerGeneration: 100,
		DataDir:            "data",

		LogLevel: "info",
	}
}

// Load reads a JSON file over the defaults. Keys missing from the file keep
// their default; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := Decode(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Decode applies raw key/value pairs onto cfg.
func Decode(raw map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// FindConfigPath walks up from the working directory looking for name.
func FindConfigPath(name string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := cwd
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found from %s", name, cwd)
}

var (
	ErrBadMode      = errors.New("mode must be alternating or concurrent")
	ErrNonPositive  = errors.New("must be positive")
	ErrOutOfRange   = errors.New("out of range")
	ErrBadThreshold = errors.New("promotion_threshold must be in [0, 1]")
)

// Validate checks every key and compiles the temperature schedule.
func (c *Config) Validate() error {
	var errs []error
	positive := func(key string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s=%d: %w", key, v, ErrNonPositive))
		}
	}
	positive("n_simulations", c.Simulations)
	positive("search_parallelism", c.SearchParallelism)
	positive("workers", c.Workers)
	positive("replay_capacity", c.ReplayCapacity)
	positive("batch_size", c.BatchSize)
	positive("checkpoint_interval", c.CheckpointInterval)
	positive("hidden_size", c.HiddenSize)
	positive("value_hidden_size", c.ValueHiddenSize)
	positive("arena_workers", c.ArenaWorkers)
	positive("games_per_generation", c.GamesPerGeneration)

	if c.Cpuct <= 0 {
		errs = append(errs, fmt.Errorf("c_puct=%g: %w", c.Cpuct, ErrNonPositive))
	}
	if c.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("learning_rate=%g: %w", c.LearningRate, ErrNonPositive))
	}
	if c.DirichletEpsilon < 0 || c.DirichletEpsilon > 1 {
		errs = append(errs, fmt.Errorf("dirichlet_epsilon=%g: %w", c.DirichletEpsilon, ErrOutOfRange))
	}
	if c.DirichletEpsilon > 0 && c.DirichletAlpha <= 0 {
		errs = append(errs, fmt.Errorf("dirichlet_alpha=%g: %w", c.DirichletAlpha, ErrNonPositive))
	}
	if c.L2 < 0 || c.VirtualLoss < 0 || c.MaxPlies < 0 || c.ArenaGames < 0 || c.ArenaSimulations < 0 || c.Generations < 0 {
		errs = append(errs, fmt.Errorf("l2, virtual_loss, max_plies, arena_games, arena_simulations and generations must not be negative: %w", ErrOutOfRange))
	}
	if c.Simulations > MaxSimulations || c.ArenaSimulations > MaxSimulations {
		errs = append(errs, fmt.Errorf("n_simulations=%d arena_simulations=%d above %d: %w", c.Simulations, c.ArenaSimulations, MaxSimulations, ErrOutOfRange))
	}
	if c.MinEntriesBeforeTrain < 0 || c.MinEntriesBeforeTrain > c.ReplayCapacity {
		errs = append(errs, fmt.Errorf("min_entries_before_train=%d with replay_capacity=%d: %w", c.MinEntriesBeforeTrain, c.ReplayCapacity, ErrOutOfRange))
	}
	if c.PromotionThreshold < 0 || c.PromotionThreshold > 1 {
		errs = append(errs, ErrBadThreshold)
	}
	if c.Mode != ModeAlternating && c.Mode != ModeConcurrent {
		errs = append(errs, fmt.Errorf("%q: %w", c.Mode, ErrBadMode))
	}
	if _, err := CompileSchedule(c.TemperatureSchedule); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
