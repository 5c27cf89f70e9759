package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"c_puct": 2.5,
		"n_simulations": "64",
		"temperature_schedule": "ply < 10 ? 1 : 0",
		"replay_capacity": 10000,
		"min_entries_before_train": 100,
		"mode": "concurrent",
		"reset_on_reject": false
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cpuct != 2.5 || cfg.Simulations != 64 || cfg.ReplayCapacity != 10000 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Mode != ModeConcurrent || cfg.ResetOnReject {
		t.Fatalf("mode/reset_on_reject not applied: %+v", cfg)
	}
	if cfg.BatchSize != Default().BatchSize {
		t.Fatalf("batch_size default lost: %d", cfg.BatchSize)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `{"n_simulation": 10}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("unknown key accepted")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Mode = "sometimes"
	cfg.BatchSize = 0
	cfg.PromotionThreshold = 1.5
	err := cfg.Validate()
	for _, want := range []error{ErrBadMode, ErrNonPositive, ErrBadThreshold} {
		if !errors.Is(err, want) {
			t.Errorf("Validate() = %v, missing %v", err, want)
		}
	}

	cfg = Default()
	cfg.Simulations = MaxSimulations + 1
	if err := cfg.Validate(); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("n_simulations above the cap: %v", err)
	}

	cfg = Default()
	cfg.TemperatureSchedule = "ply <"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("bad schedule accepted")
	}
}

func TestSchedule(t *testing.T) {
	s, err := CompileSchedule("ply < 30 ? 1.0 : 0.05")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := s.At(0); got != 1 {
		t.Fatalf("At(0) = %f", got)
	}
	if got := s.At(29); got != 1 {
		t.Fatalf("At(29) = %f", got)
	}
	if got := s.At(30); got != 0.05 {
		t.Fatalf("At(30) = %f", got)
	}

	s, err = CompileSchedule("")
	if err != nil || s.At(100) != 1 {
		t.Fatalf("empty schedule: %v", err)
	}

	s, err = CompileSchedule("ply < 4 ? 1 : 0")
	if err != nil || s.At(2) != 1 || s.At(4) != 0 {
		t.Fatalf("integer schedule: %v", err)
	}

	if _, err := CompileSchedule(`"hot"`); err == nil {
		t.Fatalf("string schedule accepted")
	}
}
