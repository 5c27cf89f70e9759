package config

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Schedule maps a ply to a decision temperature.
type Schedule struct {
	src     string
	program *vm.Program
}

// CompileSchedule compiles an expression over the integer variable ply,
// e.g. "ply < 30 ? 1.0 : 0.05". An empty source means a constant 1.
func CompileSchedule(src string) (*Schedule, error) {
	if src == "" {
		src = "1.0"
	}
	program, err := expr.Compile(src, expr.Env(map[string]any{"ply": 0}))
	if err != nil {
		return nil, fmt.Errorf("temperature_schedule %q: %w", src, err)
	}
	s := &Schedule{src: src, program: program}
	if _, err := s.eval(0); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schedule) String() string { return s.src }

func (s *Schedule) eval(ply int) (float32, error) {
	out, err := expr.Run(s.program, map[string]any{"ply": ply})
	if err != nil {
		return 0, fmt.Errorf("temperature_schedule %q at ply %d: %w", s.src, ply, err)
	}
	var t float64
	switch v := out.(type) {
	case float64:
		t = v
	case int:
		t = float64(v)
	default:
		return 0, fmt.Errorf("temperature_schedule %q returned %T, want a number", s.src, out)
	}
	if t < 0 {
		return 0, fmt.Errorf("temperature_schedule %q at ply %d: negative temperature %g", s.src, ply, t)
	}
	return float32(t), nil
}

// At evaluates the schedule. Evaluation errors, which only arise from
// expressions that fail for some plies, fall back to 0 (greedy).
func (s *Schedule) At(ply int) float32 {
	t, err := s.eval(ply)
	if err != nil {
		return 0
	}
	return t
}
