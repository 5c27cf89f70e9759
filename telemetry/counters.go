package telemetry

import (
	"math"
	"sync/atomic"
	"time"
)

// Counters are process-wide progress counters. Components only add to them;
// observers read through Snapshot.
type Counters struct {
	Games       atomic.Int64
	Positions   atomic.Int64
	Moves       atomic.Int64
	Inferences  atomic.Int64
	TrainSteps  atomic.Int64
	Candidates  atomic.Int64
	Promotions  atomic.Int64
	Rejections  atomic.Int64
	Divergences atomic.Int64
	BufferLen   atomic.Int64
	BestVersion atomic.Uint64

	redWins   atomic.Int64
	blackWins atomic.Int64
	draws     atomic.Int64
	lossBits  atomic.Uint32
	scoreBits atomic.Uint64
	started   time.Time
}

func NewCounters() *Counters {
	return &Counters{started: time.Now()}
}

// Outcome records a finished self-play game by winner; ok=false is a draw.
func (c *Counters) Outcome(redWon, ok bool) {
	switch {
	case !ok:
		c.draws.Add(1)
	case redWon:
		c.redWins.Add(1)
	default:
		c.blackWins.Add(1)
	}
}

func (c *Counters) SetLoss(l float32)       { c.lossBits.Store(math.Float32bits(l)) }
func (c *Counters) SetArenaScore(s float64) { c.scoreBits.Store(math.Float64bits(s)) }

// Stats is a point-in-time copy of the counters.
type Stats struct {
	Uptime       time.Duration `json:"uptime_ns"`
	Games        int64         `json:"games"`
	RedWins      int64         `json:"red_wins"`
	BlackWins    int64         `json:"black_wins"`
	Draws        int64         `json:"draws"`
	Positions    int64         `json:"positions"`
	Moves        int64         `json:"moves"`
	Inferences   int64         `json:"inferences"`
	TrainSteps   int64         `json:"train_steps"`
	Candidates   int64         `json:"candidates"`
	Promotions   int64         `json:"promotions"`
	Rejections   int64         `json:"rejections"`
	Divergences  int64         `json:"divergences"`
	BufferLen    int64         `json:"buffer_len"`
	BestVersion  uint64        `json:"best_version"`
	LastLoss     float32       `json:"last_loss"`
	LastScore    float64       `json:"last_arena_score"`
	MovesPerSec  float64       `json:"moves_per_sec"`
	InferPerSec  float64       `json:"inferences_per_sec"`
	GamesPerHour float64       `json:"games_per_hour"`
}

func (c *Counters) Snapshot() Stats {
	s := Stats{
		Uptime:      time.Since(c.started),
		Games:       c.Games.Load(),
		RedWins:     c.redWins.Load(),
		BlackWins:   c.blackWins.Load(),
		Draws:       c.draws.Load(),
		Positions:   c.Positions.Load(),
		Moves:       c.Moves.Load(),
		Inferences:  c.Inferences.Load(),
		TrainSteps:  c.TrainSteps.Load(),
		Candidates:  c.Candidates.Load(),
		Promotions:  c.Promotions.Load(),
		Rejections:  c.Rejections.Load(),
		Divergences: c.Divergences.Load(),
		BufferLen:   c.BufferLen.Load(),
		BestVersion: c.BestVersion.Load(),
		LastLoss:    math.Float32frombits(c.lossBits.Load()),
		LastScore:   math.Float64frombits(c.scoreBits.Load()),
	}
	if secs := s.Uptime.Seconds(); secs >= 1 {
		s.MovesPerSec = float64(s.Moves) / secs
		s.InferPerSec = float64(s.Inferences) / secs
		s.GamesPerHour = float64(s.Games) / secs * 3600
	}
	return s
}
