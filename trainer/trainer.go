package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/brensch/xqzero/network"
	"github.com/brensch/xqzero/replay"
)

// NumericDivergenceError reports a rejected step. The parameters and the
// optimizer state are exactly as they were before the step.
type NumericDivergenceError struct {
	Step   int64
	Reason string
	Loss   network.Loss
}

func (e *NumericDivergenceError) Error() string {
	return fmt.Sprintf("numeric divergence at step %d: %s (loss %+v)", e.Step, e.Reason, e.Loss)
}

type Config struct {
	BatchSize          int
	LearningRate       float32
	L2                 float32
	CheckpointInterval int
	// Dir receives checkpoint files; empty keeps candidates in memory only.
	Dir string
	// MaxDivergences is how many rejected steps in a row Run tolerates.
	MaxDivergences int
	// OnStep, when set, sees every accepted step; OnReject every rejected one.
	OnStep   func(step int64, loss network.Loss)
	OnReject func(err *NumericDivergenceError)
	Logger   zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		BatchSize:          256,
		LearningRate:       1e-3,
		L2:                 1e-4,
		CheckpointInterval: 1000,
		MaxDivergences:     10,
		Logger:             zerolog.Nop(),
	}
}

// Trainer owns the working parameters. It is not safe for concurrent use;
// training steps are sequential.
type Trainer struct {
	cfg     Config
	net     *network.Net
	opt     *network.Adam
	grads   []float32
	step    int64
	version uint64
	rng     *rand.Rand
}

// New starts training from a copy of base. Candidate versions continue from
// base.Version.
func New(cfg Config, base *network.Snapshot, rng *rand.Rand) *Trainer {
	net := base.Net()
	return &Trainer{
		cfg:     cfg,
		net:     net,
		opt:     network.NewAdam(len(net.Params), cfg.LearningRate),
		grads:   make([]float32, len(net.Params)),
		step:    base.Step,
		version: base.Version,
		rng:     rng,
	}
}

func (t *Trainer) StepCount() int64 { return t.step }

// SetVersion moves the candidate version counter, so the next checkpoint is
// v+1.
func (t *Trainer) SetVersion(v uint64) {
	if v > t.version {
		t.version = v
	}
}

// Params exposes the working parameters read-only.
func (t *Trainer) Params() []float32 { return t.net.Params }

func toExamples(batch []replay.Entry) []network.Example {
	out := make([]network.Example, len(batch))
	for i := range batch {
		out[i] = batch[i].Example()
	}
	return out
}

// Step runs one optimisation step on batch.
func (t *Trainer) Step(batch []replay.Entry) (network.Loss, error) {
	if len(batch) == 0 {
		return network.Loss{}, errors.New("empty batch")
	}
	loss := t.net.Gradients(toExamples(batch), t.cfg.L2, t.grads)
	if !loss.Finite() {
		return loss, &NumericDivergenceError{Step: t.step, Reason: "non-finite loss", Loss: loss}
	}
	if !network.AllFinite(t.grads) {
		return loss, &NumericDivergenceError{Step: t.step, Reason: "non-finite gradient", Loss: loss}
	}
	if err := t.opt.Step(t.net.Params, t.grads); err != nil {
		if errors.Is(err, network.ErrNonFinite) {
			return loss, &NumericDivergenceError{Step: t.step, Reason: "non-finite parameter update", Loss: loss}
		}
		return loss, err
	}
	t.step++
	return loss, nil
}

// Checkpoint freezes the working parameters as the next candidate version
// and writes it to Dir when set.
func (t *Trainer) Checkpoint() (*network.Snapshot, string, error) {
	t.version++
	snap := network.NewSnapshot(t.net, t.version, t.step)
	if t.cfg.Dir == "" {
		return snap, "", nil
	}
	path := network.CheckpointPath(t.cfg.Dir, snap.Version)
	if err := network.Save(path, snap); err != nil {
		return nil, "", fmt.Errorf("save candidate %s: %w", snap, err)
	}
	return snap, path, nil
}

// ResetTo replaces the working parameters with best and clears the
// optimizer moments.
func (t *Trainer) ResetTo(best *network.Snapshot) {
	t.net.CopyFrom(best.Net())
	t.opt.Reset()
}

// CheckpointFunc receives each candidate in order. Returning an error stops Run.
type CheckpointFunc func(ctx context.Context, candidate *network.Snapshot, path string) error

// Run trains for steps steps (0 = until ctx ends), sampling batches from buf
// and handing a candidate to onCheckpoint every CheckpointInterval steps.
func (t *Trainer) Run(ctx context.Context, buf *replay.Buffer, steps int, onCheckpoint CheckpointFunc) error {
	log := t.cfg.Logger
	interval := t.cfg.CheckpointInterval
	if interval <= 0 {
		interval = 1000
	}
	maxDiv := t.cfg.MaxDivergences
	if maxDiv <= 0 {
		maxDiv = 10
	}

	var (
		done        int
		divergences int
		sinceCkpt   int
		lossSum     float64
		started     = time.Now()
	)
	for steps == 0 || done < steps {
		batch, err := buf.Sample(ctx, t.cfg.BatchSize, t.rng)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		loss, err := t.Step(batch)
		var div *NumericDivergenceError
		if errors.As(err, &div) {
			divergences++
			if t.cfg.OnReject != nil {
				t.cfg.OnReject(div)
			}
			log.Warn().Err(err).Int("in_a_row", divergences).Msg("rejected training step")
			if divergences >= maxDiv {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		divergences = 0
		if t.cfg.OnStep != nil {
			t.cfg.OnStep(t.step, loss)
		}
		done++
		sinceCkpt++
		lossSum += float64(loss.Total)

		if sinceCkpt < interval {
			continue
		}
		snap, path, err := t.Checkpoint()
		if err != nil {
			return err
		}
		log.Info().
			Str("candidate", snap.String()).
			Float64("mean_loss", lossSum/float64(sinceCkpt)).
			Float32("value_loss", loss.Value).
			Float32("policy_loss", loss.Policy).
			Dur("took", time.Since(started)).
			Msg("checkpoint")
		sinceCkpt, lossSum, started = 0, 0, time.Now()

		if onCheckpoint != nil {
			if err := onCheckpoint(ctx, snap, path); err != nil {
				return err
			}
		}
	}
	return nil
}
