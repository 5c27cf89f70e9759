package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/brensch/xqzero/executor/convert"
	"github.com/brensch/xqzero/game"
)

const (
	InputSize  = convert.FloatSize
	PolicySize = convert.PolicySize
	ValueSize  = 1
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

// ErrClientClosed is returned by Predict after Close.
var ErrClientClosed = errors.New("onnx client closed")

// OnnxClientConfig configures one ONNX Runtime session and its batcher.
// The model must take "input" [N, Channels, Rows, Cols] and produce
// "policy" [N, PolicySize] and "value" [N, 1].
type OnnxClientConfig struct {
	BatchSize int
	// BatchTimeout is how long the first request of a partial batch waits
	// for company.
	BatchTimeout time.Duration
	// CPUOnly skips the CUDA execution provider. XQ_ORT_DISABLE_CUDA=1 has
	// the same effect.
	CPUOnly bool
	Logger  zerolog.Logger
}

// RuntimeStats summarises batching behaviour for telemetry.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	Failed        int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

func (s *RuntimeStats) add(o RuntimeStats) {
	s.TotalBatches += o.TotalBatches
	s.TotalItems += o.TotalItems
	s.TotalRunNanos += o.TotalRunNanos
	s.Failed += o.Failed
	s.QueueLen += o.QueueLen
	s.LastBatchSize = max(s.LastBatchSize, o.LastBatchSize)
}

func (s *RuntimeStats) finish() {
	if s.TotalBatches > 0 {
		s.AvgBatchSize = float64(s.TotalItems) / float64(s.TotalBatches)
		s.AvgRunMs = float64(s.TotalRunNanos) / 1e6 / float64(s.TotalBatches)
	}
}

type request struct {
	input []float32
	reply chan reply
}

type reply struct {
	policy []float32
	value  []float32
	err    error
}

// batchTensors are reused for every batch of the same size.
type batchTensors struct {
	input  *ort.Tensor[float32]
	policy *ort.Tensor[float32]
	value  *ort.Tensor[float32]
}

func (b *batchTensors) destroy() {
	for _, t := range []*ort.Tensor[float32]{b.input, b.policy, b.value} {
		if t != nil {
			_ = t.Destroy()
		}
	}
}

// OnnxClient evaluates positions with an exported model, gathering
// concurrent Predict calls into batches on a single goroutine.
type OnnxClient struct {
	session  *ort.DynamicAdvancedSession
	cfg      OnnxClientConfig
	requests chan request
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	// tensors is only touched by the batch goroutine.
	tensors map[int]*batchTensors

	batches  atomic.Int64
	items    atomic.Int64
	runNanos atomic.Int64
	last     atomic.Int64
	failed   atomic.Int64
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime points the bindings at the shared library and initialises the
// process-wide ONNX Runtime environment once.
func initRuntime(log zerolog.Logger) error {
	ortInitOnce.Do(func() {
		if lib := findSharedLibrary(); lib != "" {
			log.Debug().Str("library", lib).Msg("onnxruntime library")
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("init onnxruntime: %w", ortInitErr)
	}
	return nil
}

// findSharedLibrary honours ORT_SHARED_LIBRARY_PATH, then looks next to the
// working directory and the executable. Empty means the bindings' default.
func findSharedLibrary() string {
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	for _, dir := range dirs {
		for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1", "libonnxruntime.dylib", "onnxruntime.dll"} {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if err := initRuntime(cfg.Logger); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()
	// Many sessions share the machine with the search workers.
	_ = options.SetIntraOpNumThreads(1)
	_ = options.SetInterOpNumThreads(1)

	if !cfg.CPUOnly && os.Getenv("XQ_ORT_DISABLE_CUDA") == "" {
		if cuda, err := ort.NewCUDAProviderOptions(); err != nil {
			cfg.Logger.Debug().Err(err).Msg("CUDA unavailable, using CPU")
		} else {
			if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
				cfg.Logger.Warn().Err(err).Msg("failed to enable CUDA provider")
			} else {
				cfg.Logger.Info().Msg("CUDA provider enabled")
			}
			_ = cuda.Destroy()
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}

	c := &OnnxClient{
		session:  session,
		cfg:      cfg,
		requests: make(chan request, cfg.BatchSize*2),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		tensors:  make(map[int]*batchTensors),
	}
	go c.loop()
	return c, nil
}

// Close stops the batcher, fails queued requests and releases the session.
func (c *OnnxClient) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		<-c.stopped
		for _, t := range c.tensors {
			t.destroy()
		}
		err = c.session.Destroy()
	})
	return err
}

func (c *OnnxClient) Stats() RuntimeStats {
	st := RuntimeStats{
		TotalBatches:  c.batches.Load(),
		TotalItems:    c.items.Load(),
		TotalRunNanos: c.runNanos.Load(),
		LastBatchSize: c.last.Load(),
		Failed:        c.failed.Load(),
		QueueLen:      len(c.requests),
	}
	st.finish()
	return st
}

// Predict queues the state for the next batch and waits for its row.
func (c *OnnxClient) Predict(state *game.State) ([]float32, []float32, error) {
	buf := convert.StateToFloat32(state)
	input := make([]float32, InputSize)
	copy(input, *buf)
	convert.PutFloatBuffer(buf)

	req := request{input: input, reply: make(chan reply, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return nil, nil, ErrClientClosed
	}
	select {
	case r := <-req.reply:
		return r.policy, r.value, r.err
	case <-c.stopped:
		// The loop may have answered just before exiting.
		select {
		case r := <-req.reply:
			return r.policy, r.value, r.err
		default:
			return nil, nil, ErrClientClosed
		}
	}
}

func (c *OnnxClient) loop() {
	defer close(c.stopped)
	pending := make([]request, 0, c.cfg.BatchSize)
	timer := time.NewTimer(c.cfg.BatchTimeout)
	timer.Stop()
	defer timer.Stop()
	var deadline <-chan time.Time

	for {
		select {
		case <-c.done:
			c.fail(pending, ErrClientClosed)
			for {
				select {
				case req := <-c.requests:
					req.reply <- reply{err: ErrClientClosed}
				default:
					return
				}
			}
		case req := <-c.requests:
			pending = append(pending, req)
			if len(pending) == 1 {
				timer.Reset(c.cfg.BatchTimeout)
				deadline = timer.C
			}
			if len(pending) < c.cfg.BatchSize {
				continue
			}
			timer.Stop()
		case <-deadline:
		}
		deadline = nil
		if len(pending) > 0 {
			c.run(pending)
			pending = pending[:0]
		}
	}
}

func (c *OnnxClient) tensorsFor(n int) (*batchTensors, error) {
	if t, ok := c.tensors[n]; ok {
		return t, nil
	}
	t := &batchTensors{}
	var err error
	if t.input, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(n), convert.Channels, convert.Rows, convert.Cols)); err != nil {
		return nil, err
	}
	if t.policy, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(n), PolicySize)); err != nil {
		t.destroy()
		return nil, err
	}
	if t.value, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(n), ValueSize)); err != nil {
		t.destroy()
		return nil, err
	}
	c.tensors[n] = t
	return t, nil
}

func (c *OnnxClient) run(batch []request) {
	started := time.Now()
	n := len(batch)
	t, err := c.tensorsFor(n)
	if err != nil {
		c.fail(batch, fmt.Errorf("allocate batch of %d: %w", n, err))
		return
	}
	in := t.input.GetData()
	for i, req := range batch {
		copy(in[i*InputSize:(i+1)*InputSize], req.input)
	}
	if err := c.session.Run([]ort.Value{t.input}, []ort.Value{t.policy, t.value}); err != nil {
		c.fail(batch, fmt.Errorf("run batch of %d: %w", n, err))
		return
	}

	c.batches.Add(1)
	c.items.Add(int64(n))
	c.runNanos.Add(time.Since(started).Nanoseconds())
	c.last.Store(int64(n))

	// The tensors are reused, so every reply gets its own copy.
	policy := t.policy.GetData()
	value := t.value.GetData()
	for i, req := range batch {
		req.reply <- reply{
			policy: append([]float32(nil), policy[i*PolicySize:(i+1)*PolicySize]...),
			value:  append([]float32(nil), value[i*ValueSize:(i+1)*ValueSize]...),
		}
	}
}

func (c *OnnxClient) fail(batch []request, err error) {
	c.failed.Add(int64(len(batch)))
	for _, req := range batch {
		req.reply <- reply{err: err}
	}
}
