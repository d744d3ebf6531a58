package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/types"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("batcher closed")

var tracer = otel.Tracer("aigate/batch")

// SubmitFunc performs one batched provider call. Responses must be in
// request order.
type SubmitFunc func(ctx context.Context, p llm.Provider, reqs []*llm.Request) ([]*llm.Response, error)

// Config configures a Batcher.
type Config struct {
	// MaxSize flushes a batch as soon as it holds this many items.
	MaxSize int `json:"max_size" yaml:"max_size"`

	// Window is how long the first item of a batch waits for company.
	Window time.Duration `json:"window" yaml:"window"`

	// Timeout bounds the batched provider call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a 100ms window and a maximum of 10 items.
func DefaultConfig() Config {
	return Config{
		MaxSize: 10,
		Window:  100 * time.Millisecond,
		Timeout: 30 * time.Second,
	}
}

// Recorder receives per-batch outcomes.
type Recorder interface {
	RecordBatch(key string, size int, status string, duration time.Duration)
}

type result struct {
	resp *llm.Response
	err  error
}

type item struct {
	req  *llm.Request
	done chan result
}

type pendingBatch struct {
	key      string
	provider llm.Provider
	items    []*item
	timer    *time.Timer
}

// Batcher coalesces requests per key.
type Batcher struct {
	cfg      Config
	submit   SubmitFunc
	recorder Recorder
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingBatch
	closed  bool
	inOut   sync.WaitGroup

	submitted atomic.Int64
	batches   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates a batcher. A nil submit uses llm.GenerateBatch.
func New(cfg Config, submit SubmitFunc, logger *zap.Logger) *Batcher {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if submit == nil {
		submit = llm.GenerateBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		cfg:     cfg,
		submit:  submit,
		logger:  logger.With(zap.String("component", "batcher")),
		pending: make(map[string]*pendingBatch),
	}
}

// WithRecorder sets the metrics sink.
func (b *Batcher) WithRecorder(r Recorder) *Batcher {
	b.recorder = r
	return b
}

// Key is the batch partition of a request served by provider.
func Key(feature llm.Feature, provider string) string {
	return string(feature) + "/" + provider
}

// Add queues req for p and waits for its response.
func (b *Batcher) Add(ctx context.Context, p llm.Provider, req *llm.Request) (*llm.Response, error) {
	it := &item{req: req, done: make(chan result, 1)}
	key := Key(req.Feature, p.Name())

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	pb, ok := b.pending[key]
	if !ok {
		pb = &pendingBatch{key: key, provider: p, items: make([]*item, 0, b.cfg.MaxSize)}
		pb.timer = time.AfterFunc(b.cfg.Window, func() { b.expire(pb) })
		b.pending[key] = pb
	}
	pb.items = append(pb.items, it)
	b.submitted.Add(1)

	var full *pendingBatch
	if len(pb.items) >= b.cfg.MaxSize {
		pb.timer.Stop()
		full = b.detachLocked(pb)
	}
	b.mu.Unlock()

	if full != nil {
		go b.flush(full)
	}

	select {
	case r := <-it.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// expire is the window timer callback. Only the batch that armed the timer
// may flush, and only if a size flush has not already detached it.
func (b *Batcher) expire(pb *pendingBatch) {
	b.mu.Lock()
	if b.pending[pb.key] != pb {
		b.mu.Unlock()
		return
	}
	b.detachLocked(pb)
	b.mu.Unlock()
	b.flush(pb)
}

func (b *Batcher) detachLocked(pb *pendingBatch) *pendingBatch {
	delete(b.pending, pb.key)
	b.inOut.Add(1)
	return pb
}

func (b *Batcher) flush(pb *pendingBatch) {
	defer b.inOut.Done()
	b.batches.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "batch.Flush")
	defer span.End()
	span.SetAttributes(attribute.String("batch.key", pb.key), attribute.Int("batch.size", len(pb.items)))

	reqs := make([]*llm.Request, len(pb.items))
	for i, it := range pb.items {
		reqs[i] = it.req
	}

	start := time.Now()
	resps, err := b.submit(ctx, pb.provider, reqs)
	if err == nil {
		err = checkResponses(pb.provider.Name(), resps, len(reqs))
	}
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		b.failed.Add(int64(len(pb.items)))
		b.record(pb.key, len(pb.items), "error", elapsed)
		b.logger.Warn("batch failed",
			zap.String("key", pb.key),
			zap.Int("size", len(pb.items)),
			zap.Error(err))

		shared := types.NewBatchFailed(pb.key, err)
		for _, it := range pb.items {
			it.done <- result{err: shared}
		}
		return
	}

	b.completed.Add(int64(len(pb.items)))
	b.record(pb.key, len(pb.items), "success", elapsed)
	b.logger.Debug("batch completed",
		zap.String("key", pb.key),
		zap.Int("size", len(pb.items)),
		zap.Duration("duration", elapsed))

	for i, it := range pb.items {
		it.done <- result{resp: resps[i]}
	}
}

func checkResponses(provider string, resps []*llm.Response, want int) error {
	if len(resps) != want {
		return types.NewProviderInvalidResponse(provider, fmt.Sprintf("batch returned %d responses for %d requests", len(resps), want))
	}
	for i, r := range resps {
		if r == nil {
			return types.NewProviderInvalidResponse(provider, fmt.Sprintf("batch response %d is missing", i))
		}
	}
	return nil
}

func (b *Batcher) record(key string, size int, status string, d time.Duration) {
	if b.recorder != nil {
		b.recorder.RecordBatch(key, size, status, d)
	}
}

// Close flushes every open batch, waits for in-flight batches and rejects
// further Adds.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	open := make([]*pendingBatch, 0, len(b.pending))
	for _, pb := range b.pending {
		pb.timer.Stop()
		open = append(open, b.detachLocked(pb))
	}
	b.mu.Unlock()

	for _, pb := range open {
		go b.flush(pb)
	}
	b.inOut.Wait()
}

// Stats is a snapshot of batcher counters.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Batches   int64 `json:"batches"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Efficiency is the mean number of items per batch.
func (s Stats) Efficiency() float64 {
	if s.Batches == 0 {
		return 0
	}
	return float64(s.Completed+s.Failed) / float64(s.Batches)
}

func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	pending := 0
	for _, pb := range b.pending {
		pending += len(pb.items)
	}
	b.mu.Unlock()
	return Stats{
		Submitted: b.submitted.Load(),
		Batches:   b.batches.Load(),
		Completed: b.completed.Load(),
		Failed:    b.failed.Load(),
		Pending:   pending,
	}
}
