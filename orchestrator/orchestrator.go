package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/BaSui01/aigate/internal/pool"
	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/usage"
	"github.com/BaSui01/aigate/types"
)

var tracer = otel.Tracer("aigate/orchestrator")

// ResponseCache is the similarity cache seen by the orchestrator.
type ResponseCache interface {
	Get(ctx context.Context, req *llm.Request) (*llm.Response, bool)
	Set(ctx context.Context, req *llm.Request, resp *llm.Response)
}

// ContextManager enriches requests and records finished exchanges.
type ContextManager interface {
	Enhance(ctx context.Context, req *llm.Request) (*llm.Request, error)
	Record(ctx context.Context, req *llm.Request, resp *llm.Response) error
}

// CostTracker accumulates usage. Track must not fail the caller.
type CostTracker interface {
	Track(ctx context.Context, userID string, feature llm.Feature, u llm.Usage)
}

// Batcher coalesces requests for one provider.
type Batcher interface {
	Add(ctx context.Context, p llm.Provider, req *llm.Request) (*llm.Response, error)
	Close()
}

// Recorder receives orchestration outcomes.
type Recorder interface {
	RecordRequest(feature, provider, outcome string, d time.Duration)
	RecordFallback(feature, from, to string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, string, time.Duration) {}
func (nopRecorder) RecordFallback(string, string, string)               {}

// Outcomes reported to the Recorder.
const (
	OutcomeCacheHit        = "cache_hit"
	OutcomeSuccess         = "success"
	OutcomeFallbackSuccess = "fallback_success"
	OutcomeFailed          = "failed"
)

// Config tunes the orchestrator.
type Config struct {
	// ProviderTimeout bounds each provider call.
	ProviderTimeout time.Duration `json:"provider_timeout" yaml:"provider_timeout"`

	// SideEffectTimeout bounds each background side effect.
	SideEffectTimeout time.Duration `json:"side_effect_timeout" yaml:"side_effect_timeout"`
}

// DefaultConfig returns a 30s provider timeout.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout:   30 * time.Second,
		SideEffectTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators of an Orchestrator. Only Registry is required;
// nil collaborators disable their step.
type Deps struct {
	Registry     *llm.ProviderRegistry
	Cache        ResponseCache
	Context      ContextManager
	Tracker      CostTracker
	Interactions usage.InteractionLog
	Batcher      Batcher
	SideEffects  *pool.GoroutinePool
	Recorder     Recorder
}

// Orchestrator coordinates cache, providers, batching and accounting.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	policy atomic.Pointer[Policy]
	logger *zap.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(cfg Config, policy Policy, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("provider registry is required")
	}
	def := DefaultConfig()
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = def.ProviderTimeout
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = def.SideEffectTimeout
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("component", "orchestrator")),
		now:    time.Now,
	}
	o.SetPolicy(policy)
	return o, nil
}

// SetPolicy swaps the routing table. In-flight requests keep the table they
// started with.
func (o *Orchestrator) SetPolicy(p Policy) {
	o.policy.Store(p.clone())
}

// Policy returns a copy of the current routing table.
func (o *Orchestrator) Policy() Policy {
	return *o.policy.Load().clone()
}

// Process answers req. The only error besides request validation is
// OrchestrationFailed.
func (o *Orchestrator) Process(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := o.now()

	ctx, span := tracer.Start(ctx, "orchestrator.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("feature", string(req.Feature)),
		attribute.String("user_id", req.UserID),
	)

	identity := req.Identity()

	if o.deps.Cache != nil {
		if hit, ok := o.deps.Cache.Get(ctx, req); ok {
			hit.Context = nil
			hit.LatencyMs = o.now().Sub(start).Milliseconds()
			span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Float64("cache.score", hit.CacheScore))
			o.deps.Recorder.RecordRequest(string(req.Feature), hit.ProviderName, OutcomeCacheHit, o.now().Sub(start))
			o.logInteraction(ctx, req, identity, hit, start)
			return hit, nil
		}
	}

	rt := o.policy.Load().route(req.Feature, o.cfg.ProviderTimeout)
	enhanced := o.enhance(ctx, req)

	resp, served, outcome, err := o.dispatch(ctx, enhanced, rt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "orchestration failed")
		o.deps.Recorder.RecordRequest(string(req.Feature), rt.primary, OutcomeFailed, o.now().Sub(start))
		return nil, err
	}

	resp.ProviderName = served
	resp.Cached = false
	resp.CacheScore = 0
	resp.Context = enhanced.Conversation.Clone()
	resp.LatencyMs = o.now().Sub(start).Milliseconds()
	span.SetAttributes(attribute.String("provider", served), attribute.Bool("cache.hit", false))
	o.deps.Recorder.RecordRequest(string(req.Feature), served, outcome, o.now().Sub(start))

	stored := resp.Clone()
	o.afterSuccess(ctx, req, identity, stored, start)
	return resp, nil
}

func (o *Orchestrator) enhance(ctx context.Context, req *llm.Request) *llm.Request {
	if o.deps.Context == nil {
		return req.Clone()
	}
	enhanced, err := o.deps.Context.Enhance(ctx, req)
	if err != nil {
		o.logger.Warn("context enhancement failed",
			zap.String("user_id", req.UserID),
			zap.String("feature", string(req.Feature)),
			zap.Error(err))
	}
	if enhanced == nil {
		enhanced = req.Clone()
	}
	return enhanced
}

// dispatch calls the primary and, on failure, the fallback exactly once.
func (o *Orchestrator) dispatch(ctx context.Context, req *llm.Request, rt route) (*llm.Response, string, string, error) {
	resp, primaryErr := o.call(ctx, rt.primary, req, rt.batch, rt.timeout)
	if primaryErr == nil {
		return resp, rt.primary, OutcomeSuccess, nil
	}

	o.logger.Warn("primary provider failed",
		zap.String("feature", string(req.Feature)),
		zap.String("provider", rt.primary),
		zap.String("fallback", rt.fallback),
		zap.Error(primaryErr))

	if rt.fallback == "" {
		return nil, "", OutcomeFailed, types.NewOrchestrationFailed(string(req.Feature), primaryErr, nil)
	}

	o.deps.Recorder.RecordFallback(string(req.Feature), rt.primary, rt.fallback)
	resp, fallbackErr := o.call(ctx, rt.fallback, req, false, rt.timeout)
	if fallbackErr == nil {
		return resp, rt.fallback, OutcomeFallbackSuccess, nil
	}

	o.logger.Error("fallback provider failed",
		zap.String("feature", string(req.Feature)),
		zap.String("provider", rt.fallback),
		zap.Error(fallbackErr))
	return nil, "", OutcomeFailed, types.NewOrchestrationFailed(string(req.Feature), primaryErr, fallbackErr)
}

// call performs one bounded provider call. Every failure, including an
// unknown provider and an expired deadline, comes back as an error.
func (o *Orchestrator) call(ctx context.Context, name string, req *llm.Request, batch bool, timeout time.Duration) (*llm.Response, error) {
	p, err := o.deps.Registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "orchestrator.call")
	defer span.End()
	span.SetAttributes(attribute.String("provider", name), attribute.Bool("batched", batch))

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resp *llm.Response
	if batch && o.deps.Batcher != nil {
		resp, err = o.deps.Batcher.Add(cctx, p, req)
	} else {
		resp, err = p.GenerateText(cctx, req)
	}

	switch {
	case err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !isTyped(err):
		err = types.NewUpstreamTimeout(name, err)
	case err == nil && resp == nil:
		err = types.NewProviderInvalidResponse(name, "empty response")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return nil, err
	}
	return resp.Clone(), nil
}

func isTyped(err error) bool {
	_, ok := types.AsError(err)
	return ok
}

// afterSuccess runs the background side effects of a provider response.
func (o *Orchestrator) afterSuccess(ctx context.Context, req *llm.Request, identity string, resp *llm.Response, start time.Time) {
	feature := string(req.Feature)
	fields := []zap.Field{zap.String("user_id", req.UserID), zap.String("feature", feature)}

	if o.deps.Tracker != nil {
		o.background(ctx, "track_cost", fields, func(ctx context.Context) error {
			o.deps.Tracker.Track(ctx, req.UserID, req.Feature, resp.Usage)
			return nil
		})
	}
	if o.deps.Cache != nil {
		cacheReq := req.Clone()
		o.background(ctx, "cache_set", fields, func(ctx context.Context) error {
			o.deps.Cache.Set(ctx, cacheReq, resp)
			return nil
		})
	}
	if o.deps.Context != nil {
		convReq := req.Clone()
		o.background(ctx, "record_conversation", fields, func(ctx context.Context) error {
			return o.deps.Context.Record(ctx, convReq, resp)
		})
	}
	o.logInteraction(ctx, req, identity, resp, start)
}

func (o *Orchestrator) logInteraction(ctx context.Context, req *llm.Request, identity string, resp *llm.Response, start time.Time) {
	if o.deps.Interactions == nil {
		return
	}
	in := usage.Interaction{
		UserID:      req.UserID,
		Feature:     string(req.Feature),
		RequestHash: identity,
		Provider:    resp.ProviderName,
		Model:       resp.ModelID,
		LatencyMs:   resp.LatencyMs,
		Cached:      resp.Cached,
		CacheScore:  resp.CacheScore,
		Timestamp:   start.UTC(),
	}
	if !resp.Cached {
		in.PromptUnits = resp.Usage.PromptUnits
		in.CompletionUnits = resp.Usage.CompletionUnits
		in.TotalCost = resp.Usage.TotalCost
	}
	o.background(ctx, "log_interaction", []zap.Field{zap.String("user_id", req.UserID), zap.String("feature", in.Feature)},
		func(ctx context.Context) error {
			return o.deps.Interactions.Append(ctx, in)
		})
}

// background runs fn detached from the caller's cancellation but keeping its
// values, bounded by SideEffectTimeout. Failures are logged here and counted
// by the pool.
func (o *Orchestrator) background(ctx context.Context, name string, fields []zap.Field, fn func(ctx context.Context) error) {
	task := func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, o.cfg.SideEffectTimeout)
		defer cancel()
		err := fn(tctx)
		if err != nil {
			o.logger.Warn("side effect failed", append(fields, zap.String("side_effect", name), zap.Error(err))...)
		}
		return err
	}

	detached := context.WithoutCancel(ctx)
	if o.deps.SideEffects == nil {
		go func() { _ = task(detached) }()
		return
	}
	if err := o.deps.SideEffects.Submit(detached, name, task); err != nil {
		o.logger.Warn("side effect dropped", append(fields, zap.String("side_effect", name), zap.Error(err))...)
	}
}

// Close flushes pending batches and waits for queued side effects.
func (o *Orchestrator) Close() {
	if o.deps.Batcher != nil {
		o.deps.Batcher.Close()
	}
	if o.deps.SideEffects != nil {
		o.deps.SideEffects.Close()
	}
}
