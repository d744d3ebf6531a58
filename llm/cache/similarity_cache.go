package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/types"
)

// DefaultThreshold is the minimum cosine similarity for a hit.
const DefaultThreshold = 0.85

// Config configures a SimilarityCache.
type Config struct {
	Threshold   float64
	SearchLimit int
	TTL         TTLPolicy
	CacheType   string
	// EmbedTimeout bounds one shared embedding call.
	EmbedTimeout time.Duration
}

// DefaultConfig returns the shipped cache settings.
func DefaultConfig() Config {
	return Config{
		Threshold:    DefaultThreshold,
		SearchLimit:  5,
		TTL:          DefaultTTLPolicy(),
		CacheType:    "similarity",
		EmbedTimeout: 10 * time.Second,
	}
}

// SimilarityCache serves stored responses for similar prompts.
type SimilarityCache struct {
	embedder llm.Embedder
	index    VectorIndex
	store    EntryStore
	cfg      Config
	ttl      policyHolder
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	embedGroup singleflight.Group
}

// New creates a cache over the given embedder, index and entry store.
func New(embedder llm.Embedder, index VectorIndex, store EntryStore, cfg Config, logger *zap.Logger) *SimilarityCache {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if cfg.CacheType == "" {
		cfg.CacheType = "similarity"
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &SimilarityCache{
		embedder: embedder,
		index:    index,
		store:    store,
		cfg:      cfg,
		recorder: nopRecorder{},
		logger:   logger.With(zap.String("component", "similarity_cache")),
		now:      time.Now,
	}
	c.ttl.store(cfg.TTL)
	return c
}

// WithRecorder sets the metrics sink.
func (c *SimilarityCache) WithRecorder(r Recorder) *SimilarityCache {
	if r != nil {
		c.recorder = r
	}
	return c
}

// SetTTLPolicy swaps the feature TTL table. Existing entries keep the TTL
// they were stored with.
func (c *SimilarityCache) SetTTLPolicy(p TTLPolicy) {
	c.ttl.store(p)
}

// TTLPolicy returns the active TTL table.
func (c *SimilarityCache) TTLPolicy() TTLPolicy {
	return c.ttl.load()
}

// Get returns a copy of the best live stored response for req, tagged
// cached. Any internal failure is a miss.
func (c *SimilarityCache) Get(ctx context.Context, req *llm.Request) (*llm.Response, bool) {
	ctx, span := tracer.Start(ctx, "cache.Get")
	defer span.End()

	vec, err := c.embed(ctx, req.Prompt)
	if err != nil {
		c.fail("embed", req, err)
		return nil, false
	}

	matches, err := c.index.Search(ctx, req.Scope(), vec, c.cfg.Threshold, c.cfg.SearchLimit)
	if err != nil {
		c.fail("search", req, err)
		return nil, false
	}

	now := c.now()
	var best *Entry
	var bestScore float64
	for _, m := range matches {
		if m.Score < c.cfg.Threshold {
			continue
		}
		e, err := c.store.Get(ctx, m.ID)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			c.fail("load", req, err)
			continue
		}
		if e.Expired(now) || e.Response == nil {
			continue
		}
		if best == nil || m.Score > bestScore || (m.Score == bestScore && e.CreatedAt.After(best.CreatedAt)) {
			best, bestScore = e, m.Score
		}
	}

	if best == nil {
		c.recorder.RecordCacheMiss(c.cfg.CacheType)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}

	c.recorder.RecordCacheHit(c.cfg.CacheType)
	span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Float64("cache.score", bestScore))

	resp := best.Response.Clone()
	resp.Cached = true
	resp.CacheScore = bestScore
	resp.Context = nil
	return resp, true
}

// Set stores resp as the answer for req, replacing any entry with the same
// identity. The embedding is always recomputed. Failures are logged only.
func (c *SimilarityCache) Set(ctx context.Context, req *llm.Request, resp *llm.Response) {
	ctx, span := tracer.Start(ctx, "cache.Set")
	defer span.End()

	vec, err := c.embed(ctx, req.Prompt)
	if err != nil {
		c.fail("embed", req, err)
		return
	}

	// Entries are shared across users; conversation history stays with its owner.
	stored := resp.Clone()
	stored.Cached = false
	stored.CacheScore = 0
	stored.Context = nil

	storedReq := req.Clone()
	storedReq.Conversation = nil

	e := &Entry{
		ID:        req.Identity(),
		Scope:     req.Scope(),
		Embedding: vec,
		Request:   storedReq,
		Response:  stored,
		CreatedAt: c.now(),
		TTL:       c.ttl.load().TTL(req.Feature),
	}

	if err := c.store.Put(ctx, e); err != nil {
		c.fail("put", req, err)
		return
	}
	if err := c.index.Upsert(ctx, e.ID, e.Scope, vec, e.ExpiresAt()); err != nil {
		c.fail("upsert", req, err)
		_ = c.store.Delete(ctx, e.ID)
	}
}

// Prune sweeps expired entries from backends that need it.
func (c *SimilarityCache) Prune() int {
	now := c.now()
	n := 0
	if p, ok := c.index.(Pruner); ok {
		n += p.Prune(now)
	}
	if p, ok := c.store.(Pruner); ok {
		p.Prune(now)
	}
	return n
}

// RunJanitor prunes on every tick until ctx is done.
func (c *SimilarityCache) RunJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Prune(); n > 0 {
				c.logger.Debug("pruned expired cache vectors", zap.Int("count", n))
			}
		}
	}
}

// embed coalesces concurrent embeddings of the same prompt. The shared call
// is detached from any single caller; each caller only waits on its own ctx.
func (c *SimilarityCache) embed(ctx context.Context, prompt string) ([]float64, error) {
	ch := c.embedGroup.DoChan(prompt, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.EmbedTimeout)
		defer cancel()
		return c.embedder.GenerateEmbedding(sctx, prompt)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	vec, _ := res.Val.([]float64)
	if len(vec) == 0 {
		return nil, errors.New("empty embedding")
	}
	return vec, nil
}

func (c *SimilarityCache) fail(op string, req *llm.Request, err error) {
	c.recorder.RecordCacheError(c.cfg.CacheType, op)
	c.logger.Warn("cache degraded to miss",
		zap.String("op", op),
		zap.String("feature", string(req.Feature)),
		zap.String("user_id", req.UserID),
		zap.Error(types.NewCacheUnavailable(err)),
	)
}
