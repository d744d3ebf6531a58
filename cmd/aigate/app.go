package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/api/handlers"
	"github.com/BaSui01/aigate/config"
	"github.com/BaSui01/aigate/internal/database"
	"github.com/BaSui01/aigate/internal/metrics"
	"github.com/BaSui01/aigate/internal/pool"
	"github.com/BaSui01/aigate/internal/rediscache"
	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/batch"
	"github.com/BaSui01/aigate/llm/cache"
	"github.com/BaSui01/aigate/llm/conversation"
	"github.com/BaSui01/aigate/llm/factory"
	"github.com/BaSui01/aigate/llm/store"
	"github.com/BaSui01/aigate/llm/tokenizer"
	"github.com/BaSui01/aigate/llm/usage"
	"github.com/BaSui01/aigate/orchestrator"
)

// usageTxRetries 是 SQL 用量累加的事务重试次数
const usageTxRetries = 3

// =============================================================================
// 🧩 组件装配
// =============================================================================

// gateway 持有一次 serve 生命周期内装配好的全部组件
type gateway struct {
	logger *zap.Logger

	registry     *llm.ProviderRegistry
	orchestrator *orchestrator.Orchestrator
	cache        *cache.SimilarityCache
	tracker      *usage.Tracker
	conversation *conversation.Manager

	redis       *rediscache.Manager
	db          *database.PoolManager
	sideEffects *pool.GoroutinePool

	checks []handlers.HealthCheck

	// 逆序执行的清理函数
	closers []func(context.Context) error
	cancel  context.CancelFunc
}

// buildGateway 按配置装配组件。任一必需组件失败时已创建的资源会被释放。
func buildGateway(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (_ *gateway, err error) {
	g := &gateway{logger: logger}
	bgCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	defer func() {
		if err != nil {
			closeCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
			defer c()
			g.Close(closeCtx)
		}
	}()

	g.registry, err = factory.BuildRegistry(cfg.Providers, cfg.Orchestrator.DefaultProvider, logger)
	if err != nil {
		return nil, fmt.Errorf("build provider registry: %w", err)
	}

	if err = g.openRedis(cfg.Redis); err != nil {
		return nil, err
	}
	if err = g.openDatabase(cfg.Database); err != nil {
		return nil, err
	}

	deps := orchestrator.Deps{Registry: g.registry}
	if collector != nil {
		deps.Recorder = collector
	}

	if cfg.Cache.Enabled {
		if g.cache, err = g.buildCache(ctx, cfg, collector); err != nil {
			return nil, err
		}
		deps.Cache = g.cache
		if cfg.Cache.JanitorInterval > 0 {
			go g.cache.RunJanitor(bgCtx, cfg.Cache.JanitorInterval)
		}
	}

	if g.tracker, err = g.buildTracker(cfg.Usage, collector); err != nil {
		return nil, err
	}
	deps.Tracker = g.tracker

	if cfg.Usage.RecordInteractions {
		if g.db == nil {
			return nil, errors.New("usage.record_interactions requires a database")
		}
		deps.Interactions = usage.NewSQLInteractionLog(store.NewInteractionRepository(g.db.DB()))
	}

	if g.conversation, err = g.buildConversation(ctx, cfg); err != nil {
		return nil, err
	}
	deps.Context = g.conversation

	batcher := batch.New(batch.Config{
		MaxSize: cfg.Batch.MaxSize,
		Window:  cfg.Batch.Window,
		Timeout: cfg.Batch.Timeout,
	}, nil, logger)
	if collector != nil {
		batcher.WithRecorder(collector)
	}
	deps.Batcher = batcher

	// 失败已由编排器带请求字段记录，这里只处理 panic
	g.sideEffects = pool.NewGoroutinePool(pool.Config{
		Workers:   cfg.Orchestrator.SideEffectWorkers,
		QueueSize: cfg.Orchestrator.SideEffectQueue,
		OnPanic: func(name string, v any) {
			logger.Error("side effect panicked", zap.String("side_effect", name), zap.Any("panic", v))
		},
	})
	deps.SideEffects = g.sideEffects

	g.orchestrator, err = orchestrator.New(orchestrator.Config{
		ProviderTimeout:   cfg.Orchestrator.ProviderTimeout,
		SideEffectTimeout: cfg.Orchestrator.SideEffectTimeout,
	}, policyFromConfig(cfg), deps, logger)
	if err != nil {
		batcher.Close()
		g.sideEffects.Close()
		return nil, err
	}
	g.addCloser(func(context.Context) error {
		g.orchestrator.Close()
		return nil
	})

	logger.Info("gateway assembled",
		zap.Strings("providers", g.registry.Names()),
		zap.String("default_provider", g.registry.DefaultName()),
		zap.Bool("cache", g.cache != nil),
		zap.String("usage_store", cfg.Usage.Store),
		zap.String("conversation_store", cfg.Conversation.Store),
	)
	return g, nil
}

func (g *gateway) addCloser(fn func(context.Context) error) {
	g.closers = append(g.closers, fn)
}

func (g *gateway) addCheck(name string, fn func(context.Context) error) {
	g.checks = append(g.checks, handlers.NewCheck(name, fn))
}

// openRedis 连接 Redis；未配置地址时跳过
func (g *gateway) openRedis(cfg config.RedisConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	rcfg := rediscache.DefaultConfig()
	rcfg.Addr = cfg.Addr
	rcfg.Password = cfg.Password
	rcfg.DB = cfg.DB
	if cfg.PoolSize > 0 {
		rcfg.PoolSize = cfg.PoolSize
	}
	rcfg.MinIdleConns = cfg.MinIdleConns

	m, err := rediscache.NewManager(rcfg, g.logger)
	if err != nil {
		return err
	}
	g.redis = m
	g.addCloser(func(context.Context) error { return m.Close() })
	g.addCheck("redis", m.Ping)
	return nil
}

// openDatabase 连接 SQL 数据库；未配置驱动时跳过
func (g *gateway) openDatabase(cfg config.DatabaseConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	pm, err := database.Open(cfg, g.logger)
	if err != nil {
		return err
	}
	g.db = pm
	g.addCloser(func(context.Context) error { return pm.Close() })
	g.addCheck("database", pm.Ping)

	if cfg.AutoMigrate {
		if err := store.AutoMigrate(pm.DB()); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		g.logger.Info("database schema migrated", zap.String("driver", cfg.Driver))
	}
	return nil
}

// buildCache 装配相似度缓存：嵌入 Provider + 向量索引 + 条目存储
func (g *gateway) buildCache(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (*cache.SimilarityCache, error) {
	embedder, err := g.registry.ResolveEmbedder(cfg.Cache.EmbeddingProvider)
	if err != nil {
		return nil, fmt.Errorf("cache embedding provider: %w", err)
	}

	var index cache.VectorIndex
	switch cfg.Cache.Index {
	case "milvus":
		mi, err := cache.NewMilvusIndex(ctx, cache.MilvusConfig{
			Address:            cfg.Milvus.Address,
			Username:           cfg.Milvus.Username,
			Password:           cfg.Milvus.Password,
			Collection:         cfg.Milvus.Collection,
			Dimension:          cfg.Milvus.Dimension,
			HNSWM:              cfg.Milvus.HNSWM,
			HNSWEfConstruction: cfg.Milvus.HNSWEfConstruction,
			SearchEf:           cfg.Milvus.SearchEf,
		})
		if err != nil {
			return nil, fmt.Errorf("open milvus index: %w", err)
		}
		g.addCloser(func(context.Context) error { return mi.Close() })
		index = mi
	default:
		index = cache.NewMemoryIndex()
	}

	var entries cache.EntryStore
	switch cfg.Cache.Store {
	case "redis":
		if g.redis == nil {
			return nil, errors.New("cache.store redis requires redis.addr")
		}
		entries = cache.NewRedisStore(g.redis.Client())
	default:
		entries = cache.NewMemoryStore()
	}

	c := cache.New(embedder, index, entries, cache.Config{
		Threshold:   cfg.Cache.SimilarityThreshold,
		SearchLimit: cfg.Cache.SearchLimit,
		TTL:         ttlPolicyFromConfig(cfg),
	}, g.logger)
	if collector != nil {
		c.WithRecorder(collector)
	}
	return c, nil
}

// buildTracker 装配成本追踪器
func (g *gateway) buildTracker(cfg config.UsageConfig, collector *metrics.Collector) (*usage.Tracker, error) {
	period, err := usage.ParsePeriod(cfg.Period)
	if err != nil {
		return nil, err
	}

	var st usage.Store
	switch cfg.Store {
	case "redis":
		if g.redis == nil {
			return nil, errors.New("usage.store redis requires redis.addr")
		}
		st = usage.NewRedisStore(g.redis.Client(), cfg.Retention)
	case "sql":
		if g.db == nil {
			return nil, errors.New("usage.store sql requires a database")
		}
		st = usage.NewSQLStore(store.NewUsageRepository(g.db.DB()).WithRetry(g.db, usageTxRetries))
	default:
		st = usage.NewMemoryStore()
	}

	t := usage.NewTracker(st, period, g.logger)
	if collector != nil {
		t.WithRecorder(collector)
	}
	return t, nil
}

// buildConversation 装配会话上下文管理器
func (g *gateway) buildConversation(ctx context.Context, cfg *config.Config) (*conversation.Manager, error) {
	var st conversation.Store
	switch cfg.Conversation.Store {
	case "sql":
		if g.db == nil {
			return nil, errors.New("conversation.store sql requires a database")
		}
		st = conversation.NewSQLStore(store.NewConversationRepository(g.db.DB()))
	case "mongo":
		ms, err := conversation.NewMongoStore(ctx, conversation.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
			Timeout:    cfg.Mongo.Timeout,
		})
		if err != nil {
			return nil, err
		}
		g.addCloser(ms.Close)
		g.addCheck("mongo", ms.Ping)
		st = ms
	default:
		st = conversation.NewMemoryStore(cfg.Conversation.Retention)
	}

	var counter tokenizer.Counter
	if p, ok := cfg.Provider(g.registry.DefaultName()); ok {
		counter = tokenizer.For(p.Model)
	}

	def, byFeature := limitsFromConfig(cfg)
	m := conversation.NewManager(st, counter, def, g.logger)
	m.SetLimits(def, byFeature)
	return m, nil
}

// applyConfig 应用可热重载的部分：路由表、缓存 TTL 与会话限制
func (g *gateway) applyConfig(cfg *config.Config) {
	g.orchestrator.SetPolicy(policyFromConfig(cfg))
	if g.cache != nil {
		g.cache.SetTTLPolicy(ttlPolicyFromConfig(cfg))
	}
	def, byFeature := limitsFromConfig(cfg)
	g.conversation.SetLimits(def, byFeature)
}

// Close 停止后台任务并按装配的逆序释放资源
func (g *gateway) Close(ctx context.Context) {
	if g.cancel != nil {
		g.cancel()
	}
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](ctx); err != nil {
			g.logger.Warn("close failed", zap.Error(err))
		}
	}
	g.closers = nil
}

// =============================================================================
// 🔄 配置转换
// =============================================================================

// policyFromConfig 构造路由表
func policyFromConfig(cfg *config.Config) orchestrator.Policy {
	p := orchestrator.Policy{
		DefaultProvider: cfg.Orchestrator.DefaultProvider,
		DefaultFallback: cfg.Orchestrator.DefaultFallback,
		Features:        make(map[llm.Feature]orchestrator.FeaturePolicy, len(cfg.Orchestrator.Features)),
	}
	for name, f := range cfg.Orchestrator.Features {
		p.Features[llm.Feature(name)] = orchestrator.FeaturePolicy{
			Provider: f.Provider,
			Fallback: f.Fallback,
			Batch:    f.Batch,
			Timeout:  f.Timeout,
		}
	}
	return p
}

// ttlPolicyFromConfig 构造缓存 TTL 表；未配置 cache_ttl 的特性使用 default_ttl
func ttlPolicyFromConfig(cfg *config.Config) cache.TTLPolicy {
	p := cache.TTLPolicy{
		Default:   cfg.Cache.DefaultTTL,
		ByFeature: make(map[llm.Feature]time.Duration),
	}
	for name, f := range cfg.Orchestrator.Features {
		if f.CacheTTL > 0 {
			p.ByFeature[llm.Feature(name)] = f.CacheTTL
		}
	}
	return p
}

// limitsFromConfig 构造会话限制；特性未配置的字段继承默认值
func limitsFromConfig(cfg *config.Config) (conversation.Limits, map[llm.Feature]conversation.Limits) {
	def := conversation.Limits{
		HistoryLimit:  cfg.Conversation.HistoryLimit,
		ContextTokens: cfg.Conversation.ContextTokens,
	}
	byFeature := make(map[llm.Feature]conversation.Limits)
	for name, f := range cfg.Orchestrator.Features {
		if f.HistoryLimit == 0 && f.ContextTokens == 0 {
			continue
		}
		l := def
		if f.HistoryLimit > 0 {
			l.HistoryLimit = f.HistoryLimit
		}
		if f.ContextTokens > 0 {
			l.ContextTokens = f.ContextTokens
		}
		byFeature[llm.Feature(name)] = l
	}
	return def, byFeature
}
