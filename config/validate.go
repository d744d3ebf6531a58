package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	knownProviderTypes = []string{"openai", "anthropic", "claude", "openaicompat"}
	knownDrivers       = []string{"postgres", "mysql", "sqlite"}
	knownIndexes       = []string{"memory", "milvus"}
	knownEntryStores   = []string{"memory", "redis"}
	knownUsageStores   = []string{"memory", "redis", "sql"}
	knownPeriods       = []string{"day", "daily", "month", "monthly"}
	knownConvStores    = []string{"memory", "sql", "mongo"}
	knownLogLevels     = []string{"debug", "info", "warn", "error"}
)

// Validate 校验配置，返回所有问题的汇总
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	// 服务器
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		add("invalid HTTP port %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		add("invalid metrics port %d", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		add("metrics port must differ from HTTP port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		add("tls_cert_file and tls_key_file must be set together")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		add("rate limit must not be negative")
	}

	// Provider
	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		name := providerName(p)
		if !slices.Contains(knownProviderTypes, p.Type) {
			add("provider %q: unknown type %q", name, p.Type)
		}
		if names[name] {
			add("duplicate provider %q", name)
		}
		names[name] = true
	}
	for _, p := range c.Providers {
		if p.EmbeddingsFrom != "" && !names[p.EmbeddingsFrom] {
			add("provider %q: embeddings_from %q is not configured", providerName(p), p.EmbeddingsFrom)
		}
	}
	if len(c.Providers) == 0 {
		add("at least one provider is required")
	}

	// 编排
	o := c.Orchestrator
	if !names[o.DefaultProvider] {
		add("default provider %q is not configured", o.DefaultProvider)
	}
	if o.DefaultFallback != "" && !names[o.DefaultFallback] {
		add("default fallback %q is not configured", o.DefaultFallback)
	}
	features := make([]string, 0, len(o.Features))
	for f := range o.Features {
		features = append(features, f)
	}
	sort.Strings(features)
	for _, f := range features {
		fc := o.Features[f]
		if strings.TrimSpace(f) == "" {
			add("feature name must not be empty")
		}
		if fc.Provider != "" && !names[fc.Provider] {
			add("feature %q: provider %q is not configured", f, fc.Provider)
		}
		if fc.Fallback != "" && !names[fc.Fallback] {
			add("feature %q: fallback %q is not configured", f, fc.Fallback)
		}
		if fc.Timeout < 0 || fc.CacheTTL < 0 || fc.HistoryLimit < 0 || fc.ContextTokens < 0 {
			add("feature %q: limits must not be negative", f)
		}
	}

	// 缓存
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		add("cache similarity_threshold must be in (0,1], got %v", c.Cache.SimilarityThreshold)
	}
	if c.Cache.Enabled {
		if !slices.Contains(knownIndexes, c.Cache.Index) {
			add("unknown cache index %q", c.Cache.Index)
		}
		if !slices.Contains(knownEntryStores, c.Cache.Store) {
			add("unknown cache store %q", c.Cache.Store)
		}
		if c.Cache.Store == "redis" && !c.Redis.Enabled() {
			add("cache store redis requires redis.addr")
		}
		if c.Cache.Index == "milvus" && (c.Milvus.Address == "" || c.Milvus.Dimension <= 0) {
			add("cache index milvus requires milvus.address and milvus.dimension")
		}
		if c.Cache.EmbeddingProvider != "" && !names[c.Cache.EmbeddingProvider] {
			add("cache embedding_provider %q is not configured", c.Cache.EmbeddingProvider)
		}
	}

	// 批处理
	if c.Batch.MaxSize < 1 {
		add("batch max_size must be >= 1")
	}
	if c.Batch.Window <= 0 {
		add("batch window must be positive")
	}

	// 成本追踪
	if !slices.Contains(knownUsageStores, c.Usage.Store) {
		add("unknown usage store %q", c.Usage.Store)
	}
	if c.Usage.Period != "" && !slices.Contains(knownPeriods, c.Usage.Period) {
		add("unknown usage period %q", c.Usage.Period)
	}
	if c.Usage.Store == "redis" && !c.Redis.Enabled() {
		add("usage store redis requires redis.addr")
	}
	if (c.Usage.Store == "sql" || c.Usage.RecordInteractions) && !c.Database.Enabled() {
		add("usage store sql and record_interactions require database.driver")
	}

	// 会话
	if !slices.Contains(knownConvStores, c.Conversation.Store) {
		add("unknown conversation store %q", c.Conversation.Store)
	}
	if c.Conversation.Store == "sql" && !c.Database.Enabled() {
		add("conversation store sql requires database.driver")
	}
	if c.Conversation.Store == "mongo" && c.Mongo.URI == "" {
		add("conversation store mongo requires mongo.uri")
	}

	// 数据库
	if c.Database.Enabled() && !slices.Contains(knownDrivers, c.Database.Driver) {
		add("unknown database driver %q", c.Database.Driver)
	}

	// 日志
	if !slices.Contains(knownLogLevels, strings.ToLower(c.Log.Level)) {
		add("unknown log level %q", c.Log.Level)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry sample_rate must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
