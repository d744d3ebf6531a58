package config

import (
	"time"

	"github.com/BaSui01/aigate/llm/providers"
)

// DefaultConfig 不读文件和环境变量时的完整配置。
// Redis.Addr 与 Database.Driver 为空，对应的后端默认不启用。
// Provider 密钥通过 YAML 中的 ${OPENAI_API_KEY} 之类引用注入。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    10,
			RateLimitBurst:  20,
		},
		Auth:  AuthConfig{JWTIssuer: "aigate"},
		Redis: RedisConfig{PoolSize: 10, MinIdleConns: 2},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "aigate",
			Name:            "aigate",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "aigate",
			Collection: "conversation_turns",
			Timeout:    10 * time.Second,
		},
		Milvus: MilvusConfig{
			Address:    "localhost:19530",
			Collection: "aigate_response_cache",
			// text-embedding-3-small
			Dimension:          1536,
			HNSWM:              16,
			HNSWEfConstruction: 200,
			SearchEf:           64,
		},
		Providers: []providers.Config{
			{Name: "openai", Type: "openai", Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small", Timeout: 30 * time.Second},
			{Name: "anthropic", Type: "anthropic", Model: "claude-3-5-sonnet-latest", EmbeddingsFrom: "openai", Timeout: time.Minute},
		},
		Orchestrator: OrchestratorConfig{
			DefaultProvider:   "openai",
			ProviderTimeout:   30 * time.Second,
			SideEffectTimeout: 10 * time.Second,
			SideEffectWorkers: 16,
			SideEffectQueue:   1024,
			Features:          DefaultFeatures(),
		},
		Cache: CacheConfig{
			Enabled:             true,
			Index:               "memory",
			Store:               "memory",
			SimilarityThreshold: 0.85,
			SearchLimit:         5,
			DefaultTTL:          24 * time.Hour,
			JanitorInterval:     5 * time.Minute,
		},
		Batch:        BatchConfig{MaxSize: 10, Window: 100 * time.Millisecond, Timeout: 30 * time.Second},
		Usage:        UsageConfig{Store: "memory", Period: "day", Retention: 40 * 24 * time.Hour},
		Conversation: ConversationConfig{Store: "memory", HistoryLimit: 10, ContextTokens: 2000, Retention: 100},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "aigate",
			SampleRate:   0.1,
		},
	}
}

// DefaultFeatures 内置特性路由表
func DefaultFeatures() map[string]FeatureConfig {
	return map[string]FeatureConfig{
		"clarity":   {Provider: "openai", Fallback: "anthropic", Batch: true, CacheTTL: 7 * 24 * time.Hour},
		"max":       {Provider: "anthropic", Fallback: "openai"},
		"companion": {Provider: "anthropic", Fallback: "openai", CacheTTL: time.Hour, HistoryLimit: 20},
		"negotiate": {Provider: "anthropic", Fallback: "openai"},
	}
}
