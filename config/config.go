package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/aigate/llm/providers"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 aigate 的完整配置结构
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Auth         AuthConfig         `yaml:"auth" env:"AUTH"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Database     DatabaseConfig     `yaml:"database" env:"DATABASE"`
	Mongo        MongoConfig        `yaml:"mongo" env:"MONGO"`
	Milvus       MilvusConfig       `yaml:"milvus" env:"MILVUS"`
	Providers    []providers.Config `yaml:"providers" env:"-"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`
	Cache        CacheConfig        `yaml:"cache" env:"CACHE"`
	Batch        BatchConfig        `yaml:"batch" env:"BATCH"`
	Usage        UsageConfig        `yaml:"usage" env:"USAGE"`
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示不单独暴露
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个用户每秒请求数
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 明文 HTTP/2
	EnableH2C bool `yaml:"enable_h2c" env:"ENABLE_H2C"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 证书与私钥，都设置时 API 端口以 HTTPS 监听
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// AuthConfig 认证配置。JWTSecret 与 APIKeys 都为空且不允许匿名时拒绝所有请求。
type AuthConfig struct {
	JWTSecret      string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer      string   `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	APIKeys        []string `yaml:"api_keys" env:"API_KEYS"`
	AllowAnonymous bool     `yaml:"allow_anonymous" env:"ALLOW_ANONYMOUS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址，为空表示不使用 Redis
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite；为空表示不使用 SQL
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 下为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 连接池
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// Enabled reports whether a SQL driver is configured.
func (d DatabaseConfig) Enabled() bool { return d.Driver != "" }

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" env:"URI"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MilvusConfig Milvus 向量索引配置
type MilvusConfig struct {
	Address            string `yaml:"address" env:"ADDRESS"`
	Username           string `yaml:"username" env:"USERNAME"`
	Password           string `yaml:"password" env:"PASSWORD"`
	Collection         string `yaml:"collection" env:"COLLECTION"`
	Dimension          int    `yaml:"dimension" env:"DIMENSION"`
	HNSWM              int    `yaml:"hnsw_m" env:"HNSW_M"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction" env:"HNSW_EF_CONSTRUCTION"`
	SearchEf           int    `yaml:"search_ef" env:"SEARCH_EF"`
}

// OrchestratorConfig 路由与副作用配置
type OrchestratorConfig struct {
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	// 未在 features 中配置的特性使用的备用 Provider
	DefaultFallback   string        `yaml:"default_fallback" env:"DEFAULT_FALLBACK"`
	ProviderTimeout   time.Duration `yaml:"provider_timeout" env:"PROVIDER_TIMEOUT"`
	SideEffectTimeout time.Duration `yaml:"side_effect_timeout" env:"SIDE_EFFECT_TIMEOUT"`
	SideEffectWorkers int           `yaml:"side_effect_workers" env:"SIDE_EFFECT_WORKERS"`
	SideEffectQueue   int           `yaml:"side_effect_queue" env:"SIDE_EFFECT_QUEUE"`
	// 按特性的路由表，可热重载
	Features map[string]FeatureConfig `yaml:"features" env:"-"`
}

// FeatureConfig 单个特性的策略
type FeatureConfig struct {
	Provider string        `yaml:"provider"`
	Fallback string        `yaml:"fallback"`
	Batch    bool          `yaml:"batch"`
	Timeout  time.Duration `yaml:"timeout"`
	// 缓存条目寿命，0 表示使用 cache.default_ttl
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// 0 表示使用 conversation 段的默认值
	HistoryLimit  int `yaml:"history_limit"`
	ContextTokens int `yaml:"context_tokens"`
}

// CacheConfig 相似度缓存配置
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 向量索引: memory, milvus
	Index string `yaml:"index" env:"INDEX"`
	// 条目存储: memory, redis
	Store string `yaml:"store" env:"STORE"`
	// 提供嵌入向量的 Provider，为空时使用默认 Provider
	EmbeddingProvider   string        `yaml:"embedding_provider" env:"EMBEDDING_PROVIDER"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	SearchLimit         int           `yaml:"search_limit" env:"SEARCH_LIMIT"`
	DefaultTTL          time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 过期条目清理间隔
	JanitorInterval time.Duration `yaml:"janitor_interval" env:"JANITOR_INTERVAL"`
}

// BatchConfig 请求批处理配置
type BatchConfig struct {
	MaxSize int           `yaml:"max_size" env:"MAX_SIZE"`
	Window  time.Duration `yaml:"window" env:"WINDOW"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// UsageConfig 成本追踪配置
type UsageConfig struct {
	// 聚合存储: memory, redis, sql
	Store string `yaml:"store" env:"STORE"`
	// 聚合周期: day, month
	Period string `yaml:"period" env:"PERIOD"`
	// Redis 聚合键保留时长
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// 记录每次交互（需要 database）
	RecordInteractions bool `yaml:"record_interactions" env:"RECORD_INTERACTIONS"`
}

// ConversationConfig 会话上下文配置
type ConversationConfig struct {
	// 存储: memory, sql, mongo
	Store         string `yaml:"store" env:"STORE"`
	HistoryLimit  int    `yaml:"history_limit" env:"HISTORY_LIMIT"`
	ContextTokens int    `yaml:"context_tokens" env:"CONTEXT_TOKENS"`
	// 内存存储每个会话保留的轮数
	Retention int `yaml:"retention" env:"RETENTION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Provider returns the provider entry registered as name.
func (c *Config) Provider(name string) (providers.Config, bool) {
	for _, p := range c.Providers {
		if providerName(p) == name {
			return p, true
		}
	}
	return providers.Config{}, false
}

// ProviderNames lists the registry names of every configured provider.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, providerName(p))
	}
	return names
}

// providerName mirrors the registry naming rule: an explicit name wins,
// otherwise the type, with the claude alias folded into anthropic.
func providerName(p providers.Config) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Type == "claude" {
		return "anthropic"
	}
	return p.Type
}

// DSN 返回 gorm 方言使用的连接串；未知驱动返回空串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	}
	return ""
}
