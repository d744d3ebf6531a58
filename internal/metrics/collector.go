package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
//
// 同时满足 cache、batch、usage 与 orchestrator 各包声明的 Recorder 接口。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 编排指标
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbacksTotal  *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheErrors *prometheus.CounterVec

	// 批处理指标
	batchesTotal  *prometheus.CounterVec
	batchSize     *prometheus.HistogramVec
	batchDuration *prometheus.HistogramVec

	// 用量指标
	usageUnits  *prometheus.CounterVec
	usageCost   *prometheus.CounterVec
	usageErrors *prometheus.CounterVec

	// 连接池指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	redisConnsTotal   prometheus.Gauge
	redisConnsIdle    prometheus.Gauge

	// 旁路任务池
	sideEffectsQueued  prometheus.Gauge
	sideEffectsRunning prometheus.Gauge
	sideEffectsDropped prometheus.Gauge

	logger *zap.Logger
}

// builder 在同一 namespace 下注册指标
type builder struct {
	f  promauto.Factory
	ns string
}

func (b builder) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return b.f.NewCounterVec(prometheus.CounterOpts{Namespace: b.ns, Name: name, Help: help}, labels)
}

func (b builder) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return b.f.NewHistogramVec(prometheus.HistogramOpts{Namespace: b.ns, Name: name, Help: help, Buckets: buckets}, labels)
}

func (b builder) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return b.f.NewGaugeVec(prometheus.GaugeOpts{Namespace: b.ns, Name: name, Help: help}, labels)
}

func (b builder) gauge(name, help string) prometheus.Gauge {
	return b.f.NewGauge(prometheus.GaugeOpts{Namespace: b.ns, Name: name, Help: help})
}

var (
	sizeBuckets     = prometheus.ExponentialBuckets(100, 10, 8)
	orchestrateSecs = []float64{0.005, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}
	batchSecs       = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}
	batchSizes      = []float64{1, 2, 3, 5, 8, 10, 20, 50}
)

// NewCollector 注册全部指标。reg 为 nil 时使用 prometheus 默认 Registry，
// 同一 Registry 上重复创建会 panic。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	b := builder{f: promauto.With(reg), ns: namespace}

	c := &Collector{
		httpRequestsTotal:   b.counter("http_requests_total", "HTTP requests by status class", "method", "path", "status"),
		httpRequestDuration: b.histogram("http_request_duration_seconds", "HTTP request latency", prometheus.DefBuckets, "method", "path"),
		httpRequestSize:     b.histogram("http_request_size_bytes", "HTTP request body size", sizeBuckets, "method", "path"),
		httpResponseSize:    b.histogram("http_response_size_bytes", "HTTP response body size", sizeBuckets, "method", "path"),

		requestsTotal:   b.counter("orchestrator_requests_total", "Orchestrated requests by outcome", "feature", "provider", "outcome"),
		requestDuration: b.histogram("orchestrator_request_duration_seconds", "End-to-end orchestration latency", orchestrateSecs, "feature", "outcome"),
		fallbacksTotal:  b.counter("orchestrator_fallbacks_total", "Fallback provider attempts", "feature", "from", "to"),

		cacheHits:   b.counter("cache_hits_total", "Similarity cache hits", "cache_type"),
		cacheMisses: b.counter("cache_misses_total", "Similarity cache misses", "cache_type"),
		cacheErrors: b.counter("cache_errors_total", "Swallowed cache backend errors", "cache_type", "op"),

		batchesTotal:  b.counter("batches_total", "Flushed batches by status", "key", "status"),
		batchSize:     b.histogram("batch_size", "Requests per flushed batch", batchSizes, "key"),
		batchDuration: b.histogram("batch_duration_seconds", "Batch submission latency", batchSecs, "key"),

		usageUnits:  b.counter("usage_units_total", "Usage units recorded", "feature"),
		usageCost:   b.counter("usage_cost_usd_total", "Estimated cost in USD", "feature"),
		usageErrors: b.counter("usage_errors_total", "Swallowed usage store errors", "op"),

		dbConnectionsOpen: b.gaugeVec("db_connections_open", "Open database connections", "database"),
		dbConnectionsIdle: b.gaugeVec("db_connections_idle", "Idle database connections", "database"),
		redisConnsTotal:   b.gauge("redis_connections_total", "Connections in the Redis pool"),
		redisConnsIdle:    b.gauge("redis_connections_idle", "Idle connections in the Redis pool"),

		sideEffectsQueued:  b.gauge("side_effects_queued", "Side-effect tasks waiting in the background pool"),
		sideEffectsRunning: b.gauge("side_effects_running", "Side-effect tasks currently executing"),
		// 池内部累计值，直接 Set
		sideEffectsDropped: b.gauge("side_effects_dropped", "Side-effect tasks rejected because the queue was full"),

		logger: logger.With(zap.String("component", "metrics")),
	}
	c.logger.Debug("metrics registered", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 编排指标记录
// =============================================================================

// RecordRequest 记录一次编排结果。缓存命中时 provider 为空。
func (c *Collector) RecordRequest(feature, provider, outcome string, d time.Duration) {
	if provider == "" {
		provider = "none"
	}
	c.requestsTotal.WithLabelValues(feature, provider, outcome).Inc()
	c.requestDuration.WithLabelValues(feature, outcome).Observe(d.Seconds())
}

// RecordFallback 记录回退
func (c *Collector) RecordFallback(feature, from, to string) {
	c.fallbacksTotal.WithLabelValues(feature, from, to).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordCacheError 记录被吞掉的缓存后端错误
func (c *Collector) RecordCacheError(cacheType, op string) {
	c.cacheErrors.WithLabelValues(cacheType, op).Inc()
}

// =============================================================================
// 📦 批处理指标记录
// =============================================================================

// RecordBatch 记录一次批次提交
func (c *Collector) RecordBatch(key string, size int, status string, duration time.Duration) {
	c.batchesTotal.WithLabelValues(key, status).Inc()
	c.batchSize.WithLabelValues(key).Observe(float64(size))
	c.batchDuration.WithLabelValues(key).Observe(duration.Seconds())
}

// =============================================================================
// 💰 用量指标记录
// =============================================================================

// RecordUsage 记录用量
func (c *Collector) RecordUsage(feature string, units int, cost float64) {
	c.usageUnits.WithLabelValues(feature).Add(float64(units))
	if cost > 0 {
		c.usageCost.WithLabelValues(feature).Add(cost)
	}
}

// RecordUsageError 记录用量存储错误
func (c *Collector) RecordUsageError(op string) {
	c.usageErrors.WithLabelValues(op).Inc()
}

// =============================================================================
// 🗄️ 连接池指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordRedisPool 记录 Redis 连接池状态
func (c *Collector) RecordRedisPool(total, idle uint32) {
	c.redisConnsTotal.Set(float64(total))
	c.redisConnsIdle.Set(float64(idle))
}

// RecordSideEffectPool 记录旁路任务池状态
func (c *Collector) RecordSideEffectPool(queued, running int, dropped int64) {
	c.sideEffectsQueued.Set(float64(queued))
	c.sideEffectsRunning.Set(float64(running))
	c.sideEffectsDropped.Set(float64(dropped))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusClass 按百位归类，避免每个状态码一个标签值
func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
