package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/aigate/api"
	"github.com/BaSui01/aigate/api/handlers"
	"github.com/BaSui01/aigate/config"
	"github.com/BaSui01/aigate/internal/metrics"
	"github.com/BaSui01/aigate/internal/server"
	"github.com/BaSui01/aigate/orchestrator"
)

// poolGaugeInterval 连接池指标采样间隔
const poolGaugeInterval = 15 * time.Second

// 路由
const (
	routeGenerate = "/v1/generate"
	routeAnalyze  = "/v1/images/analyze"
	routeUsage    = "/v1/usage"
	routeHealth   = "/health"
	routeHealthz  = "/healthz"
	routeReady    = "/ready"
	routeVersion  = "/version"
)

// 不需要认证与限流的路径
var publicPaths = []string{routeHealth, routeHealthz, routeReady, routeVersion}

// Server 持有网关进程的全部监听与组件
type Server struct {
	cfg       *config.Config
	loader    *config.Loader
	logger    *zap.Logger
	startedAt time.Time

	promRegistry *prometheus.Registry
	collector    *metrics.Collector
	gateway      *gateway
	reloader     *config.Reloader

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 非空时热重载会同步日志级别
	logLevel *zap.AtomicLevel

	// 限流器清理、连接池采样等后台任务
	cancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		loader: loader,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 装配组件并启动监听，不阻塞
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 1. 指标
	s.promRegistry = prometheus.NewRegistry()
	s.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("aigate", s.promRegistry, s.logger)

	// 2. 组件
	gw, err := buildGateway(ctx, s.cfg, s.collector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to assemble gateway: %w", err)
	}
	s.gateway = gw

	// 3. 热重载
	s.startReloader(bgCtx)

	// 4. 连接池指标
	go s.samplePools(bgCtx)

	// 5. HTTP
	s.httpManager = server.NewManager(s.buildHandler(bgCtx), server.Config{
		Name:              "api",
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   s.cfg.Server.ShutdownTimeout,
		EnableH2C:         s.cfg.Server.EnableH2C,
		TLSCertFile:       s.cfg.Server.TLSCertFile,
		TLSKeyFile:        s.cfg.Server.TLSKeyFile,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. Metrics
	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("gateway started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.loader.ConfigPath() != ""),
	)
	return nil
}

// startReloader 监听配置文件，重载后应用路由表、缓存 TTL 与会话限制。
// Provider、存储与监听端口的变更需要重启。
func (s *Server) startReloader(ctx context.Context) {
	s.reloader = config.NewReloader(s.loader, s.cfg, s.logger)
	s.reloader.OnReload(func(prev, next *config.Config) {
		s.gateway.applyConfig(next)
		if s.logLevel != nil && prev.Log.Level != next.Log.Level {
			s.logLevel.SetLevel(parseLevel(next.Log.Level))
			s.logger.Info("log level changed", zap.String("level", next.Log.Level))
		}
		if providersChanged(prev, next) {
			s.logger.Warn("provider configuration changed, restart required to apply")
		}
	})

	if s.loader.ConfigPath() == "" {
		return
	}
	if err := s.reloader.Watch(ctx); err != nil {
		s.logger.Warn("config hot reload disabled", zap.Error(err))
	}
}

func providersChanged(prev, next *config.Config) bool {
	if len(prev.Providers) != len(next.Providers) {
		return true
	}
	for i := range prev.Providers {
		a, b := prev.Providers[i], next.Providers[i]
		if a.Name != b.Name || a.Type != b.Type || a.APIKey != b.APIKey ||
			a.BaseURL != b.BaseURL || a.Model != b.Model || a.EmbeddingModel != b.EmbeddingModel {
			return true
		}
	}
	return false
}

// samplePools 定期把数据库、Redis 连接池与旁路任务池状态写入指标
func (s *Server) samplePools(ctx context.Context) {
	ticker := time.NewTicker(poolGaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.gateway.db != nil {
				st := s.gateway.db.Stats()
				s.collector.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle)
			}
			if s.gateway.redis != nil {
				st := s.gateway.redis.Stats()
				s.collector.RecordRedisPool(st.TotalConns, st.IdleConns)
			}
			if s.gateway.sideEffects != nil {
				st := s.gateway.sideEffects.Stats()
				s.collector.RecordSideEffectPool(st.Queued, st.Running, st.Dropped)
			}
		}
	}
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

// buildHandler 注册路由并包装中间件链
func (s *Server) buildHandler(ctx context.Context) http.Handler {
	gw := s.gateway

	healthHandler := handlers.NewHealthHandler(s.logger)
	for _, c := range gw.checks {
		healthHandler.RegisterCheck(c)
	}
	generateHandler := handlers.NewGenerateHandler(gw.orchestrator, s.logger)
	imageHandler := handlers.NewImageHandler(gw.orchestrator, orchestrator.MaxImageBytes, s.logger)
	usageHandler := handlers.NewUsageHandler(gw.tracker, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+routeHealth, healthHandler.HandleHealth)
	mux.HandleFunc("GET "+routeHealthz, healthHandler.HandleHealth)
	mux.HandleFunc("GET "+routeReady, healthHandler.HandleReady)
	mux.HandleFunc("GET "+routeVersion, healthHandler.HandleVersion(api.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		StartedAt: s.startedAt,
	}))

	mux.HandleFunc("POST "+routeGenerate, generateHandler.HandleGenerate)
	mux.HandleFunc("POST "+routeAnalyze, imageHandler.HandleAnalyze)
	mux.HandleFunc("GET "+routeUsage, usageHandler.HandleEstimate)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector, []string{
			routeGenerate, routeAnalyze, routeUsage,
			routeHealth, routeHealthz, routeReady, routeVersion,
		}),
		OTelTracing(),
	}
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		middlewares = append(middlewares, CORS(s.cfg.Server.CORSAllowedOrigins))
	}
	middlewares = append(middlewares,
		Auth(s.cfg.Auth, publicPaths, s.logger),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, publicPaths, s.logger),
	)
	return Chain(mux, middlewares...)
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	}))

	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics listener started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// Failed 任一监听异常退出时返回其错误；没有 metrics 监听时只看 API 端口
func (s *Server) Failed() <-chan error {
	out := make(chan error, 1)
	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	go func() {
		select {
		case err := <-s.httpManager.Errors():
			out <- fmt.Errorf("api listener: %w", err)
		case err := <-metricsErrs:
			out <- fmt.Errorf("metrics listener: %w", err)
		}
	}()
	return out
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 依次停止热重载、API 监听、组件（刷新批次并等待旁路任务）与 metrics 监听。
// 单步失败只记录日志，后续步骤照常执行。
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("shutting down")
	if s.cancel != nil {
		s.cancel()
	}

	steps := []struct {
		name string
		stop func(context.Context) error
	}{
		{"config reloader", func(context.Context) error {
			if s.reloader == nil {
				return nil
			}
			return s.reloader.Stop()
		}},
		{"api listener", func(ctx context.Context) error {
			if s.httpManager == nil {
				return nil
			}
			return s.httpManager.Shutdown(ctx)
		}},
		{"gateway", func(ctx context.Context) error {
			if s.gateway != nil {
				s.gateway.Close(ctx)
			}
			return nil
		}},
		{"metrics listener", func(ctx context.Context) error {
			if s.metricsManager == nil {
				return nil
			}
			return s.metricsManager.Shutdown(ctx)
		}},
	}
	for _, step := range steps {
		if err := step.stop(ctx); err != nil {
			s.logger.Error("shutdown step failed", zap.String("step", step.name), zap.Error(err))
		}
	}
	s.logger.Info("shutdown complete")
}
