package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/BaSui01/aigate/internal/tlsutil"
)

// =============================================================================
// 🌐 HTTP 监听
// =============================================================================

// Config 单个监听端口的参数
type Config struct {
	// 日志中区分 api 与 metrics
	Name string
	Addr string

	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	// 需覆盖最慢的 provider 调用
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration

	// 明文 HTTP/2，服务网格内部调用使用
	EnableH2C bool
	// 两者都设置时以 HTTPS 监听
	TLSCertFile string
	TLSKeyFile  string
}

// TLS 是否配置了证书
func (c Config) TLS() bool { return c.TLSCertFile != "" && c.TLSKeyFile != "" }

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		Name:              "http",
		Addr:              ":8080",
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   15 * time.Second,
	}
}

type state int

const (
	stateIdle state = iota
	stateServing
	stateClosed
)

// Manager 管理一个 http.Server 的监听与优雅关闭
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger
	errCh  chan error

	mu    sync.RWMutex
	state state
	ln    net.Listener
}

// NewManager 创建管理器，不监听
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	// TLS 下由 ALPN 协商 h2，h2c 只用于明文
	if cfg.EnableH2C && !cfg.TLS() {
		handler = h2c.NewHandler(handler, &http2.Server{IdleTimeout: cfg.IdleTimeout})
	}

	logger = logger.With(zap.String("component", "http_server"), zap.String("server", cfg.Name))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ErrorLog:          zap.NewStdLog(logger.Named("net_http")),
	}
	if cfg.TLS() {
		srv.TLSConfig = tlsutil.ServerTLSConfig()
	}
	return &Manager{cfg: cfg, srv: srv, logger: logger, errCh: make(chan error, 1)}
}

// Start 绑定端口并在后台开始服务。配置了证书时以 HTTPS 服务。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateServing:
		return errors.New("server already started")
	case stateClosed:
		return errors.New("server is closed")
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.ln, m.state = ln, stateServing

	serve := func() error { return m.srv.Serve(ln) }
	if m.cfg.TLS() {
		serve = func() error { return m.srv.ServeTLS(ln, m.cfg.TLSCertFile, m.cfg.TLSKeyFile) }
	}
	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("server stopped unexpectedly", zap.Error(err))
			_ = ln.Close()
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()

	m.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", m.cfg.TLS()),
		zap.Bool("h2c", m.cfg.EnableH2C && !m.cfg.TLS()))
	return nil
}

// Shutdown 停止接收新连接并等待进行中的请求，最长 ShutdownTimeout。可重复调用。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == stateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = stateClosed
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("graceful shutdown incomplete", zap.Error(err))
		return err
	}
	m.logger.Info("stopped")
	return nil
}

// Errors 服务异常退出时收到一个错误
func (m *Manager) Errors() <-chan error { return m.errCh }

// Addr 启动后返回实际绑定的地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// IsRunning 尚未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != stateClosed
}
