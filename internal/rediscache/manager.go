package rediscache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrClosed Close 之后的调用返回
var ErrClosed = errors.New("redis manager is closed")

// Config 连接参数
type Config struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	// 0 表示不做后台探活
	HealthCheckInterval time.Duration
}

// DefaultConfig 本地 6379，30 秒探活一次
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		DialTimeout:         5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// =============================================================================
// 💾 Manager
// =============================================================================

// Manager 持有共享的 redis.Client
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	healthy atomic.Bool

	stop chan struct{}
	done chan struct{}
}

// NewManager 连接并 Ping 一次，失败时返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "redis"), zap.String("addr", cfg.Addr)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.healthy.Store(true)
	if cfg.HealthCheckInterval > 0 {
		go m.probeLoop()
	} else {
		close(m.done)
	}

	m.logger.Info("redis connected", zap.Int("db", cfg.DB), zap.Int("pool_size", cfg.PoolSize))
	return m, nil
}

// Client 共享客户端
func (m *Manager) Client() *redis.Client { return m.client }

// Ping 即时探活
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Healthy 最近一次后台探活的结果
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && m.healthy.Load()
}

// Stats 连接池统计
func (m *Manager) Stats() *redis.PoolStats {
	return m.client.PoolStats()
}

// Close 停止探活并关闭客户端，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	return m.client.Close()
}

// probeLoop 只在健康状态翻转时记录日志
func (m *Manager) probeLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
		err := m.client.Ping(ctx).Err()
		cancel()

		switch was := m.healthy.Swap(err == nil); {
		case err != nil && was:
			m.logger.Error("redis became unreachable", zap.Error(err))
		case err == nil && !was:
			m.logger.Info("redis reachable again")
		}
	}
}
