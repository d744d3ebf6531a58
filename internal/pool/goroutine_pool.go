// Package pool 为编排器的旁路任务（缓存回填、成本记录、会话追加、交互日志）
// 提供有界的后台执行。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Task 一个后台任务
type Task func(ctx context.Context) error

// Config 池参数
type Config struct {
	Workers   int
	QueueSize int

	// OnPanic 接收任务 panic 的值，任务按失败计
	OnPanic func(name string, v any)
	// OnError 接收任务返回的错误
	OnError func(name string, err error)
}

// DefaultConfig 16 个 worker，队列 1024
func DefaultConfig() Config {
	return Config{Workers: 16, QueueSize: 1024}
}

type job struct {
	name string
	ctx  context.Context
	task Task
}

// GoroutinePool 固定数量的 worker 消费一个有界队列。队列满时直接拒绝，
// 调用方不会因为后台任务积压而阻塞。
type GoroutinePool struct {
	cfg   Config
	queue chan job

	// mu 保护 closed，避免向已关闭的 queue 发送
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	running   atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewGoroutinePool 创建池并立即启动全部 worker
func NewGoroutinePool(cfg Config) *GoroutinePool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	p := &GoroutinePool{cfg: cfg, queue: make(chan job, cfg.QueueSize)}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.work()
	}
	return p
}

// Submit 把任务放入队列，不等待执行。队列满返回 ErrPoolFull。
func (p *GoroutinePool) Submit(ctx context.Context, name string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job{name: name, ctx: ctx, task: task}:
		return nil
	default:
		p.dropped.Add(1)
		return ErrPoolFull
	}
}

func (p *GoroutinePool) work() {
	defer p.wg.Done()
	for j := range p.queue {
		p.running.Add(1)
		err := p.call(j)
		p.running.Add(-1)

		if err == nil {
			p.completed.Add(1)
			continue
		}
		p.failed.Add(1)
		if p.cfg.OnError != nil {
			p.cfg.OnError(j.name, err)
		}
	}
}

func (p *GoroutinePool) call(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.cfg.OnPanic != nil {
				p.cfg.OnPanic(j.name, r)
			}
			err = fmt.Errorf("task %s panicked: %v", j.name, r)
		}
	}()
	return j.task(j.ctx)
}

// Close 停止接收任务，执行完已排队的任务后返回。可重复调用。
func (p *GoroutinePool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats 池状态快照
type Stats struct {
	Workers   int
	Running   int
	Queued    int
	Completed int64
	Failed    int64
	Dropped   int64
}

// Stats 返回当前状态
func (p *GoroutinePool) Stats() Stats {
	return Stats{
		Workers:   p.cfg.Workers,
		Running:   int(p.running.Load()),
		Queued:    len(p.queue),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}
