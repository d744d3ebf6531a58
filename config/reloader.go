package config

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ReloadCallback 重新加载配置后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader owns the live configuration. On every change of the watched
// file it reloads through the Loader (validators included) and, when the
// result is valid, swaps it in and notifies callbacks. An invalid file
// keeps the previous configuration.
type Reloader struct {
	loader  *Loader
	current atomic.Pointer[Config]
	logger  *zap.Logger

	mu        sync.Mutex
	callbacks []ReloadCallback
	watcher   *FileWatcher
	reloads   atomic.Int64
	failures  atomic.Int64
}

// NewReloader wraps an already loaded configuration.
func NewReloader(loader *Loader, initial *Config, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reloader{
		loader: loader,
		logger: logger.With(zap.String("component", "config_reloader")),
	}
	r.current.Store(initial)
	return r
}

// Current returns the live configuration. Callers must not modify it.
func (r *Reloader) Current() *Config { return r.current.Load() }

// OnReload registers a callback run after each successful reload.
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Reload loads the file now. On failure the previous configuration
// stays in place and the error is returned.
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		r.failures.Add(1)
		r.logger.Error("config reload rejected, keeping previous config",
			zap.String("path", r.loader.ConfigPath()),
			zap.Error(err))
		return err
	}
	prev := r.current.Swap(next)
	r.reloads.Add(1)

	r.mu.Lock()
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, cb := range callbacks {
		r.notify(cb, prev, next)
	}
	r.logger.Info("config reloaded", zap.String("path", r.loader.ConfigPath()))
	return nil
}

func (r *Reloader) notify(cb ReloadCallback, prev, next *Config) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("config reload callback panicked", zap.Any("panic", rec))
		}
	}()
	cb(prev, next)
}

// Watch starts polling the loader's config file. Removal of the file is
// ignored.
func (r *Reloader) Watch(ctx context.Context, opts ...WatcherOption) error {
	if r.loader.ConfigPath() == "" {
		return fmt.Errorf("no config file to watch")
	}
	w, err := NewFileWatcher(r.loader.ConfigPath(), append([]WatcherOption{WithWatcherLogger(r.logger)}, opts...)...)
	if err != nil {
		return err
	}
	w.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config", zap.String("path", evt.Path))
			return
		}
		_ = r.Reload()
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	return nil
}

// Stop stops the file watcher if Watch was called.
func (r *Reloader) Stop() error {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// Stats returns the number of applied and rejected reloads.
func (r *Reloader) Stats() (reloads, failures int64) {
	return r.reloads.Load(), r.failures.Load()
}
