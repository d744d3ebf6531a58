package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// 👀 配置文件监听
// =============================================================================

// FileOp 文件变化类型
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
)

func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	}
	return "UNKNOWN"
}

// FileEvent 一次经过防抖合并的文件变化
type FileEvent struct {
	Path      string
	Op        FileOp
	Timestamp time.Time
}

// merge 把防抖窗口内的连续变化合并为一个事件
func (e FileEvent) merge(next FileEvent) FileEvent {
	switch {
	case e.Op == FileOpCreate && next.Op == FileOpWrite:
		next.Op = FileOpCreate
	case e.Op == FileOpRemove && next.Op == FileOpCreate:
		// 编辑器常用 rename 原子替换文件
		next.Op = FileOpWrite
	}
	return next
}

// WatcherOption FileWatcher 选项
type WatcherOption func(*FileWatcher)

// WithDebounceDelay 变化静止多久后才回调
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) { w.debounceDelay = d }
}

// WithPollInterval 兜底轮询间隔。fsnotify 不可用或漏报时靠它发现变化。
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWatcherLogger 设置 logger
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// FileWatcher 监听单个文件。fsnotify 监听所在目录，文件被删除或
// 原子替换后仍能继续跟踪；变化类型统一由 stat 结果判定。
type FileWatcher struct {
	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger

	mu        sync.Mutex
	callbacks []func(FileEvent)
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}

	// 仅由监听 goroutine 访问
	exists  bool
	lastMod time.Time
}

// NewFileWatcher 文件可以暂不存在，之后的创建按 FileOpCreate 上报
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, errors.New("watch path is required")
	}
	w := &FileWatcher{
		path:          filepath.Clean(path),
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"), zap.String("path", w.path))

	if _, err := os.Stat(w.path); errors.Is(err, fs.ErrNotExist) {
		w.logger.Warn("config file does not exist yet, watching for creation")
	} else if err != nil {
		return nil, err
	}
	return w, nil
}

// OnChange 注册回调，回调在监听 goroutine 中串行执行
func (w *FileWatcher) OnChange(cb func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start 开始监听，直到 ctx 结束或调用 Stop
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}

	if info, err := os.Stat(w.path); err == nil {
		w.exists, w.lastMod = true, info.ModTime()
	} else {
		w.exists, w.lastMod = false, time.Time{}
	}

	notify, err := fsnotify.NewWatcher()
	if err == nil {
		if err = notify.Add(filepath.Dir(w.path)); err != nil {
			_ = notify.Close()
			notify = nil
		}
	}
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true
	go w.run(ctx, notify, w.done)

	w.logger.Info("watching config file",
		zap.Bool("fsnotify", notify != nil),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce", w.debounceDelay))
	return nil
}

// Stop 停止监听并等待正在执行的回调结束，可重复调用
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (w *FileWatcher) run(ctx context.Context, notify *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if notify != nil {
		defer notify.Close()
		events, errs = notify.Events, notify.Errors
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		pending  *FileEvent
		debounce <-chan time.Time
	)
	observe := func() {
		evt, changed := w.check()
		if !changed {
			return
		}
		if pending != nil {
			evt = pending.merge(evt)
		}
		pending = &evt
		debounce = time.After(w.debounceDelay)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == w.path {
				observe()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		case <-ticker.C:
			observe()
		case <-debounce:
			debounce = nil
			if pending != nil {
				w.dispatch(*pending)
				pending = nil
			}
		}
	}
}

// check 与上次观察到的文件状态比较
func (w *FileWatcher) check() (FileEvent, bool) {
	info, err := os.Stat(w.path)
	evt := FileEvent{Path: w.path, Timestamp: time.Now()}

	switch {
	case err != nil:
		if !w.exists {
			return evt, false
		}
		w.exists = false
		evt.Op = FileOpRemove
	case !w.exists:
		w.exists, w.lastMod = true, info.ModTime()
		evt.Op = FileOpCreate
	case !info.ModTime().Equal(w.lastMod):
		w.lastMod = info.ModTime()
		evt.Op = FileOpWrite
	default:
		return evt, false
	}
	return evt, true
}

func (w *FileWatcher) dispatch(evt FileEvent) {
	w.mu.Lock()
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	w.logger.Debug("config file changed", zap.Stringer("op", evt.Op))
	for _, cb := range callbacks {
		cb(evt)
	}
}

// Path 被监听的文件
func (w *FileWatcher) Path() string { return w.path }

// IsRunning 是否在监听
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
