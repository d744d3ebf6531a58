package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []FileEvent
}

func (l *eventLog) add(e FileEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ops() []FileOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops := make([]FileOp, len(l.events))
	for i, e := range l.events {
		ops[i] = e.Op
	}
	return ops
}

// touch rewrites path with a modification time clearly after the last one.
func touch(t *testing.T, path, body string, at time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, at, at))
}

func fastWatcher(t *testing.T, path string) *FileWatcher {
	t.Helper()
	w, err := NewFileWatcher(path, WithPollInterval(10*time.Millisecond), WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)
	return w
}

func TestNewFileWatcher(t *testing.T) {
	_, err := NewFileWatcher("")
	assert.Error(t, err)

	w, err := NewFileWatcher(filepath.Join(t.TempDir(), "later.yaml"))
	require.NoError(t, err)
	assert.False(t, w.IsRunning())
	assert.Equal(t, time.Second, w.pollInterval)
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
}

func TestFileWatcher_DetectsWriteCreateRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aigate.yaml")
	w := fastWatcher(t, path)
	var log eventLog
	w.OnChange(log.add)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	base := time.Now().Add(-time.Hour)
	touch(t, path, "a: 1", base)
	assert.Eventually(t, func() bool { return len(log.ops()) == 1 }, 2*time.Second, 5*time.Millisecond)

	touch(t, path, "a: 2", base.Add(time.Minute))
	assert.Eventually(t, func() bool { return len(log.ops()) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool { return len(log.ops()) == 3 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []FileOp{FileOpCreate, FileOpWrite, FileOpRemove}, log.ops())
}

func TestFileWatcher_DebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aigate.yaml")
	base := time.Now().Add(-time.Hour)
	touch(t, path, "v: 0", base)

	w, err := NewFileWatcher(path, WithPollInterval(5*time.Millisecond), WithDebounceDelay(150*time.Millisecond))
	require.NoError(t, err)
	var log eventLog
	w.OnChange(log.add)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 1; i <= 3; i++ {
		touch(t, path, "v: x", base.Add(time.Duration(i)*time.Minute))
		time.Sleep(20 * time.Millisecond)
	}
	assert.Eventually(t, func() bool { return len(log.ops()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []FileOp{FileOpWrite}, log.ops())
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	w := fastWatcher(t, filepath.Join(t.TempDir(), "x.yaml"))
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
