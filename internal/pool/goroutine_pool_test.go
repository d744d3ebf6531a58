package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func nop(context.Context) error { return nil }

func TestGoroutinePool_RunsEveryQueuedTask(t *testing.T) {
	p := NewGoroutinePool(Config{Workers: 4, QueueSize: 64})

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(context.Background(), "count", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	p.Close()

	assert.Equal(t, int32(50), ran.Load())
	st := p.Stats()
	assert.Equal(t, int64(50), st.Completed)
	assert.Equal(t, 4, st.Workers)
	assert.Zero(t, st.Queued)
}

func TestGoroutinePool_PassesSubmitContext(t *testing.T) {
	p := NewGoroutinePool(Config{Workers: 1, QueueSize: 1})
	got := make(chan any, 1)

	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	require.NoError(t, p.Submit(ctx, "ctx", func(ctx context.Context) error {
		got <- ctx.Value(ctxKey{})
		return nil
	}))
	p.Close()
	assert.Equal(t, "req-1", <-got)
}

func TestGoroutinePool_ErrorAndPanicHandlers(t *testing.T) {
	var mu sync.Mutex
	var failed []string
	var panics []any
	p := NewGoroutinePool(Config{
		Workers:   1,
		QueueSize: 4,
		OnError: func(name string, err error) {
			mu.Lock()
			failed = append(failed, name)
			mu.Unlock()
		},
		OnPanic: func(name string, v any) {
			mu.Lock()
			panics = append(panics, v)
			mu.Unlock()
		},
	})

	require.NoError(t, p.Submit(context.Background(), "usage", func(context.Context) error { return errors.New("store down") }))
	require.NoError(t, p.Submit(context.Background(), "cache", func(context.Context) error { panic("kaboom") }))
	require.NoError(t, p.Submit(context.Background(), "ok", nop))
	p.Close()

	assert.Equal(t, []string{"usage", "cache"}, failed)
	assert.Equal(t, []any{"kaboom"}, panics)
	st := p.Stats()
	assert.Equal(t, int64(2), st.Failed)
	assert.Equal(t, int64(1), st.Completed)
}

func TestGoroutinePool_FullAndClosed(t *testing.T) {
	p := NewGoroutinePool(Config{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), "block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), "queued", nop))

	assert.ErrorIs(t, p.Submit(context.Background(), "overflow", nop), ErrPoolFull)
	st := p.Stats()
	assert.Equal(t, int64(1), st.Dropped)
	assert.Equal(t, 1, st.Running)
	assert.Equal(t, 1, st.Queued)

	close(release)
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Submit(context.Background(), "late", nop), ErrPoolClosed)
	assert.Equal(t, int64(2), p.Stats().Completed)
}

func TestNewGoroutinePool_Defaults(t *testing.T) {
	p := NewGoroutinePool(Config{})
	defer p.Close()
	assert.Equal(t, DefaultConfig().Workers, p.Stats().Workers)
	assert.Equal(t, DefaultConfig().QueueSize, cap(p.queue))
}
