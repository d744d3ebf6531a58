package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T, interval time.Duration) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		Addr:                mr.Addr(),
		HealthCheckInterval: interval,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := setupTestRedis(t, 0)

	assert.NotNil(t, manager.Client())
	assert.True(t, manager.Healthy())
	require.NoError(t, manager.Ping(context.Background()))
}

func TestNewManager_Unreachable(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to connect to redis at 127.0.0.1:1")
}

func TestManager_ClientIsShared(t *testing.T) {
	mr, manager := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, manager.Client().Set(ctx, "k", "v", time.Minute).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestManager_HealthLoopTracksOutage(t *testing.T) {
	mr, manager := setupTestRedis(t, 20*time.Millisecond)

	mr.SetError("ERR injected outage")
	assert.Eventually(t, func() bool { return !manager.Healthy() }, 2*time.Second, 10*time.Millisecond)

	mr.SetError("")
	assert.Eventually(t, manager.Healthy, 2*time.Second, 10*time.Millisecond)
}

func TestManager_Close(t *testing.T) {
	_, manager := setupTestRedis(t, 10*time.Millisecond)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)
	assert.False(t, manager.Healthy())
}

func TestManager_Stats(t *testing.T) {
	_, manager := setupTestRedis(t, 0)
	require.NoError(t, manager.Ping(context.Background()))

	stats := manager.Stats()
	assert.GreaterOrEqual(t, stats.TotalConns, uint32(1))
}
