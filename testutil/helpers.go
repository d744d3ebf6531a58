package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/aigate/llm"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回 30 秒超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// ⏱️ 异步等待
// =============================================================================

// WaitFor 轮询 condition 直到为真或超时，返回最后一次结果
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return condition()
}

// WaitForChannel 等待 ch 收到一个值
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// =============================================================================
// 🔧 测试数据
// =============================================================================

// NewRequest 构造 user-1 发起的合法请求
func NewRequest(feature llm.Feature, prompt string) *llm.Request {
	return &llm.Request{
		Feature: feature,
		Prompt:  prompt,
		UserID:  "user-1",
	}
}

// UnitVector 返回 dim 维、第 hot 位为 1 的向量
func UnitVector(dim, hot int) []float64 {
	v := make([]float64, dim)
	v[hot%dim] = 1
	return v
}
