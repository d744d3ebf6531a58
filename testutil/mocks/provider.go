// MockProvider 的 LLM Provider 测试模拟实现。
//
// 支持固定响应、按调用脚本化错误、延迟注入、嵌入函数与调用计数。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/aigate/llm"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	name string

	mu sync.RWMutex

	// 响应配置
	response  string
	model     string
	err       error
	errQueue  []error
	embedFunc func(text string) ([]float64, error)
	embedErr  error
	costPer1K float64

	// Token 使用统计
	promptUnits     int
	completionUnits int

	// 行为控制
	delay time.Duration

	// 调用记录
	requests []*llm.Request

	generateCalls atomic.Int64
	chatCalls     atomic.Int64
	embedCalls    atomic.Int64
	imageCalls    atomic.Int64
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:            name,
		response:        "Mock response from " + name,
		model:           name + "-model",
		promptUnits:     10,
		completionUnits: 20,
		costPer1K:       0.002,
	}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置每次生成调用都返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithErrorSequence scripts per-call errors; nil entries succeed. Once the
// sequence is exhausted calls fall back to WithError's value.
func (m *MockProvider) WithErrorSequence(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errQueue = append(m.errQueue, errs...)
	return m
}

// WithUsage 设置 Token 使用量
func (m *MockProvider) WithUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptUnits = prompt
	m.completionUnits = completion
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithEmbedFunc 设置嵌入函数
func (m *MockProvider) WithEmbedFunc(fn func(text string) ([]float64, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedFunc = fn
	return m
}

// WithEmbedError makes every embedding call fail.
func (m *MockProvider) WithEmbedError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedErr = err
	return m
}

// --- llm.Provider 实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string { return m.name }

// GenerateText 返回配置的响应
func (m *MockProvider) GenerateText(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.generateCalls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, req.Clone())
	m.mu.Unlock()
	return m.respond(ctx, req.Prompt)
}

// Chat 返回配置的响应
func (m *MockProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.Response, error) {
	m.chatCalls.Add(1)
	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	return m.respond(ctx, last)
}

// AnalyzeImage 返回配置的响应
func (m *MockProvider) AnalyzeImage(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error) {
	m.imageCalls.Add(1)
	return m.respond(ctx, req.Prompt)
}

// GenerateEmbedding 调用嵌入函数；未配置时返回基于文本长度的确定性向量
func (m *MockProvider) GenerateEmbedding(_ context.Context, text string) ([]float64, error) {
	m.embedCalls.Add(1)
	m.mu.RLock()
	fn, embedErr := m.embedFunc, m.embedErr
	m.mu.RUnlock()

	if embedErr != nil {
		return nil, embedErr
	}
	if fn != nil {
		return fn(text)
	}
	return []float64{float64(len(text)), 1, 0}, nil
}

// EstimateCost 使用固定单价
func (m *MockProvider) EstimateCost(_ string, promptUnits, completionUnits int) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(promptUnits+completionUnits) / 1000 * m.costPer1K
}

func (m *MockProvider) respond(ctx context.Context, prompt string) (*llm.Response, error) {
	m.mu.Lock()
	delay := m.delay
	err := m.err
	if len(m.errQueue) > 0 {
		err = m.errQueue[0]
		m.errQueue = m.errQueue[1:]
	}
	text, model := m.response, m.model
	pu, cu := m.promptUnits, m.completionUnits
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	return &llm.Response{
		Text:         fmt.Sprintf("%s: %s", text, prompt),
		ModelID:      model,
		ProviderName: m.name,
		LatencyMs:    time.Since(start).Milliseconds(),
		Usage: llm.Usage{
			PromptUnits:     pu,
			CompletionUnits: cu,
			TotalCost:       m.EstimateCost(model, pu, cu),
		},
	}, nil
}

// --- 调用记录 ---

// GenerateCalls returns how many GenerateText calls were made.
func (m *MockProvider) GenerateCalls() int { return int(m.generateCalls.Load()) }

// ChatCalls returns how many Chat calls were made.
func (m *MockProvider) ChatCalls() int { return int(m.chatCalls.Load()) }

// EmbedCalls returns how many GenerateEmbedding calls were made.
func (m *MockProvider) EmbedCalls() int { return int(m.embedCalls.Load()) }

// ImageCalls returns how many AnalyzeImage calls were made.
func (m *MockProvider) ImageCalls() int { return int(m.imageCalls.Load()) }

// Requests returns copies of the requests seen by GenerateText.
func (m *MockProvider) Requests() []*llm.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset 重置调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.generateCalls.Store(0)
	m.chatCalls.Store(0)
	m.embedCalls.Store(0)
	m.imageCalls.Store(0)
}

// --- BatchMockProvider ---

// BatchMockProvider adds a native batch operation to MockProvider and records
// every batch it receives.
type BatchMockProvider struct {
	*MockProvider

	bmu     sync.Mutex
	batches [][]*llm.Request
	batchFn func(reqs []*llm.Request) ([]*llm.Response, error)
}

// NewBatchMockProvider 创建支持批量调用的 MockProvider
func NewBatchMockProvider(name string) *BatchMockProvider {
	return &BatchMockProvider{MockProvider: NewMockProvider(name)}
}

// WithBatchFunc overrides the batch behaviour.
func (b *BatchMockProvider) WithBatchFunc(fn func(reqs []*llm.Request) ([]*llm.Response, error)) *BatchMockProvider {
	b.bmu.Lock()
	defer b.bmu.Unlock()
	b.batchFn = fn
	return b
}

// GenerateBatch records the batch and answers each request in order.
func (b *BatchMockProvider) GenerateBatch(ctx context.Context, reqs []*llm.Request) ([]*llm.Response, error) {
	b.bmu.Lock()
	b.batches = append(b.batches, reqs)
	fn := b.batchFn
	b.bmu.Unlock()

	if fn != nil {
		return fn(reqs)
	}
	out := make([]*llm.Response, len(reqs))
	for i, r := range reqs {
		resp, err := b.respond(ctx, r.Prompt)
		if err != nil {
			return nil, err
		}
		out[i] = resp
	}
	return out, nil
}

// Batches returns the batches received so far.
func (b *BatchMockProvider) Batches() [][]*llm.Request {
	b.bmu.Lock()
	defer b.bmu.Unlock()
	out := make([][]*llm.Request, len(b.batches))
	copy(out, b.batches)
	return out
}

var (
	_ llm.Provider       = (*MockProvider)(nil)
	_ llm.ImageAnalyzer  = (*MockProvider)(nil)
	_ llm.BatchGenerator = (*BatchMockProvider)(nil)
)
