package llm

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/BaSui01/aigate/types"
)

// =============================================================================
// 🗂️ Provider 注册表
// =============================================================================

// ProviderRegistry 按名称保存已构建的 Provider。
//
// 注册表在启动时构建一次，热更新只调整路由策略，不替换其中的实例。
type ProviderRegistry struct {
	mu          sync.RWMutex
	byName      map[string]Provider
	defaultName string
}

// NewProviderRegistry 创建空注册表
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{byName: make(map[string]Provider)}
}

// Register 以 p.Name() 注册 Provider，名称重复时返回错误
func (r *ProviderRegistry) Register(p Provider) error {
	name := p.Name()
	if name == "" {
		return errors.New("provider name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("duplicate provider name %q", name)
	}
	r.byName[name] = p
	return nil
}

// Get 按名称查找
func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Resolve 按名称查找，未注册时返回 PROVIDER_UNAVAILABLE。
func (r *ProviderRegistry) Resolve(name string) (Provider, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, types.NewProviderUnavailable(name, fmt.Errorf("provider %q is not registered", name))
	}
	return p, nil
}

// ResolveImageAnalyzer 查找可接收图片的 Provider
func (r *ProviderRegistry) ResolveImageAnalyzer(name string) (ImageAnalyzer, error) {
	p, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	analyzer, ok := p.(ImageAnalyzer)
	if !ok {
		return nil, types.NewProviderUnavailable(name, errors.New("provider does not accept images"))
	}
	return analyzer, nil
}

// ResolveEmbedder 查找可生成向量的 Provider；name 为空时使用默认 Provider。
func (r *ProviderRegistry) ResolveEmbedder(name string) (Embedder, error) {
	if name == "" {
		name = r.DefaultName()
	}
	p, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// 🎯 默认 Provider
// =============================================================================

// SetDefault 指定默认 Provider，name 必须已注册
func (r *ProviderRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("default provider %q is not registered", name)
	}
	r.defaultName = name
	return nil
}

// DefaultName 返回默认 Provider 名称，未设置时为空
func (r *ProviderRegistry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Default 返回默认 Provider
func (r *ProviderRegistry) Default() (Provider, error) {
	name := r.DefaultName()
	if name == "" {
		return nil, errors.New("no default provider set")
	}
	return r.Resolve(name)
}

// Names 返回排序后的全部名称
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
