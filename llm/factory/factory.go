// Package factory builds providers from configuration. It imports every
// variant subpackage so the llm package does not have to.
package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/providers"
	"github.com/BaSui01/aigate/llm/providers/anthropic"
	"github.com/BaSui01/aigate/llm/providers/openai"
	"github.com/BaSui01/aigate/llm/providers/openaicompat"
)

// NewProvider creates one provider by cfg.Type.
//
// Supported types: openai, anthropic (alias claude), openaicompat.
func NewProvider(cfg providers.Config, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case "openai":
		return openai.New(cfg, logger), nil
	case "anthropic", "claude":
		return anthropic.New(cfg, logger), nil
	case "openaicompat":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: base_url is required for openaicompat", cfg.Name)
		}
		if cfg.Name == "" {
			return nil, fmt.Errorf("openaicompat provider needs a name")
		}
		return openaicompat.New(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
}

// BuildRegistry creates every configured provider, wires embeddings_from
// delegation and sets the default provider.
func BuildRegistry(cfgs []providers.Config, defaultName string, logger *zap.Logger) (*llm.ProviderRegistry, error) {
	reg := llm.NewProviderRegistry()
	for _, cfg := range cfgs {
		p, err := NewProvider(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	for _, cfg := range cfgs {
		if cfg.EmbeddingsFrom == "" {
			continue
		}
		target, ok := reg.Get(nameOf(cfg))
		if !ok {
			continue
		}
		source, ok := reg.Get(cfg.EmbeddingsFrom)
		if !ok {
			return nil, fmt.Errorf("provider %q: embeddings_from %q is not configured", target.Name(), cfg.EmbeddingsFrom)
		}
		if ap, ok := target.(*anthropic.Provider); ok {
			ap.WithEmbedder(source)
		}
	}

	if defaultName != "" {
		if err := reg.SetDefault(defaultName); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func nameOf(cfg providers.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	if cfg.Type == "claude" {
		return "anthropic"
	}
	return cfg.Type
}
