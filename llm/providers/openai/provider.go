// Package openai is the OpenAI variant: the compatible wire format with
// OpenAI defaults and organization scoping.
package openai

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/llm/providers"
	"github.com/BaSui01/aigate/llm/providers/openaicompat"
)

const (
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-4o-mini"
)

// Provider is the OpenAI provider.
type Provider struct {
	*openaicompat.Provider
}

// New creates an OpenAI provider, filling in base URL, model and name defaults.
func New(cfg providers.Config, logger *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	cfg.Type = "openai"
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	p := &Provider{Provider: openaicompat.New(cfg, logger)}
	org := cfg.Organization
	p.BuildHeaders = func(req *http.Request, apiKey string) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
		if org != "" {
			req.Header.Set("OpenAI-Organization", org)
		}
		req.Header.Set("Content-Type", "application/json")
	}
	return p
}
