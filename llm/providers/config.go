package providers

import (
	"time"

	"github.com/BaSui01/aigate/llm/pricing"
)

// Config is the configuration of one provider instance.
type Config struct {
	// Name is the registry name, unique across the process.
	Name string `json:"name" yaml:"name"`

	// Type selects the variant: openai, anthropic or openaicompat.
	Type string `json:"type" yaml:"type"`

	APIKey         string        `json:"api_key" yaml:"api_key"`
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	Model          string        `json:"model,omitempty" yaml:"model,omitempty"`
	EmbeddingModel string        `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	Organization   string        `json:"organization,omitempty" yaml:"organization,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// EmbeddingsFrom names another provider that answers embedding calls for
	// variants without an embeddings API.
	EmbeddingsFrom string `json:"embeddings_from,omitempty" yaml:"embeddings_from,omitempty"`

	// Prices overrides the built-in price table, USD per 1K units.
	Prices []pricing.ModelPrice `json:"prices,omitempty" yaml:"prices,omitempty"`
}

// PriceTable builds the price table for the configured variant.
func (c Config) PriceTable() *pricing.Table {
	t := pricing.ForProviderType(c.Type, c.Model)
	t.Update(c.Prices)
	return t
}
