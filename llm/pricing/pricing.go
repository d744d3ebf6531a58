// Package pricing converts unit counts into USD for a provider's models.
package pricing

import (
	"sync"
)

// ModelPrice is the USD price per 1K units for one model.
type ModelPrice struct {
	Model       string  `yaml:"model" json:"model"`
	PriceInput  float64 `yaml:"input" json:"input"`
	PriceOutput float64 `yaml:"output" json:"output"`
}

// Table is a per-provider price table. Lookups for unknown models fall back
// to the default model's price; unknown default means zero cost.
type Table struct {
	mu           sync.RWMutex
	prices       map[string]ModelPrice
	defaultModel string
}

// NewTable creates a table seeded with prices.
func NewTable(defaultModel string, prices ...ModelPrice) *Table {
	t := &Table{
		prices:       make(map[string]ModelPrice, len(prices)),
		defaultModel: defaultModel,
	}
	t.Update(prices)
	return t
}

// ForProviderType returns a table seeded with list prices for a provider
// type ("openai", "anthropic"). Configured prices override these.
func ForProviderType(providerType, defaultModel string) *Table {
	return NewTable(defaultModel, defaultPrices[providerType]...)
}

var defaultPrices = map[string][]ModelPrice{
	"openai": {
		{Model: "gpt-4o", PriceInput: 0.0025, PriceOutput: 0.01},
		{Model: "gpt-4o-mini", PriceInput: 0.00015, PriceOutput: 0.0006},
		{Model: "gpt-4.1", PriceInput: 0.002, PriceOutput: 0.008},
		{Model: "gpt-4.1-mini", PriceInput: 0.0004, PriceOutput: 0.0016},
		{Model: "text-embedding-3-small", PriceInput: 0.00002},
		{Model: "text-embedding-3-large", PriceInput: 0.00013},
	},
	"anthropic": {
		{Model: "claude-3-5-sonnet-20241022", PriceInput: 0.003, PriceOutput: 0.015},
		{Model: "claude-3-5-haiku-20241022", PriceInput: 0.0008, PriceOutput: 0.004},
		{Model: "claude-3-opus-20240229", PriceInput: 0.015, PriceOutput: 0.075},
	},
}

// SetPrice sets the price of one model.
func (t *Table) SetPrice(model string, priceInput, priceOutput float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[model] = ModelPrice{Model: model, PriceInput: priceInput, PriceOutput: priceOutput}
}

// Update replaces the prices of the given models.
func (t *Table) Update(prices []ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range prices {
		t.prices[p.Model] = p
	}
}

// Price returns the price for model and whether one was found.
func (t *Table) Price(model string) (ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if model == "" {
		model = t.defaultModel
	}
	if p, ok := t.prices[model]; ok {
		return p, true
	}
	p, ok := t.prices[t.defaultModel]
	return p, ok
}

// Calculate returns the USD cost of the given unit counts on model.
func (t *Table) Calculate(model string, unitsInput, unitsOutput int) float64 {
	price, ok := t.Price(model)
	if !ok {
		return 0
	}
	return float64(unitsInput)/1000*price.PriceInput + float64(unitsOutput)/1000*price.PriceOutput
}
