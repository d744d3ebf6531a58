package cache

import (
	"maps"
	"sync/atomic"
	"time"

	"github.com/BaSui01/aigate/llm"
)

// TTLPolicy maps features to entry lifetimes.
type TTLPolicy struct {
	Default   time.Duration
	ByFeature map[llm.Feature]time.Duration
}

// DefaultTTLPolicy is the shipped table: calculation-style answers keep for
// a week, emotional ones for an hour, everything else for a day.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Default: 24 * time.Hour,
		ByFeature: map[llm.Feature]time.Duration{
			llm.FeatureClarity:   7 * 24 * time.Hour,
			llm.FeatureCompanion: time.Hour,
		},
	}
}

// TTL returns the lifetime for feature.
func (p TTLPolicy) TTL(feature llm.Feature) time.Duration {
	if d, ok := p.ByFeature[feature]; ok && d > 0 {
		return d
	}
	return p.Default
}

// policyHolder allows the table to be swapped on config reload.
type policyHolder struct {
	v atomic.Pointer[TTLPolicy]
}

func (h *policyHolder) load() TTLPolicy {
	return *h.v.Load()
}

func (h *policyHolder) store(p TTLPolicy) {
	p.ByFeature = maps.Clone(p.ByFeature)
	if p.Default <= 0 {
		p.Default = 24 * time.Hour
	}
	h.v.Store(&p)
}
