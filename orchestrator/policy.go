package orchestrator

import (
	"maps"
	"time"

	"github.com/BaSui01/aigate/llm"
)

// FeaturePolicy is the routing policy of one feature.
type FeaturePolicy struct {
	Provider string `json:"provider" yaml:"provider"`
	Fallback string `json:"fallback" yaml:"fallback"`
	Batch    bool   `json:"batch" yaml:"batch"`

	// Timeout overrides the per-call provider timeout when positive.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// Policy maps features to providers.
type Policy struct {
	DefaultProvider string                        `json:"default_provider" yaml:"default_provider"`
	DefaultFallback string                        `json:"default_fallback" yaml:"default_fallback"`
	Features        map[llm.Feature]FeaturePolicy `json:"features" yaml:"features"`
}

// route is the resolved dispatch plan of one request.
type route struct {
	primary  string
	fallback string
	batch    bool
	timeout  time.Duration
}

// route resolves f. Unmapped features and mappings without a provider use
// the default provider; a fallback equal to the primary is dropped.
func (p Policy) route(f llm.Feature, defaultTimeout time.Duration) route {
	fp, ok := p.Features[f]
	r := route{primary: p.DefaultProvider, fallback: p.DefaultFallback, timeout: defaultTimeout}
	if ok {
		if fp.Provider != "" {
			r.primary = fp.Provider
		}
		if fp.Fallback != "" {
			r.fallback = fp.Fallback
		}
		r.batch = fp.Batch
		if fp.Timeout > 0 {
			r.timeout = fp.Timeout
		}
	}
	if r.fallback == r.primary {
		r.fallback = ""
	}
	return r
}

func (p Policy) clone() *Policy {
	out := p
	out.Features = maps.Clone(p.Features)
	return &out
}
