package tokenizer

import (
	"strings"
	"sync"
)

// Counter counts units for one model family.
type Counter interface {
	// Count returns the units of text.
	Count(text string) int

	// CountMessages returns the units of a chat exchange including the
	// per-message framing overhead.
	CountMessages(messages []Message) int

	Name() string
}

// Message is the minimal chat message shape the package needs.
type Message struct {
	Role    string
	Content string
}

const (
	perMessageOverhead = 4
	replyPrimer        = 3
)

var (
	countersMu sync.RWMutex
	counters   = make(map[string]Counter)
)

// Register installs c for model. Later lookups also match model as a prefix.
func Register(model string, c Counter) {
	countersMu.Lock()
	defer countersMu.Unlock()
	counters[model] = c
}

// For returns the counter registered for model, the longest registered
// prefix, or the tiktoken counter for OpenAI-family names. Anything else gets
// the estimator.
func For(model string) Counter {
	countersMu.RLock()
	c, ok := counters[model]
	if !ok {
		best := ""
		for prefix, candidate := range counters {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				best, c = prefix, candidate
			}
		}
		ok = best != ""
	}
	countersMu.RUnlock()
	if ok {
		return c
	}

	if enc, known := encodingFor(model); known {
		c = NewTiktoken(enc)
	} else {
		c = NewEstimator()
	}
	Register(model, c)
	return c
}
