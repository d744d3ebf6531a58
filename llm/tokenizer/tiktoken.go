package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var encodingPrefixes = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
	{"text-embedding-", "cl100k_base"},
}

func encodingFor(model string) (string, bool) {
	for _, e := range encodingPrefixes {
		if strings.HasPrefix(model, e.prefix) {
			return e.encoding, true
		}
	}
	return "", false
}

// Tiktoken counts with a BPE encoding. The encoding is loaded on first use;
// when loading fails (for example, no network to fetch the ranks file) the
// counter degrades to the estimator for its lifetime.
type Tiktoken struct {
	encoding string

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback *Estimator
}

// NewTiktoken creates a counter for the named encoding.
func NewTiktoken(encoding string) *Tiktoken {
	return &Tiktoken{encoding: encoding}
}

func (t *Tiktoken) load() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.fallback = NewEstimator()
			return
		}
		t.enc = enc
	})
}

func (t *Tiktoken) Count(text string) int {
	t.load()
	if t.enc == nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) CountMessages(messages []Message) int {
	total := replyPrimer
	for _, m := range messages {
		total += perMessageOverhead + t.Count(m.Role) + t.Count(m.Content)
	}
	return total
}

func (t *Tiktoken) Name() string {
	return "tiktoken[" + t.encoding + "]"
}
