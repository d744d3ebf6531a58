package conversation

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/tokenizer"
)

// Limits bounds the history attached to one feature's requests.
type Limits struct {
	// HistoryLimit is the number of prior turns read from the store.
	HistoryLimit int `json:"history_limit" yaml:"history_limit"`

	// ContextTokens caps the units of the attached history. Older turns
	// are dropped first.
	ContextTokens int `json:"context_tokens" yaml:"context_tokens"`
}

// DefaultLimits returns 10 turns within 2000 units.
func DefaultLimits() Limits {
	return Limits{HistoryLimit: 10, ContextTokens: 2000}
}

const maxTopics = 10

// Request context keys read by Record.
const (
	ContextKeyTopic  = "topic"
	ContextKeyTopics = "topics"
	ContextKeyStatus = "status"
)

type limitTable struct {
	def       Limits
	byFeature map[llm.Feature]Limits
}

// Manager is the context manager.
type Manager struct {
	store   Store
	counter tokenizer.Counter
	limits  atomic.Pointer[limitTable]
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates a manager over store. A nil counter uses the estimator.
func NewManager(store Store, counter tokenizer.Counter, def Limits, logger *zap.Logger) *Manager {
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:   store,
		counter: counter,
		logger:  logger.With(zap.String("component", "context_manager")),
		now:     time.Now,
	}
	m.SetLimits(def, nil)
	return m
}

// SetLimits swaps the default and per-feature limits.
func (m *Manager) SetLimits(def Limits, byFeature map[llm.Feature]Limits) {
	if def.HistoryLimit <= 0 {
		def.HistoryLimit = DefaultLimits().HistoryLimit
	}
	t := &limitTable{def: def, byFeature: make(map[llm.Feature]Limits, len(byFeature))}
	for f, l := range byFeature {
		if l.HistoryLimit <= 0 {
			l.HistoryLimit = def.HistoryLimit
		}
		if l.ContextTokens <= 0 {
			l.ContextTokens = def.ContextTokens
		}
		t.byFeature[f] = l
	}
	m.limits.Store(t)
}

func (m *Manager) limitsFor(f llm.Feature) Limits {
	t := m.limits.Load()
	if l, ok := t.byFeature[f]; ok {
		return l
	}
	return t.def
}

// Enhance returns a copy of req carrying the user's recent conversation for
// the feature. req itself is never modified. On a store error the copy is
// returned without conversation alongside the error.
func (m *Manager) Enhance(ctx context.Context, req *llm.Request) (*llm.Request, error) {
	out := req.Clone()
	lim := m.limitsFor(req.Feature)

	entries, err := m.store.Recent(ctx, req.UserID, req.Feature, lim.HistoryLimit)
	if err != nil {
		return out, fmt.Errorf("read conversation: %w", err)
	}
	if len(entries) == 0 {
		return out, nil
	}

	last := entries[len(entries)-1].CreatedAt
	out.Conversation = &llm.ConversationContext{
		History:         m.fit(entries, lim.ContextTokens),
		Topics:          collectTopics(entries),
		RecentTurns:     len(entries),
		LastInteraction: last,
		Elapsed:         m.now().Sub(last),
		Status:          mergeStatus(entries),
	}
	return out, nil
}

// fit keeps the newest turns whose combined units stay within budget.
// A budget of zero or less keeps everything.
func (m *Manager) fit(entries []Entry, budget int) []llm.Turn {
	turns := make([]llm.Turn, 0, len(entries))
	used := 0
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		cost := m.counter.CountMessages([]tokenizer.Message{
			{Role: string(llm.RoleUser), Content: e.Prompt},
			{Role: string(llm.RoleAssistant), Content: e.Response},
		})
		if budget > 0 && used+cost > budget {
			break
		}
		used += cost
		turns = append(turns, llm.Turn{
			Prompt:    e.Prompt,
			Response:  e.Response,
			Provider:  e.Provider,
			CreatedAt: e.CreatedAt,
		})
	}
	slices.Reverse(turns)
	return turns
}

// collectTopics returns distinct topics, most recent last.
func collectTopics(entries []Entry) []string {
	var topics []string
	for _, e := range entries {
		for _, t := range e.Topics {
			if i := slices.Index(topics, t); i >= 0 {
				topics = slices.Delete(topics, i, i+1)
			}
			topics = append(topics, t)
		}
	}
	if len(topics) > maxTopics {
		topics = topics[len(topics)-maxTopics:]
	}
	return topics
}

// mergeStatus folds status fields oldest to newest; later values win.
func mergeStatus(entries []Entry) map[string]string {
	var status map[string]string
	for _, e := range entries {
		for k, v := range e.Status {
			if status == nil {
				status = make(map[string]string)
			}
			status[k] = v
		}
	}
	return status
}

// Record appends the exchange to the conversation store. Topics and status
// come from the request context keys "topic", "topics" and "status".
func (m *Manager) Record(ctx context.Context, req *llm.Request, resp *llm.Response) error {
	e := Entry{
		UserID:    req.UserID,
		Feature:   string(req.Feature),
		Prompt:    req.Prompt,
		Response:  resp.Text,
		Provider:  resp.ProviderName,
		Topics:    topicsFrom(req.Context),
		Status:    statusFrom(req.Context),
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

func topicsFrom(c map[string]any) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	if s, ok := c[ContextKeyTopic].(string); ok {
		add(s)
	}
	switch v := c[ContextKeyTopics].(type) {
	case []string:
		for _, s := range v {
			add(s)
		}
	case []any:
		for _, s := range v {
			if str, ok := s.(string); ok {
				add(str)
			}
		}
	}
	return out
}

func statusFrom(c map[string]any) map[string]string {
	var out map[string]string
	switch v := c[ContextKeyStatus].(type) {
	case map[string]string:
		if len(v) > 0 {
			out = maps.Clone(v)
		}
	case map[string]any:
		for k, s := range v {
			if out == nil {
				out = make(map[string]string, len(v))
			}
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}
