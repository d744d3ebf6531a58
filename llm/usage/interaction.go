package usage

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/aigate/llm/store"
)

// Interaction is one processed request as seen at the persistence boundary.
type Interaction struct {
	UserID          string    `json:"user_id"`
	Feature         string    `json:"feature"`
	RequestHash     string    `json:"request_hash"`
	PromptUnits     int       `json:"prompt_units"`
	CompletionUnits int       `json:"completion_units"`
	TotalCost       float64   `json:"total_cost"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	LatencyMs       int64     `json:"latency_ms"`
	Cached          bool      `json:"cached"`
	CacheScore      float64   `json:"cache_score"`
	Timestamp       time.Time `json:"timestamp"`
}

// InteractionLog appends interactions.
type InteractionLog interface {
	Append(ctx context.Context, in Interaction) error
}

// MemoryInteractionLog keeps interactions in process.
type MemoryInteractionLog struct {
	mu   sync.Mutex
	rows []Interaction
}

func NewMemoryInteractionLog() *MemoryInteractionLog {
	return &MemoryInteractionLog{}
}

func (l *MemoryInteractionLog) Append(_ context.Context, in Interaction) error {
	l.mu.Lock()
	l.rows = append(l.rows, in)
	l.mu.Unlock()
	return nil
}

// All returns a copy of every appended interaction.
func (l *MemoryInteractionLog) All() []Interaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Interaction, len(l.rows))
	copy(out, l.rows)
	return out
}

// SQLInteractionLog writes to the aigate_interactions table.
type SQLInteractionLog struct {
	repo *store.InteractionRepository
}

func NewSQLInteractionLog(repo *store.InteractionRepository) *SQLInteractionLog {
	return &SQLInteractionLog{repo: repo}
}

func (l *SQLInteractionLog) Append(ctx context.Context, in Interaction) error {
	return l.repo.Create(ctx, &store.InteractionRecord{
		UserID:          in.UserID,
		Feature:         in.Feature,
		RequestHash:     in.RequestHash,
		PromptUnits:     in.PromptUnits,
		CompletionUnits: in.CompletionUnits,
		TotalCost:       in.TotalCost,
		Provider:        in.Provider,
		Model:           in.Model,
		LatencyMs:       in.LatencyMs,
		Cached:          in.Cached,
		CacheScore:      in.CacheScore,
		CreatedAt:       in.Timestamp,
	})
}
