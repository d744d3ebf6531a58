package cache

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/aigate/llm"
)

// ErrEntryNotFound is returned by an EntryStore when the id is unknown.
var ErrEntryNotFound = errors.New("cache entry not found")

// Entry is one stored (request, response) pair.
type Entry struct {
	ID        string        `json:"id"`
	Scope     string        `json:"scope"`
	Embedding []float64     `json:"embedding"`
	Request   *llm.Request  `json:"request"`
	Response  *llm.Response `json:"response"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// ExpiresAt is createdAt + ttl.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Match is one index search hit.
type Match struct {
	ID    string
	Score float64
}

// VectorIndex searches entry embeddings by cosine similarity.
type VectorIndex interface {
	// Upsert stores or replaces the vector for id.
	Upsert(ctx context.Context, id, scope string, vec []float64, expiresAt time.Time) error

	// Search returns matches in scope with score >= threshold, best first,
	// at most limit of them. Expired vectors may be omitted.
	Search(ctx context.Context, scope string, vec []float64, threshold float64, limit int) ([]Match, error)

	Delete(ctx context.Context, id string) error
}

// EntryStore holds entries by id.
type EntryStore interface {
	Get(ctx context.Context, id string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, id string) error
}

// Pruner is implemented by backends that need explicit expiry sweeps.
type Pruner interface {
	Prune(now time.Time) int
}

// Recorder receives cache outcome counts.
type Recorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordCacheError(cacheType, op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheHit(string)           {}
func (nopRecorder) RecordCacheMiss(string)          {}
func (nopRecorder) RecordCacheError(string, string) {}
