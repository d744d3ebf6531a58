package conversation

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/BaSui01/aigate/llm"
)

// Entry is one stored exchange.
type Entry struct {
	UserID    string            `json:"user_id" bson:"user_id"`
	Feature   string            `json:"feature" bson:"feature"`
	Prompt    string            `json:"prompt" bson:"prompt"`
	Response  string            `json:"response" bson:"response"`
	Provider  string            `json:"provider,omitempty" bson:"provider,omitempty"`
	Topics    []string          `json:"topics,omitempty" bson:"topics,omitempty"`
	Status    map[string]string `json:"status,omitempty" bson:"status,omitempty"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
}

// Store persists conversation entries per user and feature.
type Store interface {
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit of the newest entries, oldest first.
	Recent(ctx context.Context, userID string, feature llm.Feature, limit int) ([]Entry, error)
}

// DefaultMemoryRetention bounds the entries kept per user and feature.
const DefaultMemoryRetention = 100

// MemoryStore keeps the newest entries per user and feature in process.
type MemoryStore struct {
	mu        sync.RWMutex
	retention int
	entries   map[string][]Entry
}

func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultMemoryRetention
	}
	return &MemoryStore{retention: retention, entries: make(map[string][]Entry)}
}

func memoryKey(userID, feature string) string {
	return userID + "\x00" + feature
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	e.Topics = slices.Clone(e.Topics)
	e.Status = maps.Clone(e.Status)

	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey(e.UserID, e.Feature)
	list := append(s.entries[k], e)
	if over := len(list) - s.retention; over > 0 {
		list = slices.Clone(list[over:])
	}
	s.entries[k] = list
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, userID string, feature llm.Feature, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.entries[memoryKey(userID, string(feature))]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]Entry, len(list))
	for i, e := range list {
		e.Topics = slices.Clone(e.Topics)
		e.Status = maps.Clone(e.Status)
		out[i] = e
	}
	return out, nil
}
