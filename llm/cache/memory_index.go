package cache

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

type indexedVector struct {
	scope     string
	vec       []float64
	norm      float64
	expiresAt time.Time
}

// MemoryIndex is an exact-scan cosine index. Reads run concurrently with
// each other; writes take the lock briefly.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string]indexedVector
	now     func() time.Time
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		vectors: make(map[string]indexedVector),
		now:     time.Now,
	}
}

func (m *MemoryIndex) Upsert(_ context.Context, id, scope string, vec []float64, expiresAt time.Time) error {
	v := indexedVector{
		scope:     scope,
		vec:       append([]float64(nil), vec...),
		norm:      norm(vec),
		expiresAt: expiresAt,
	}
	m.mu.Lock()
	m.vectors[id] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, scope string, vec []float64, threshold float64, limit int) ([]Match, error) {
	qn := norm(vec)
	if qn == 0 {
		return nil, nil
	}
	now := m.now()

	m.mu.RLock()
	matches := make([]Match, 0, 4)
	for id, v := range m.vectors {
		if v.scope != scope || !now.Before(v.expiresAt) {
			continue
		}
		if score := cosine(vec, qn, v.vec, v.norm); score >= threshold {
			matches = append(matches, Match{ID: id, Score: score})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.vectors, id)
	m.mu.Unlock()
	return nil
}

// Prune drops expired vectors and returns how many were removed.
func (m *MemoryIndex) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, v := range m.vectors {
		if !now.Before(v.expiresAt) {
			delete(m.vectors, id)
			n++
		}
	}
	return n
}

// Len returns the number of indexed vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// CosineSimilarity of a and b; 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float64) float64 {
	return cosine(a, norm(a), b, norm(b))
}

func cosine(a []float64, na float64, b []float64, nb float64) float64 {
	if len(a) != len(b) || na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (na * nb)
}

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
