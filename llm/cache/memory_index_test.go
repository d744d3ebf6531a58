package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}

func TestMemoryIndex_Search(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	require.NoError(t, idx.Upsert(ctx, "a", "s1", []float64{1, 0}, future))
	require.NoError(t, idx.Upsert(ctx, "b", "s1", []float64{1, 1}, future))
	require.NoError(t, idx.Upsert(ctx, "c", "s2", []float64{1, 0}, future))
	require.NoError(t, idx.Upsert(ctx, "d", "s1", []float64{1, 0}, time.Now().Add(-time.Second)))

	matches, err := idx.Search(ctx, "s1", []float64{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "b", matches[1].ID)

	matches, err = idx.Search(ctx, "s1", []float64{1, 0}, 0.9, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = idx.Search(ctx, "s1", []float64{1, 0}, 0.5, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.NoError(t, idx.Delete(ctx, "a"))
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 1, idx.Prune(time.Now()))
}
