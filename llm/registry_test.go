package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/testutil/mocks"
	"github.com/BaSui01/aigate/types"
)

// textOnly 隐藏 MockProvider 的图片能力
type textOnly struct{ llm.Provider }

func TestProviderRegistry_RegisterAndResolve(t *testing.T) {
	r := llm.NewProviderRegistry()
	require.NoError(t, r.Register(mocks.NewMockProvider("openai")))
	require.NoError(t, r.Register(mocks.NewMockProvider("anthropic")))

	assert.Error(t, r.Register(mocks.NewMockProvider("openai")), "duplicate names are rejected")
	assert.Error(t, r.Register(mocks.NewMockProvider("")))
	assert.Equal(t, []string{"anthropic", "openai"}, r.Names())

	p, err := r.Resolve("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = r.Resolve("gemini")
	assert.True(t, types.IsErrorCode(err, types.ErrProviderUnavailable))
}

func TestProviderRegistry_Default(t *testing.T) {
	r := llm.NewProviderRegistry()
	_, err := r.Default()
	assert.Error(t, err)

	require.NoError(t, r.Register(mocks.NewMockProvider("anthropic")))
	assert.Error(t, r.SetDefault("missing"))
	require.NoError(t, r.SetDefault("anthropic"))
	assert.Equal(t, "anthropic", r.DefaultName())

	def, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", def.Name())
}

func TestProviderRegistry_Capabilities(t *testing.T) {
	r := llm.NewProviderRegistry()
	require.NoError(t, r.Register(mocks.NewMockProvider("vision").WithEmbedFunc(func(string) ([]float64, error) {
		return []float64{1, 0}, nil
	})))
	require.NoError(t, r.Register(textOnly{mocks.NewMockProvider("plain")}))
	require.NoError(t, r.SetDefault("vision"))

	_, err := r.ResolveImageAnalyzer("vision")
	assert.NoError(t, err)

	_, err = r.ResolveImageAnalyzer("plain")
	assert.True(t, types.IsErrorCode(err, types.ErrProviderUnavailable))

	embedder, err := r.ResolveEmbedder("")
	require.NoError(t, err)
	vec, err := embedder.GenerateEmbedding(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, vec)

	_, err = r.ResolveEmbedder("missing")
	assert.Error(t, err)
}
