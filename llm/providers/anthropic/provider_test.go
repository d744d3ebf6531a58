package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/providers"
	"github.com/BaSui01/aigate/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(providers.Config{APIKey: "ak", BaseURL: server.URL}, nil).WithHTTPClient(server.Client())
}

func TestProvider_GenerateText(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, messagesPath, r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var body messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body.Model)
		assert.Equal(t, "Be gentle.", body.System)
		assert.Equal(t, defaultMaxTokens, body.MaxTokens)
		require.Len(t, body.Messages, 3)
		assert.Equal(t, "user", body.Messages[0].Role)
		assert.Equal(t, "assistant", body.Messages[1].Role)

		fmt.Fprint(w, `{"model":"claude-3-5-sonnet-20241022","content":[{"type":"text","text":"I hear you."}],"usage":{"input_tokens":1000,"output_tokens":1000}}`)
	})

	resp, err := p.GenerateText(context.Background(), &llm.Request{
		Feature:      llm.FeatureCompanion,
		Prompt:       "still waiting on my claim",
		UserID:       "u1",
		SystemPrompt: "Be gentle.",
		Conversation: &llm.ConversationContext{
			History: []llm.Turn{{Prompt: "my basement flooded", Response: "That sounds stressful."}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "I hear you.", resp.Text)
	assert.Equal(t, "anthropic", resp.ProviderName)
	assert.InDelta(t, 0.003+0.015, resp.Usage.TotalCost, 1e-12)
}

func TestProvider_ErrorMapping(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})
	_, err := p.Chat(context.Background(), &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))

	empty := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[]}`)
	})
	_, err = empty.Chat(context.Background(), &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	assert.Equal(t, types.ErrProviderInvalidResponse, types.GetErrorCode(err))
}

func TestProvider_AnalyzeImage(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages[0].Content, 2)
		src := body.Messages[0].Content[0].Source
		require.NotNil(t, src)
		assert.Equal(t, "image/jpeg", src.MediaType)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hail dents"}]}`)
	})

	resp, err := p.AnalyzeImage(context.Background(), &llm.ImageRequest{Prompt: "what happened", MIMEType: "image/jpeg", Image: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "hail dents", resp.Text)
}

func TestProvider_GenerateEmbedding(t *testing.T) {
	p := New(providers.Config{}, nil)
	_, err := p.GenerateEmbedding(context.Background(), "x")
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))

	p.WithEmbedder(llm.EmbedderFunc(func(ctx context.Context, text string) ([]float64, error) {
		if text == "" {
			return nil, errors.New("empty")
		}
		return []float64{1, 0}, nil
	}))
	vec, err := p.GenerateEmbedding(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, vec)
}

func TestConvertMessages(t *testing.T) {
	system, msgs := convertMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "a"},
		{Role: llm.RoleSystem, Content: "b"},
		{Role: llm.RoleUser, Content: "1"},
		{Role: llm.RoleUser, Content: "2"},
		{Role: llm.RoleAssistant, Content: "3"},
	})
	assert.Equal(t, "a\n\nb", system)
	require.Len(t, msgs, 2)
	assert.Len(t, msgs[0].Content, 2)
}
