package llm

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigate/types"
)

func ptr(v float64) *float64 { return &v }

func TestRequest_Validate(t *testing.T) {
	valid := func() *Request {
		return &Request{Feature: FeatureClarity, Prompt: "explain deductible", UserID: "u1"}
	}

	tests := []struct {
		name   string
		mutate func(r *Request)
		ok     bool
	}{
		{"valid", func(r *Request) {}, true},
		{"structured", func(r *Request) { r.ResponseFormat = FormatStructured }, true},
		{"temperature edge", func(r *Request) { r.Temperature = ptr(1) }, true},
		{"missing feature", func(r *Request) { r.Feature = "" }, false},
		{"blank prompt", func(r *Request) { r.Prompt = "   " }, false},
		{"missing user", func(r *Request) { r.UserID = "" }, false},
		{"temperature high", func(r *Request) { r.Temperature = ptr(1.5) }, false},
		{"temperature negative", func(r *Request) { r.Temperature = ptr(-0.1) }, false},
		{"negative max tokens", func(r *Request) { r.MaxTokens = -1 }, false},
		{"unknown format", func(r *Request) { r.ResponseFormat = "xml" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
		})
	}
}

func TestRequest_Identity(t *testing.T) {
	base := &Request{Feature: FeatureClarity, Prompt: "explain deductible", UserID: "u1"}

	t.Run("ignores user and tuning fields", func(t *testing.T) {
		other := base.Clone()
		other.UserID = "u2"
		other.Temperature = ptr(0.2)
		other.MaxTokens = 300
		other.Context = map[string]any{"policy": "HO-3"}
		assert.Equal(t, base.Identity(), other.Identity())
	})

	t.Run("empty format equals text", func(t *testing.T) {
		other := base.Clone()
		other.ResponseFormat = FormatText
		assert.Equal(t, base.Identity(), other.Identity())
	})

	t.Run("cache fields change identity", func(t *testing.T) {
		for _, mutate := range []func(r *Request){
			func(r *Request) { r.Feature = FeatureMax },
			func(r *Request) { r.Prompt = "explain premium" },
			func(r *Request) { r.SystemPrompt = "be brief" },
			func(r *Request) { r.ResponseFormat = FormatStructured },
		} {
			other := base.Clone()
			mutate(other)
			assert.NotEqual(t, base.Identity(), other.Identity())
		}
	})

	t.Run("scope ignores prompt", func(t *testing.T) {
		other := base.Clone()
		other.Prompt = "something else entirely"
		assert.Equal(t, base.Scope(), other.Scope())

		other.SystemPrompt = "be brief"
		assert.NotEqual(t, base.Scope(), other.Scope())
	})
}

func TestProperty_IdentityStableUnderReserialization(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("identity survives a JSON round trip", prop.ForAll(
		func(feature, prompt, system string, structured bool) bool {
			req := &Request{Feature: Feature(feature), Prompt: prompt, SystemPrompt: system, UserID: "u"}
			if structured {
				req.ResponseFormat = FormatStructured
			}

			data, err := json.Marshal(req)
			if err != nil {
				return false
			}
			var decoded Request
			if err := json.Unmarshal(data, &decoded); err != nil {
				return false
			}
			return req.Identity() == decoded.Identity() && req.Identity() == req.Clone().Identity()
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestRequest_CloneIsDeep(t *testing.T) {
	orig := &Request{
		Feature:     FeatureCompanion,
		Prompt:      "hi",
		UserID:      "u1",
		Temperature: ptr(0.4),
		Context:     map[string]any{"mood": "anxious"},
		Conversation: &ConversationContext{
			History: []Turn{{Prompt: "a", Response: "b"}},
			Status:  map[string]string{"claim": "open"},
		},
	}

	c := orig.Clone()
	*c.Temperature = 0.9
	c.Context["mood"] = "calm"
	c.Conversation.History[0].Prompt = "changed"
	c.Conversation.Status["claim"] = "closed"

	assert.Equal(t, 0.4, *orig.Temperature)
	assert.Equal(t, "anxious", orig.Context["mood"])
	assert.Equal(t, "a", orig.Conversation.History[0].Prompt)
	assert.Equal(t, "open", orig.Conversation.Status["claim"])
}

func TestResponse_CloneIsDeep(t *testing.T) {
	orig := &Response{Text: "x", Context: &ConversationContext{Topics: []string{"t1"}}}
	c := orig.Clone()
	c.Text = "y"
	c.Cached = true
	c.Context.Topics[0] = "t2"

	assert.Equal(t, "x", orig.Text)
	assert.False(t, orig.Cached)
	assert.Equal(t, "t1", orig.Context.Topics[0])
	assert.Nil(t, (*Response)(nil).Clone())
}

func TestConversationContext_JSON(t *testing.T) {
	last := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	in := &ConversationContext{
		Topics:          []string{"roof"},
		RecentTurns:     3,
		LastInteraction: last,
		Elapsed:         90 * time.Second,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 90.0, raw["elapsed_seconds"])
	assert.Equal(t, 3.0, raw["recent_turns"])
	assert.NotContains(t, raw, "elapsed")

	var out ConversationContext
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 90*time.Second, out.Elapsed)
	assert.Equal(t, 3, out.RecentTurns)
	assert.True(t, last.Equal(out.LastInteraction))

	resp, err := json.Marshal(&Response{Text: "x", Context: in})
	require.NoError(t, err)
	assert.Contains(t, string(resp), `"elapsed_seconds":90`)
}

func TestBuildMessages(t *testing.T) {
	req := &Request{
		Feature:        FeatureCompanion,
		Prompt:         "what now?",
		SystemPrompt:   "You are kind.",
		ResponseFormat: FormatStructured,
		Conversation: &ConversationContext{
			History:         []Turn{{Prompt: "my roof leaks", Response: "I'm sorry to hear that"}},
			RecentTurns:     1,
			LastInteraction: time.Now().Add(-2 * time.Hour),
			Elapsed:         2 * time.Hour,
		},
	}

	msgs := BuildMessages(req)
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You are kind.")
	assert.Contains(t, msgs[0].Content, "JSON")
	assert.Contains(t, msgs[0].Content, "Recent interactions: 1, last one 2h0m0s ago")
	assert.Equal(t, Message{Role: RoleUser, Content: "my roof leaks"}, msgs[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "I'm sorry to hear that"}, msgs[2])
	assert.Equal(t, Message{Role: RoleUser, Content: "what now?"}, msgs[3])

	plain := BuildMessages(&Request{Prompt: "hello"})
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hello"}}, plain)
}
