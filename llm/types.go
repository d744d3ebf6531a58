package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/aigate/types"
)

// Feature names a consumer-facing capability. Policy (provider, fallback,
// batching, cache TTL) is looked up by feature.
type Feature string

// Well-known features shipped in the default configuration.
const (
	FeatureClarity   Feature = "clarity"
	FeatureMax       Feature = "max"
	FeatureCompanion Feature = "companion"
	FeatureNegotiate Feature = "negotiate"
)

// ResponseFormat selects free text or structured (JSON) output.
type ResponseFormat string

const (
	FormatText       ResponseFormat = "text"
	FormatStructured ResponseFormat = "structured"
)

// Request is a semantically typed generation request.
type Request struct {
	Feature        Feature        `json:"feature"`
	Prompt         string         `json:"prompt"`
	UserID         string         `json:"user_id"`
	SystemPrompt   string         `json:"system_prompt,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
	Context        map[string]any `json:"context,omitempty"`

	// Conversation is attached by the context manager; callers leave it nil.
	Conversation *ConversationContext `json:"conversation,omitempty"`
}

// Usage is the unit and cost accounting of one response.
type Usage struct {
	PromptUnits     int     `json:"prompt_units"`
	CompletionUnits int     `json:"completion_units"`
	TotalCost       float64 `json:"total_cost"`
}

// TotalUnits returns prompt plus completion units.
func (u Usage) TotalUnits() int {
	return u.PromptUnits + u.CompletionUnits
}

// Response is the result of one request. Treat it as immutable once built;
// shared copies are handed out through Clone.
type Response struct {
	Text         string               `json:"text"`
	Usage        Usage                `json:"usage"`
	ModelID      string               `json:"model_id"`
	Cached       bool                 `json:"cached"`
	LatencyMs    int64                `json:"latency_ms"`
	ProviderName string               `json:"provider_name"`
	CacheScore   float64              `json:"cache_score,omitempty"`
	Context      *ConversationContext `json:"context,omitempty"`
}

// Turn is one prior exchange in a conversation.
type Turn struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationContext is the payload the context manager attaches before dispatch.
//
// RecentTurns counts the stored turns that were read, so it never exceeds the
// feature's history limit. History may hold fewer after token fitting.
type ConversationContext struct {
	History         []Turn            `json:"history,omitempty"`
	Topics          []string          `json:"topics,omitempty"`
	RecentTurns     int               `json:"recent_turns"`
	LastInteraction time.Time         `json:"last_interaction,omitempty"`
	Elapsed         time.Duration     `json:"-"`
	Status          map[string]string `json:"status,omitempty"`
}

type conversationJSON struct {
	*conversationAlias
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

type conversationAlias ConversationContext

// MarshalJSON writes Elapsed as elapsed_seconds.
func (c ConversationContext) MarshalJSON() ([]byte, error) {
	alias := conversationAlias(c)
	return json.Marshal(conversationJSON{
		conversationAlias: &alias,
		ElapsedSeconds:    c.Elapsed.Seconds(),
	})
}

// UnmarshalJSON reads elapsed_seconds back into Elapsed.
func (c *ConversationContext) UnmarshalJSON(data []byte) error {
	aux := conversationJSON{conversationAlias: (*conversationAlias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Elapsed = time.Duration(aux.ElapsedSeconds * float64(time.Second))
	return nil
}

// Clone returns a deep copy.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	out := *c
	out.History = slices.Clone(c.History)
	out.Topics = slices.Clone(c.Topics)
	out.Status = maps.Clone(c.Status)
	return &out
}

// Validate checks the request fields a caller controls.
func (r *Request) Validate() error {
	if r == nil {
		return types.NewInvalidRequestError("request is required")
	}
	if strings.TrimSpace(string(r.Feature)) == "" {
		return types.NewInvalidRequestError("feature is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return types.NewInvalidRequestError("prompt is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return types.NewInvalidRequestError("user_id is required")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 1) {
		return types.NewInvalidRequestError("temperature must be between 0 and 1")
	}
	if r.MaxTokens < 0 {
		return types.NewInvalidRequestError("max_tokens must not be negative")
	}
	switch r.ResponseFormat {
	case "", FormatText, FormatStructured:
	default:
		return types.NewInvalidRequestError("unknown response_format " + string(r.ResponseFormat))
	}
	return nil
}

func (r *Request) format() ResponseFormat {
	if r.ResponseFormat == "" {
		return FormatText
	}
	return r.ResponseFormat
}

// identityFields is the cache-relevant projection of a Request. Field order is
// fixed by the struct so the JSON encoding is canonical.
type identityFields struct {
	Feature        Feature        `json:"feature"`
	Prompt         string         `json:"prompt,omitempty"`
	SystemPrompt   string         `json:"system_prompt"`
	ResponseFormat ResponseFormat `json:"response_format"`
}

func hashFields(f identityFields) string {
	data, _ := json.Marshal(f)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Identity is the cache key of the request. It covers feature, prompt,
// system prompt and response format; the user is deliberately excluded.
func (r *Request) Identity() string {
	return hashFields(identityFields{
		Feature:        r.Feature,
		Prompt:         r.Prompt,
		SystemPrompt:   r.SystemPrompt,
		ResponseFormat: r.format(),
	})
}

// Scope is the identity without the prompt. Similarity search only compares
// prompts that share a scope.
func (r *Request) Scope() string {
	return hashFields(identityFields{
		Feature:        r.Feature,
		SystemPrompt:   r.SystemPrompt,
		ResponseFormat: r.format(),
	})[:32]
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	out.Context = maps.Clone(r.Context)
	out.Conversation = r.Conversation.Clone()
	return &out
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Context = r.Context.Clone()
	return &out
}
