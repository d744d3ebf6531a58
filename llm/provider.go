package llm

import (
	"context"
	"fmt"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a raw multi-turn request addressed to one provider.
type ChatRequest struct {
	Model          string         `json:"model,omitempty"`
	Messages       []Message      `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
	Timeout        time.Duration  `json:"timeout,omitempty"`
}

// ImageRequest asks a vision-capable provider to describe or assess an image.
type ImageRequest struct {
	UserID    string  `json:"user_id"`
	Feature   Feature `json:"feature"`
	Prompt    string  `json:"prompt"`
	MIMEType  string  `json:"mime_type"`
	Image     []byte  `json:"-"`
	MaxTokens int     `json:"max_tokens,omitempty"`
}

// Provider is the capability every backend variant exposes. Variants differ
// only in wire translation; errors are *types.Error with a provider code
// (unavailable, rate limited, invalid response).
type Provider interface {
	// Name returns the unique registry name of the provider.
	Name() string

	// GenerateText answers a single request, including any conversation
	// context the request carries.
	GenerateText(ctx context.Context, req *Request) (*Response, error)

	// Chat answers a raw message list.
	Chat(ctx context.Context, req *ChatRequest) (*Response, error)

	// GenerateEmbedding returns the embedding vector of text.
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)

	// EstimateCost is pure: USD for the given unit counts on model. An empty
	// model means the provider's default model.
	EstimateCost(model string, promptUnits, completionUnits int) float64
}

// ImageAnalyzer is implemented by providers that accept image input.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, req *ImageRequest) (*Response, error)
}

// BatchGenerator is implemented by providers with a native batch operation.
// Responses must be returned in request order.
type BatchGenerator interface {
	GenerateBatch(ctx context.Context, reqs []*Request) ([]*Response, error)
}

// Embedder is the embedding-only view of a provider.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

func (f EmbedderFunc) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}

// BuildMessages renders a request as chat messages: system prompt, then the
// attached conversation history, then the prompt itself.
func BuildMessages(req *Request) []Message {
	msgs := make([]Message, 0, 2+2*historyLen(req))
	system := req.SystemPrompt
	if req.ResponseFormat == FormatStructured {
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single valid JSON object."
	}
	if c := req.Conversation; c != nil && c.RecentTurns > 0 && !c.LastInteraction.IsZero() {
		if system != "" {
			system += "\n\n"
		}
		system += fmt.Sprintf("Recent interactions: %d, last one %s ago.", c.RecentTurns, c.Elapsed.Round(time.Minute))
	}
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	if req.Conversation != nil {
		for _, t := range req.Conversation.History {
			msgs = append(msgs,
				Message{Role: RoleUser, Content: t.Prompt},
				Message{Role: RoleAssistant, Content: t.Response},
			)
		}
	}
	return append(msgs, Message{Role: RoleUser, Content: req.Prompt})
}

func historyLen(req *Request) int {
	if req.Conversation == nil {
		return 0
	}
	return len(req.Conversation.History)
}

// ChatRequestFor converts a Request into the ChatRequest a variant sends.
func ChatRequestFor(req *Request, model string) *ChatRequest {
	return &ChatRequest{
		Model:          model,
		Messages:       BuildMessages(req),
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		ResponseFormat: req.ResponseFormat,
	}
}
