// Package openaicompat implements the OpenAI chat completions, embeddings and
// vision wire format. Any compatible endpoint can be served by configuring a
// base URL and default model.
package openaicompat

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/internal/tlsutil"
	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/pricing"
	"github.com/BaSui01/aigate/llm/providers"
	"github.com/BaSui01/aigate/llm/tokenizer"
	"github.com/BaSui01/aigate/types"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultEmbeddingModel = "text-embedding-3-small"
	chatPath              = "/v1/chat/completions"
	embeddingsPath        = "/v1/embeddings"
)

// Provider speaks the OpenAI-compatible API.
type Provider struct {
	cfg    providers.Config
	client *http.Client
	prices *pricing.Table
	logger *zap.Logger

	// BuildHeaders sets auth and content headers on every call.
	BuildHeaders func(req *http.Request, apiKey string)
}

// New creates a provider. A zero timeout means 30s.
func New(cfg providers.Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		prices: cfg.PriceTable(),
		logger: logger.With(zap.String("provider", cfg.Name)),
		BuildHeaders: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
			req.Header.Set("Content-Type", "application/json")
		},
	}
}

// WithHTTPClient replaces the HTTP client.
func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	p.client = c
	return p
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *Provider) setHeaders(req *http.Request) {
	p.BuildHeaders(req, p.cfg.APIKey)
}

// --- wire types ---

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage,omitempty"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// --- llm.Provider ---

// GenerateText renders req as chat messages and completes them.
func (p *Provider) GenerateText(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return p.Chat(ctx, llm.ChatRequestFor(req, ""))
}

// Chat sends a raw message list.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.Response, error) {
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	body := chatRequest{
		Model:       p.model(req.Model),
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.ResponseFormat == llm.FormatStructured {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return p.complete(ctx, req.Timeout, body, req.Messages)
}

// AnalyzeImage sends the image inline as a data URI.
func (p *Provider) AnalyzeImage(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error) {
	if len(req.Image) == 0 {
		return nil, types.NewInvalidRequestError("image is required")
	}
	mime := req.MIMEType
	if mime == "" {
		mime = http.DetectContentType(req.Image)
	}
	uri := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.Image))
	body := chatRequest{
		Model: p.model(""),
		Messages: []chatMessage{{
			Role: string(llm.RoleUser),
			Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: uri}},
			},
		}},
		MaxTokens: req.MaxTokens,
	}
	return p.complete(ctx, 0, body, []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}})
}

func (p *Provider) complete(ctx context.Context, timeout time.Duration, body chatRequest, sent []llm.Message) (*llm.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var out chatResponse
	if err := providers.PostJSON(ctx, p.client, p.endpoint(chatPath), p.setHeaders, body, &out, p.Name()); err != nil {
		p.logger.Debug("chat completion failed", zap.Error(err))
		return nil, err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, types.NewProviderInvalidResponse(p.Name(), "response carried no content")
	}

	text := out.Choices[0].Message.Content
	model := out.Model
	if model == "" {
		model = body.Model
	}
	u := llm.Usage{}
	if out.Usage != nil {
		u.PromptUnits, u.CompletionUnits = out.Usage.PromptTokens, out.Usage.CompletionTokens
	} else {
		counter := tokenizer.For(model)
		u.PromptUnits = counter.CountMessages(toTokenizerMessages(sent))
		u.CompletionUnits = counter.Count(text)
	}
	u.TotalCost = p.EstimateCost(model, u.PromptUnits, u.CompletionUnits)

	return &llm.Response{
		Text:         text,
		Usage:        u,
		ModelID:      model,
		LatencyMs:    time.Since(start).Milliseconds(),
		ProviderName: p.Name(),
	}, nil
}

// GenerateEmbedding calls the embeddings endpoint.
func (p *Provider) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	var out embeddingResponse
	body := embeddingRequest{Model: p.cfg.EmbeddingModel, Input: text}
	if err := providers.PostJSON(ctx, p.client, p.endpoint(embeddingsPath), p.setHeaders, body, &out, p.Name()); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, types.NewProviderInvalidResponse(p.Name(), "embedding response carried no vector")
	}
	return out.Data[0].Embedding, nil
}

// EstimateCost prices unit counts with the provider's table.
func (p *Provider) EstimateCost(model string, promptUnits, completionUnits int) float64 {
	return p.prices.Calculate(model, promptUnits, completionUnits)
}

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.cfg.Model
}

func toTokenizerMessages(msgs []llm.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

var (
	_ llm.Provider      = (*Provider)(nil)
	_ llm.ImageAnalyzer = (*Provider)(nil)
)
