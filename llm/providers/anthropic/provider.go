// Package anthropic implements the Anthropic Messages API. It has no
// embeddings endpoint; embedding calls go to a configured Embedder.
package anthropic

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/internal/tlsutil"
	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/pricing"
	"github.com/BaSui01/aigate/llm/providers"
	"github.com/BaSui01/aigate/types"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-5-sonnet-20241022"
	apiVersion       = "2023-06-01"
	messagesPath     = "/v1/messages"
	defaultMaxTokens = 1024
)

// Provider is the Anthropic provider.
type Provider struct {
	cfg      providers.Config
	client   *http.Client
	prices   *pricing.Table
	embedder llm.Embedder
	logger   *zap.Logger
}

// New creates an Anthropic provider. Responses can take a while, so the
// default timeout is 60s.
func New(cfg providers.Config, logger *zap.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	cfg.Type = "anthropic"
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		prices: cfg.PriceTable(),
		logger: logger.With(zap.String("provider", cfg.Name)),
	}
}

// WithEmbedder sets the embedder used by GenerateEmbedding.
func (p *Provider) WithEmbedder(e llm.Embedder) *Provider {
	p.embedder = e
	return p
}

// WithHTTPClient replaces the HTTP client.
func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	p.client = c
	return p
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

type content struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Model   string    `json:"model"`
	Content []content `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// GenerateText renders req as messages and completes them.
func (p *Provider) GenerateText(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return p.Chat(ctx, llm.ChatRequestFor(req, ""))
}

// Chat sends a raw message list. System messages are lifted into the
// top-level system field; consecutive messages with the same role are merged
// since the API requires alternation.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.Response, error) {
	system, msgs := convertMessages(req.Messages)
	if req.ResponseFormat == llm.FormatStructured && !strings.Contains(system, "JSON") {
		system = strings.TrimSpace(system + "\n\nRespond with a single valid JSON object.")
	}
	body := messagesRequest{
		Model:       p.model(req.Model),
		System:      system,
		Messages:    msgs,
		MaxTokens:   maxTokens(req.MaxTokens),
		Temperature: req.Temperature,
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	return p.send(ctx, body)
}

// AnalyzeImage sends the image as a base64 content block.
func (p *Provider) AnalyzeImage(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error) {
	if len(req.Image) == 0 {
		return nil, types.NewInvalidRequestError("image is required")
	}
	mime := req.MIMEType
	if mime == "" {
		mime = http.DetectContentType(req.Image)
	}
	body := messagesRequest{
		Model: p.model(""),
		Messages: []message{{
			Role: "user",
			Content: []content{
				{Type: "image", Source: &imageSource{Type: "base64", MediaType: mime, Data: base64.StdEncoding.EncodeToString(req.Image)}},
				{Type: "text", Text: req.Prompt},
			},
		}},
		MaxTokens: maxTokens(req.MaxTokens),
	}
	return p.send(ctx, body)
}

func (p *Provider) send(ctx context.Context, body messagesRequest) (*llm.Response, error) {
	start := time.Now()
	var out messagesResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + messagesPath
	if err := providers.PostJSON(ctx, p.client, url, p.setHeaders, body, &out, p.Name()); err != nil {
		p.logger.Debug("messages call failed", zap.Error(err))
		return nil, err
	}

	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, types.NewProviderInvalidResponse(p.Name(), "response carried no text content")
	}

	model := out.Model
	if model == "" {
		model = body.Model
	}
	return &llm.Response{
		Text: sb.String(),
		Usage: llm.Usage{
			PromptUnits:     out.Usage.InputTokens,
			CompletionUnits: out.Usage.OutputTokens,
			TotalCost:       p.EstimateCost(model, out.Usage.InputTokens, out.Usage.OutputTokens),
		},
		ModelID:      model,
		LatencyMs:    time.Since(start).Milliseconds(),
		ProviderName: p.Name(),
	}, nil
}

// GenerateEmbedding delegates to the configured embedder.
func (p *Provider) GenerateEmbedding(ctx context.Context, text string) ([]float64, error) {
	if p.embedder == nil {
		return nil, types.NewProviderUnavailable(p.Name(), errNoEmbedder)
	}
	return p.embedder.GenerateEmbedding(ctx, text)
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

func maxTokens(n int) int {
	if n > 0 {
		return n
	}
	return defaultMaxTokens
}

func convertMessages(msgs []llm.Message) (string, []message) {
	var system []string
	out := make([]message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "assistant"
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, content{Type: "text", Text: m.Content})
			continue
		}
		out = append(out, message{Role: role, Content: []content{{Type: "text", Text: m.Content}}})
	}
	return strings.Join(system, "\n\n"), out
}

var (
	_ llm.Provider      = (*Provider)(nil)
	_ llm.ImageAnalyzer = (*Provider)(nil)
)
