package api

import (
	"time"

	"github.com/BaSui01/aigate/llm"
)

// =============================================================================
// 生成请求类型
// =============================================================================

// GenerateRequest 表示一次按 feature 路由的生成请求。
// @Description 生成请求结构
type GenerateRequest struct {
	// 业务特性（clarity、max、companion、negotiate 或自定义）
	Feature string `json:"feature" example:"clarity"`
	// 用户输入
	Prompt string `json:"prompt" example:"What does my deductible mean?"`
	// 用户身份；通过 JWT 认证时以 token subject 为准
	UserID string `json:"user_id,omitempty" example:"user-1"`
	// 系统提示
	SystemPrompt string `json:"system_prompt,omitempty"`
	// 采样温度（0-1）
	Temperature *float64 `json:"temperature,omitempty" example:"0.3"`
	// 最大生成单位数
	MaxTokens int `json:"max_tokens,omitempty" example:"512"`
	// 响应格式（text、structured）
	ResponseFormat string `json:"response_format,omitempty" example:"text"`
	// 特性相关的附加上下文
	Context map[string]any `json:"context,omitempty"`
}

// ToLLM 转换为领域请求
func (r *GenerateRequest) ToLLM() *llm.Request {
	return &llm.Request{
		Feature:        llm.Feature(r.Feature),
		Prompt:         r.Prompt,
		UserID:         r.UserID,
		SystemPrompt:   r.SystemPrompt,
		Temperature:    r.Temperature,
		MaxTokens:      r.MaxTokens,
		ResponseFormat: llm.ResponseFormat(r.ResponseFormat),
		Context:        r.Context,
	}
}

// GenerateResponse 表示生成结果。
// @Description 生成响应结构
type GenerateResponse struct {
	// 生成文本
	Text string `json:"text"`
	// 实际服务的 provider；缓存命中时为原始 provider
	Provider string `json:"provider,omitempty" example:"openai"`
	// 模型标识
	Model string `json:"model,omitempty" example:"gpt-4o-mini"`
	// 是否来自相似度缓存
	Cached bool `json:"cached"`
	// 缓存命中的相似度
	CacheScore float64 `json:"cache_score,omitempty" example:"0.93"`
	// 端到端耗时（毫秒）
	LatencyMs int64 `json:"latency_ms" example:"420"`
	// 用量统计
	Usage Usage `json:"usage"`
	// 对话上下文（companion 等特性）
	Conversation *llm.ConversationContext `json:"conversation,omitempty"`
}

// Usage 单次响应的用量。
// @Description 用量统计
type Usage struct {
	PromptUnits     int     `json:"prompt_units" example:"120"`
	CompletionUnits int     `json:"completion_units" example:"80"`
	TotalUnits      int     `json:"total_units" example:"200"`
	TotalCost       float64 `json:"total_cost" example:"0.00042"`
}

// FromLLMResponse 转换领域响应
func FromLLMResponse(resp *llm.Response) *GenerateResponse {
	return &GenerateResponse{
		Text:       resp.Text,
		Provider:   resp.ProviderName,
		Model:      resp.ModelID,
		Cached:     resp.Cached,
		CacheScore: resp.CacheScore,
		LatencyMs:  resp.LatencyMs,
		Usage: Usage{
			PromptUnits:     resp.Usage.PromptUnits,
			CompletionUnits: resp.Usage.CompletionUnits,
			TotalUnits:      resp.Usage.TotalUnits(),
			TotalCost:       resp.Usage.TotalCost,
		},
		Conversation: resp.Context,
	}
}

// =============================================================================
// 图像分析类型
// =============================================================================

// AnalyzeImageRequest 表示 JSON 形式的图像分析请求。
// multipart/form-data 形式使用相同字段名，图像放在 image 文件字段。
// @Description 图像分析请求结构
type AnalyzeImageRequest struct {
	Feature  string `json:"feature" example:"max"`
	Prompt   string `json:"prompt" example:"Is this roof damage covered?"`
	UserID   string `json:"user_id,omitempty" example:"user-1"`
	MIMEType string `json:"mime_type,omitempty" example:"image/png"`
	// Base64 编码的图像
	Image     []byte `json:"image"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ToLLM 转换为领域请求
func (r *AnalyzeImageRequest) ToLLM() *llm.ImageRequest {
	return &llm.ImageRequest{
		UserID:    r.UserID,
		Feature:   llm.Feature(r.Feature),
		Prompt:    r.Prompt,
		MIMEType:  r.MIMEType,
		Image:     r.Image,
		MaxTokens: r.MaxTokens,
	}
}

// =============================================================================
// 用量查询类型
// =============================================================================

// UsageEstimate 当前周期的累计用量。
// @Description 用量估算
type UsageEstimate struct {
	UserID          string  `json:"user_id" example:"user-1"`
	Feature         string  `json:"feature" example:"clarity"`
	Period          string  `json:"period" example:"2026-10-15"`
	Requests        int64   `json:"requests" example:"12"`
	PromptUnits     int64   `json:"prompt_units" example:"1400"`
	CompletionUnits int64   `json:"completion_units" example:"900"`
	TotalUnits      int64   `json:"total_units" example:"2300"`
	TotalCost       float64 `json:"total_cost" example:"0.0123"`
}

// =============================================================================
// 健康检查类型
// =============================================================================

// VersionInfo 版本信息
type VersionInfo struct {
	Version   string    `json:"version" example:"1.0.0"`
	BuildTime string    `json:"build_time,omitempty"`
	GitCommit string    `json:"git_commit,omitempty"`
	StartedAt time.Time `json:"started_at"`
}
