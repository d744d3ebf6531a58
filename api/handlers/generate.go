package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/api"
	"github.com/BaSui01/aigate/internal/ctxkeys"
	"github.com/BaSui01/aigate/llm"
)

// =============================================================================
// ✨ 生成接口 Handler
// =============================================================================

// Processor 处理生成请求（由 orchestrator.Orchestrator 实现）
type Processor interface {
	Process(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// GenerateHandler 生成接口处理器
type GenerateHandler struct {
	processor Processor
	logger    *zap.Logger
}

// NewGenerateHandler 创建生成处理器
func NewGenerateHandler(processor Processor, logger *zap.Logger) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandler{
		processor: processor,
		logger:    logger.With(zap.String("handler", "generate")),
	}
}

// HandleGenerate 处理生成请求
// @Summary 生成
// @Description 按 feature 路由生成文本，命中相似度缓存时不调用 provider
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.GenerateRequest true "生成请求"
// @Success 200 {object} Response "生成结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "所有 provider 失败"
// @Security ApiKeyAuth
// @Router /v1/generate [post]
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, "application/json", h.logger) {
		return
	}

	var req api.GenerateRequest
	if err := DecodeJSONBody(w, r, &req, DefaultMaxBodyBytes, h.logger); err != nil {
		return
	}
	req.UserID = resolveUser(r, req.UserID)

	resp, err := h.processor.Process(r.Context(), req.ToLLM())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, api.FromLLMResponse(resp))
}

// resolveUser 通过 JWT 认证的 subject 优先于请求体中的 user_id。
// API Key 调用方不设置 subject，由调用方代表终端用户声明身份。
func resolveUser(r *http.Request, claimed string) string {
	if sub, ok := ctxkeys.Subject(r.Context()); ok {
		return sub
	}
	return strings.TrimSpace(claimed)
}
