package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/api"
	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/llm/usage"
	"github.com/BaSui01/aigate/types"
)

// =============================================================================
// 💰 用量查询 Handler
// =============================================================================

// Estimator 返回当前周期的累计用量（由 usage.Tracker 实现）
type Estimator interface {
	Estimate(ctx context.Context, userID string, feature llm.Feature) (*usage.Estimate, error)
}

// UsageHandler 用量查询处理器
type UsageHandler struct {
	estimator Estimator
	logger    *zap.Logger
}

// NewUsageHandler 创建用量查询处理器
func NewUsageHandler(estimator Estimator, logger *zap.Logger) *UsageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageHandler{
		estimator: estimator,
		logger:    logger.With(zap.String("handler", "usage")),
	}
}

// HandleEstimate 处理用量查询
// @Summary 用量估算
// @Description 返回调用方在当前周期内某个 feature 的累计用量与成本
// @Tags 用量
// @Produce json
// @Param feature query string true "业务特性"
// @Param user_id query string false "用户 ID（仅 API Key 调用方）"
// @Success 200 {object} Response "用量估算"
// @Failure 400 {object} Response "无效请求"
// @Security ApiKeyAuth
// @Router /v1/usage [get]
func (h *UsageHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	feature := strings.TrimSpace(q.Get("feature"))
	if feature == "" {
		WriteError(w, r, types.NewInvalidRequestError("feature is required"), h.logger)
		return
	}
	userID := resolveUser(r, q.Get("user_id"))
	if userID == "" {
		WriteError(w, r, types.NewInvalidRequestError("user_id is required"), h.logger)
		return
	}

	est, err := h.estimator.Estimate(r.Context(), userID, llm.Feature(feature))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, api.UsageEstimate{
		UserID:          est.UserID,
		Feature:         est.Feature,
		Period:          est.Period,
		Requests:        est.Requests,
		PromptUnits:     est.PromptUnits,
		CompletionUnits: est.CompletionUnits,
		TotalUnits:      est.TotalUnits,
		TotalCost:       est.TotalCost,
	})
}
