package handlers

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/api"
	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/types"
)

// =============================================================================
// 🖼️ 图像分析 Handler
// =============================================================================

// ImageAnalyzer 处理图像分析请求（由 orchestrator.Orchestrator 实现）
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error)
}

// ImageHandler 图像分析处理器
type ImageHandler struct {
	analyzer ImageAnalyzer
	maxImage int64
	logger   *zap.Logger
}

// NewImageHandler 创建图像分析处理器。maxImage 为图像字节上限。
func NewImageHandler(analyzer ImageAnalyzer, maxImage int64, logger *zap.Logger) *ImageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageHandler{
		analyzer: analyzer,
		maxImage: maxImage,
		logger:   logger.With(zap.String("handler", "image")),
	}
}

// HandleAnalyze 处理图像分析请求
// @Summary 图像分析
// @Description 使用 feature 对应 provider 的视觉能力分析图像，不缓存、不批处理
// @Tags 图像
// @Accept json,mpfd
// @Produce json
// @Param request body api.AnalyzeImageRequest true "图像分析请求"
// @Success 200 {object} Response "分析结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "所有 provider 失败"
// @Security ApiKeyAuth
// @Router /v1/images/analyze [post]
func (h *ImageHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		WriteError(w, r, types.NewInvalidRequestError("Content-Type is required"), h.logger)
		return
	}

	var req api.AnalyzeImageRequest
	switch mediaType {
	case "application/json":
		// base64 膨胀约 4/3，额外留出字段空间
		limit := h.maxImage*4/3 + 64<<10
		if err := DecodeJSONBody(w, r, &req, limit, h.logger); err != nil {
			return
		}
	case "multipart/form-data":
		if err := h.parseMultipart(w, r, &req); err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
	default:
		WriteError(w, r, types.NewInvalidRequestError("Content-Type must be application/json or multipart/form-data"), h.logger)
		return
	}
	req.UserID = resolveUser(r, req.UserID)

	resp, err := h.analyzer.AnalyzeImage(r.Context(), req.ToLLM())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, api.FromLLMResponse(resp))
}

func (h *ImageHandler) parseMultipart(w http.ResponseWriter, r *http.Request, req *api.AnalyzeImageRequest) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImage+64<<10)
	if err := r.ParseMultipartForm(h.maxImage); err != nil {
		return types.NewInvalidRequestError("invalid multipart body").WithCause(err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req.Feature = r.FormValue("feature")
	req.Prompt = r.FormValue("prompt")
	req.UserID = r.FormValue("user_id")
	if v := r.FormValue("max_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return types.NewInvalidRequestError("max_tokens must be an integer")
		}
		req.MaxTokens = n
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return types.NewInvalidRequestError("image file is required").WithCause(err)
	}
	defer file.Close()

	// 多读一个字节以识别超限，交给 orchestrator 统一校验
	data, err := io.ReadAll(io.LimitReader(file, h.maxImage+1))
	if err != nil {
		return types.NewInvalidRequestError("read image").WithCause(err)
	}
	req.Image = data
	req.MIMEType = r.FormValue("mime_type")
	if req.MIMEType == "" {
		req.MIMEType = header.Header.Get("Content-Type")
		if req.MIMEType == "application/octet-stream" {
			req.MIMEType = ""
		}
	}
	return nil
}
