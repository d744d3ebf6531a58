package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/types"
)

type analyzerFunc func(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error)

func (f analyzerFunc) AnalyzeImage(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error) {
	return f(ctx, req)
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

func capturingAnalyzer(got **llm.ImageRequest) analyzerFunc {
	return func(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error) {
		*got = req
		return &llm.Response{Text: "a roof", ProviderName: "anthropic"}, nil
	}
}

func TestImageHandler_JSON(t *testing.T) {
	var got *llm.ImageRequest
	h := NewImageHandler(capturingAnalyzer(&got), 1<<20, zap.NewNop())

	body := `{"feature":"max","prompt":"describe","user_id":"u1","image":"` + base64.StdEncoding.EncodeToString(pngBytes) + `"}`
	w := httptest.NewRecorder()
	h.HandleAnalyze(w, postJSON("/v1/images/analyze", body))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, pngBytes, got.Image)
	assert.Equal(t, llm.FeatureMax, got.Feature)
	assert.Equal(t, "u1", got.UserID)
}

func TestImageHandler_Multipart(t *testing.T) {
	var got *llm.ImageRequest
	h := NewImageHandler(capturingAnalyzer(&got), 1<<20, zap.NewNop())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("feature", "max"))
	require.NoError(t, mw.WriteField("prompt", "describe"))
	require.NoError(t, mw.WriteField("user_id", "u2"))
	require.NoError(t, mw.WriteField("max_tokens", "256"))
	fw, err := mw.CreateFormFile("image", "roof.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/v1/images/analyze", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.HandleAnalyze(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, pngBytes, got.Image)
	assert.Equal(t, "u2", got.UserID)
	assert.Equal(t, 256, got.MaxTokens)
	// CreateFormFile 声明 application/octet-stream，交给下游嗅探
	assert.Empty(t, got.MIMEType)
}

func TestImageHandler_Rejections(t *testing.T) {
	h := NewImageHandler(analyzerFunc(func(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error) {
		return nil, types.NewInvalidRequestError("image is required")
	}), 1<<20, zap.NewNop())

	t.Run("missing content type", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleAnalyze(w, httptest.NewRequest(http.MethodPost, "/v1/images/analyze", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported content type", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/images/analyze", bytes.NewReader(pngBytes))
		r.Header.Set("Content-Type", "image/png")
		w := httptest.NewRecorder()
		h.HandleAnalyze(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("multipart without file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("feature", "max"))
		require.NoError(t, mw.Close())
		r := httptest.NewRequest(http.MethodPost, "/v1/images/analyze", &buf)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		h.HandleAnalyze(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("analyzer validation", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleAnalyze(w, postJSON("/v1/images/analyze", `{"feature":"max","prompt":"p","user_id":"u"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", decodeEnvelope(t, w).Error.Code)
	})
}
