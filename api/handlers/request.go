package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/types"
)

// DefaultMaxBodyBytes JSON 请求体上限
const DefaultMaxBodyBytes = 1 << 20

// DecodeJSONBody 读取恰好一个 JSON 对象到 dst，限制大小并拒绝未知字段。
// 返回错误时失败响应已写出。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		return reject(w, r, types.NewInvalidRequestError("request body is empty"), logger)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return reject(w, r, types.NewInvalidRequestError(describeDecodeError(err)).WithCause(err), logger)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return reject(w, r, types.NewInvalidRequestError("request body must contain a single JSON object"), logger)
	}
	return nil
}

// describeDecodeError 给调用方的错误文案，不回显请求内容
func describeDecodeError(err error) string {
	var (
		tooLarge  *http.MaxBytesError
		syntax    *json.SyntaxError
		typeError *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("request body too large (limit %d bytes)", tooLarge.Limit)
	case errors.As(err, &syntax):
		return fmt.Sprintf("malformed JSON at offset %d", syntax.Offset)
	case errors.As(err, &typeError):
		return fmt.Sprintf("field %q must be %s", typeError.Field, typeError.Type)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "malformed JSON"
	}
	return "invalid JSON body"
}

func reject(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) error {
	WriteError(w, r, err, logger)
	return err
}

// ValidateContentType Content-Type 的媒体类型须为 want，参数忽略
func ValidateContentType(w http.ResponseWriter, r *http.Request, want string, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == want {
		return true
	}
	WriteError(w, r, types.NewInvalidRequestError("Content-Type must be "+want), logger)
	return false
}
