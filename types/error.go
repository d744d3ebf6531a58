package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode 网关统一错误码
type ErrorCode string

// provider 层
const (
	ErrProviderUnavailable     ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrProviderRateLimited     ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrProviderInvalidResponse ErrorCode = "PROVIDER_INVALID_RESPONSE"
	ErrUpstreamTimeout         ErrorCode = "UPSTREAM_TIMEOUT"
)

// 编排层
const (
	ErrOrchestrationFailed ErrorCode = "ORCHESTRATION_FAILED"
	ErrCacheUnavailable    ErrorCode = "CACHE_UNAVAILABLE"
	ErrCostTrackingFailed  ErrorCode = "COST_TRACKING_FAILED"
	ErrBatchFailed         ErrorCode = "BATCH_FAILED"
)

// 接口层
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error 带错误码的结构化错误。HTTP 状态码由 api/handlers 按 Code 映射。
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	// 出错的 provider，非 provider 错误为空
	Provider string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError 创建错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause 设置底层错误
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable 标记可重试
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider 记录出错的 provider
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError 在错误链中查找 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsRetryable 错误链中的 *Error 是否标记为可重试
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// GetErrorCode 错误链中的错误码，没有 *Error 时返回空
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode err 是否带有 code
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsProviderFailure 是否应切换到回退 provider。限流、无法解析的输出与超时都按不可用处理。
func IsProviderFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch GetErrorCode(err) {
	case ErrProviderUnavailable, ErrProviderRateLimited, ErrProviderInvalidResponse,
		ErrUpstreamTimeout, ErrBatchFailed:
		return true
	}
	return false
}

// =============================================================================
// 🏷️ 构造函数
// =============================================================================

func providerError(code ErrorCode, provider, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Provider: provider, Cause: cause}
}

// NewProviderUnavailable 传输层或后端故障
func NewProviderUnavailable(provider string, cause error) *Error {
	return providerError(ErrProviderUnavailable, provider, "provider unavailable", cause).WithRetryable(true)
}

// NewProviderRateLimited 后端返回 429
func NewProviderRateLimited(provider, message string) *Error {
	return providerError(ErrProviderRateLimited, provider, message, nil).WithRetryable(true)
}

// NewProviderInvalidResponse 后端输出无法解码或没有内容
func NewProviderInvalidResponse(provider, message string) *Error {
	return providerError(ErrProviderInvalidResponse, provider, message, nil)
}

// NewUpstreamTimeout provider 调用超过截止时间
func NewUpstreamTimeout(provider string, cause error) *Error {
	return providerError(ErrUpstreamTimeout, provider, "provider call timed out", cause).WithRetryable(true)
}

// NewBatchFailed 一个失败批次内所有请求共享的错误
func NewBatchFailed(key string, cause error) *Error {
	return NewError(ErrBatchFailed, "batch "+key+" failed").WithCause(cause).WithRetryable(true)
}

// NewOrchestrationFailed 主 provider 与回退 provider 都失败后返回给调用方的唯一错误
func NewOrchestrationFailed(feature string, primary, fallback error) *Error {
	return NewError(ErrOrchestrationFailed, "all providers failed for feature "+feature).
		WithCause(errors.Join(primary, fallback))
}

// NewCacheUnavailable 相似度缓存后端故障
func NewCacheUnavailable(cause error) *Error {
	return NewError(ErrCacheUnavailable, "similarity cache unavailable").WithCause(cause)
}

// NewCostTrackingFailed 用量持久化失败
func NewCostTrackingFailed(cause error) *Error {
	return NewError(ErrCostTrackingFailed, "cost tracking failed").WithCause(cause)
}

// NewInvalidRequestError 参数校验失败
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message)
}
