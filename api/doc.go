// Package api 定义 aigate HTTP API 的请求与响应 DTO。
//
// # API 概览
//
//   - POST /v1/generate          按 feature 路由的文本生成（缓存、批处理、回退）
//   - POST /v1/images/analyze    图像分析（JSON base64 或 multipart）
//   - GET  /v1/usage?feature=    当前周期的用量与成本估算
//   - GET  /health /healthz /ready /version
//
// # 认证
//
// 除健康检查外的端点需要以下之一：
//
//	Authorization: Bearer <jwt>
//	X-API-Key: <api-key>
//
// 所有响应使用统一信封：
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//	{"success": false, "error": {"code": "ORCHESTRATION_FAILED", "message": "..."}}
package api
