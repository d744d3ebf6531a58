/*
Package handlers 提供 aigate HTTP API 的请求处理器实现。

# 核心类型

  - GenerateHandler : POST /v1/generate，调用 Processor（编排器）
  - ImageHandler    : POST /v1/images/analyze，支持 JSON base64 与 multipart
  - UsageHandler    : GET /v1/usage，返回当前周期用量估算
  - HealthHandler   : /health、/ready、/version，可注册依赖检查
  - Response        : 统一 JSON 信封（success + data + error + request_id）
  - ResponseWriter  : 捕获状态码与字节数，供中间件记录指标

# 错误映射

WriteError 按错误码映射 HTTP 状态：ORCHESTRATION_FAILED 502，
INVALID_REQUEST 400，UNAUTHORIZED 401，RATE_LIMITED 429，NOT_FOUND 404，
其余 500。失败响应总是 success:false 并带 error.code。

# 用户身份

JWT 认证写入的 subject 优先于请求体或查询参数中的 user_id；
API Key 调用方代表终端用户声明 user_id。
*/
package handlers
