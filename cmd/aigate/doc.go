/*
Package main 提供 aigate 网关的可执行入口。

# 概述

cmd/aigate 装配 Provider 注册表、相似度缓存、批处理器、成本追踪器与会话
上下文管理器，交给编排器统一调度，并通过 HTTP API 对外提供服务。

# 子命令

  - serve    启动 API 与 Metrics 双端口监听，监听配置文件做热重载
  - warm     读取 YAML 提示词文件预热相似度缓存
  - migrate  数据库迁移（up、down、steps、status、version、info、goto、force、reset）
  - health   请求 /health 或 /ready 做探活
  - version  打印 ldflags 注入的版本信息

# 中间件链

由外到内依次为 Recovery、RequestID、SecurityHeaders、RequestLogger、
MetricsMiddleware、OTelTracing、CORS（配置了来源时）、Auth、RateLimiter。
认证失败返回 401，限流返回 429，两者都不会触达编排器。
JWT 的 sub 声明作为调用用户，覆盖请求体中的 user_id；API Key 调用方自行指定用户。

# 热重载

配置文件变更后重新加载并校验，只应用路由表、缓存 TTL、会话限制与日志级别。
Provider、存储后端与监听端口的变更需要重启。
*/
package main
