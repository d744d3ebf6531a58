/*
包 llm 定义网关与模型服务商之间的统一契约。

# 概述

上层只依赖 [Provider] 接口与本包的请求/响应模型，不感知
OpenAI、Anthropic 或兼容服务之间的协议差异。具体实现位于
llm/providers 下的各子包，由 llm/factory 按配置构建后注册到
[ProviderRegistry]。

# 核心类型

  - [Request]：一次生成请求，携带 feature、用户、提示词与可选会话上下文
  - [Response]：生成结果与 [Usage] 用量
  - [Feature]：业务功能名，决定路由、缓存 TTL 与上下文限额
  - [ConversationContext] / [Turn]：随请求发送的历史对话
  - [ImageRequest]：图片分析请求

# 能力接口

  - [Provider]：文本生成、原始对话、向量与费用估算
  - [ImageAnalyzer]：接收图片输入的 Provider 额外实现
  - [BatchGenerator]：具备原生批量接口的 Provider 额外实现
  - [Embedder]：缓存只需要的向量视图

[GenerateBatch] 对未实现 [BatchGenerator] 的 Provider 以有界并发展开，
结果始终全部成功或整体失败。

# 请求身份

[Request.Identity] 对影响输出的字段求哈希，用于缓存键；
[Request.Scope] 按 feature、系统提示词与响应格式隔离相似度搜索范围。
*/
package llm
