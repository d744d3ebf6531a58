/*
包 metrics 提供基于 Prometheus 的网关指标采集能力。

# 概述

Collector 通过 promauto.With 注册到调用方给定的 Registerer，
未给定时使用默认 Registry。所有指标按 namespace 隔离。

# 覆盖范围

  - HTTP：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 编排：按 feature/provider/outcome 统计请求，记录端到端耗时与回退次数。
  - 缓存：命中、未命中与被吞掉的后端错误。
  - 批处理：批次数量、批大小分布与提交耗时。
  - 用量：按 feature 累计用量单位与估算成本。
  - 连接池：数据库与 Redis 连接数 Gauge，旁路任务池的排队、运行与丢弃数。

Collector 直接满足 llm/cache、llm/batch、llm/usage 与 orchestrator
各自声明的 Recorder 接口，装配时无需适配层。
*/
package metrics
