// Package rediscache 管理进程共享的 Redis 连接。
//
// 相似度缓存的条目存储与用量聚合通过 Manager.Client 复用同一个连接池，
// 就绪检查调用 Ping，指标采样读取 Stats。
package rediscache
