// Package config 提供 aigate 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（AIGATE_ 前缀）的顺序加载，
// 随后运行校验器。Watcher 用 fsnotify 监听配置文件所在目录，无法创建时退化为轮询；
// Reloader 在变更后重新加载并校验，通过回调把特性路由表、缓存 TTL 表、
// 会话限额与日志级别热替换到运行中的组件。
package config
