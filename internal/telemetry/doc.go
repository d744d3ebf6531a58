// Package telemetry 初始化网关的 OpenTelemetry 导出。
//
// 未启用时只安装 W3C 传播器，不建立任何外部连接。
package telemetry
