// Package tlsutil 提供集中式 TLS 配置，
// 为 provider HTTP 客户端与网关监听端提供加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
