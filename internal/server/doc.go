/*
包 server 管理单个 HTTP 监听的生命周期：非阻塞启动、异步错误上报与限时优雅关闭。

  - Manager：封装 net/http.Server 与 listener。Start 同步返回绑定错误，
    之后的服务错误从 Errors 读出；Shutdown 可重复调用。
  - Config：监听地址、超时、请求头上限、h2c 开关与证书路径。
    同时设置 TLSCertFile 与 TLSKeyFile 时以 HTTPS 服务，使用
    tlsutil.ServerTLSConfig 并经 ALPN 协商 h2，此时忽略 h2c。

网关为 API 与 metrics 各创建一个 Manager，主进程在信号与 Errors 之间 select。
*/
package server
