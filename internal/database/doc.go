/*
包 database 提供基于 GORM 的数据库连接与连接池管理。

Open 按配置选择 postgres、mysql 或纯 Go 的 sqlite 驱动，并把 GORM 日志接入 zap。
PoolManager 负责连接池参数、后台探活、就绪检查与事务执行。

WithTransactionRetry 只重试瞬时错误：postgres 的 40001/40P01/55P03、
mysql 的 1213/1205、driver.ErrBadConn 以及 sqlite 的 "database is locked"。
成本聚合的 SQL 存储通过它执行 upsert。
*/
package database
