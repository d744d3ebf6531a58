/*
包 migration 基于 golang-migrate 管理 aigate 的数据库 Schema，
支持 PostgreSQL、MySQL 与 SQLite。

各方言的 SQL 文件内嵌在 migrations/<dialect> 下，覆盖交互记录表
aigate_interactions、成本聚合表 aigate_usage 与会话轮次表
aigate_conversation_turns，与 llm/store 的 gorm 模型保持一致。
版本记录写入 aigate_schema_migrations。

  - [Plan]：不连接数据库，列出内嵌迁移
  - [URL]：由 config.DatabaseConfig 生成 golang-migrate 连接地址
  - [Migrator]：Up、Down、Steps、Goto、Force、Version、State
  - [Run]：`aigate migrate` 子命令的执行与输出
*/
package migration
