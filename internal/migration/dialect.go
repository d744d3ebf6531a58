package migration

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/BaSui01/aigate/config"
)

//go:embed migrations
var migrationFiles embed.FS

// DefaultTable 版本记录表名
const DefaultTable = "aigate_schema_migrations"

// =============================================================================
// 🗄️ 方言
// =============================================================================

// Dialect 数据库方言，同时决定内嵌 SQL 目录
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect 解析方言名，接受常见别名
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %q", s)
	}
}

func (d Dialect) dir() string { return "migrations/" + string(d) }

func (d Dialect) source() (source.Driver, error) {
	return iofs.New(migrationFiles, d.dir())
}

// scheme 是 golang-migrate 注册的数据库驱动名
func (d Dialect) scheme() string {
	if d == SQLite {
		return "sqlite3"
	}
	return string(d)
}

// =============================================================================
// 🔗 连接地址
// =============================================================================

// URL 按 database 配置生成 golang-migrate 连接地址，table 写入 x-migrations-table。
func URL(cfg config.DatabaseConfig, table string) (string, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return "", err
	}
	if table == "" {
		table = DefaultTable
	}
	if cfg.Name == "" {
		return "", errors.New("database name is required")
	}

	q := url.Values{}
	q.Set("x-migrations-table", table)

	switch d {
	case Postgres:
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		q.Set("sslmode", sslMode)
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Path:     "/" + cfg.Name,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	case MySQL:
		// 迁移文件一个文件多条语句
		q.Set("multiStatements", "true")
		q.Set("parseTime", "true")
		return fmt.Sprintf("mysql://%s:%s@tcp(%s)/%s?%s",
			cfg.User, cfg.Password, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), cfg.Name, q.Encode()), nil
	default:
		q.Set("_foreign_keys", "on")
		return "sqlite3://" + cfg.Name + "?" + q.Encode(), nil
	}
}

// =============================================================================
// 📋 内嵌迁移清单
// =============================================================================

// Migration 一个内嵌迁移
type Migration struct {
	Version uint
	Name    string
}

// Plan 列出方言 d 的全部内嵌迁移，按版本升序。
func Plan(d Dialect) ([]Migration, error) {
	src, err := d.source()
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	defer src.Close()

	var plan []Migration
	v, err := src.First()
	for err == nil {
		r, name, rerr := src.ReadUp(v)
		if rerr != nil {
			return nil, fmt.Errorf("read migration %d: %w", v, rerr)
		}
		r.Close()
		plan = append(plan, Migration{Version: v, Name: name})
		v, err = src.Next(v)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("walk migrations: %w", err)
	}
	return plan, nil
}
