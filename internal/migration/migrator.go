package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"go.uber.org/zap"

	"github.com/BaSui01/aigate/config"
)

// =============================================================================
// 🚚 迁移器
// =============================================================================

// Migrator 在一个数据库上执行内嵌迁移
type Migrator struct {
	dialect Dialect
	mig     *migrate.Migrate
	logger  *zap.Logger
}

// Status 单个迁移的应用状态
type Status struct {
	Migration
	Applied bool
	Dirty   bool
}

// State 当前 Schema 状态
type State struct {
	Version    uint
	Dirty      bool
	Applied    int
	Pending    int
	Migrations []Status
}

// New 打开 rawURL 指向的数据库并加载方言 d 的内嵌迁移。
func New(d Dialect, rawURL string, logger *zap.Logger) (*Migrator, error) {
	if rawURL == "" {
		return nil, errors.New("database URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	src, err := d.source()
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	mig, err := migrate.NewWithSourceInstance("iofs", src, rawURL)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("connect %s: %w", d, err)
	}
	logger = logger.With(zap.String("component", "migration"), zap.String("dialect", string(d)))
	mig.Log = migrateLogger{logger.Sugar()}

	return &Migrator{dialect: d, mig: mig, logger: logger}, nil
}

// FromConfig 使用 database 配置段创建迁移器
func FromConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*Migrator, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	rawURL, err := URL(cfg, DefaultTable)
	if err != nil {
		return nil, err
	}
	return New(d, rawURL, logger)
}

// FromURL 使用显式方言与 golang-migrate 地址创建迁移器
func FromURL(dialect, rawURL string, logger *zap.Logger) (*Migrator, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	return New(d, rawURL, logger)
}

// Up 应用全部待执行迁移
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.mig.Up)
}

// Down 回滚最近一个迁移；all 为 true 时全部回滚
func (m *Migrator) Down(ctx context.Context, all bool) error {
	if all {
		return m.run(ctx, "down all", m.mig.Down)
	}
	return m.run(ctx, "down", func() error { return m.mig.Steps(-1) })
}

// Steps n > 0 前进 n 步，n < 0 回滚 |n| 步
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return m.run(ctx, "steps", func() error { return m.mig.Steps(n) })
}

// Goto 迁移到指定版本
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.mig.Migrate(version) })
}

// Force 只改写版本记录并清除 dirty 标记，不执行 SQL。-1 表示无版本。
func (m *Migrator) Force(version int) error {
	if err := m.mig.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 返回当前版本；未执行过迁移时为 0
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.mig.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return v, dirty, nil
}

// State 汇总当前版本与每个内嵌迁移的状态
func (m *Migrator) State() (*State, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	plan, err := Plan(m.dialect)
	if err != nil {
		return nil, err
	}

	st := &State{Version: version, Dirty: dirty, Migrations: make([]Status, 0, len(plan))}
	for _, mg := range plan {
		s := Status{Migration: mg, Applied: version != 0 && mg.Version <= version}
		s.Dirty = dirty && mg.Version == version
		if s.Applied {
			st.Applied++
		} else {
			st.Pending++
		}
		st.Migrations = append(st.Migrations, s)
	}
	return st, nil
}

// Close 释放源与数据库连接
func (m *Migrator) Close() error {
	srcErr, dbErr := m.mig.Close()
	return errors.Join(srcErr, dbErr)
}

// run 执行一次迁移操作。ctx 取消时请求 golang-migrate 在当前迁移结束后停止。
func (m *Migrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.mig.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("no migration to apply", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migration %s interrupted: %w", op, err)
	}
	m.logger.Info("migration applied", zap.String("op", op))
	return nil
}

// migrateLogger 把 golang-migrate 的日志转到 zap
type migrateLogger struct{ s *zap.SugaredLogger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.s.Infof(strings.TrimRight(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }
