package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/BaSui01/aigate/config"
)

func TestParseDialect(t *testing.T) {
	tests := []struct {
		input   string
		want    Dialect
		wantErr bool
	}{
		{"postgres", Postgres, false},
		{"PostgreSQL", Postgres, false},
		{"pg", Postgres, false},
		{"mysql", MySQL, false},
		{"mariadb", MySQL, false},
		{"sqlite", SQLite, false},
		{" sqlite3 ", SQLite, false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDialect(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "postgres default ssl",
			cfg:  config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "aigate"},
			want: "postgres://u:p@db:5432/aigate?sslmode=disable&x-migrations-table=aigate_schema_migrations",
		},
		{
			name: "postgres explicit ssl",
			cfg:  config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "aigate", SSLMode: "require"},
			want: "postgres://u:p@db:5432/aigate?sslmode=require&x-migrations-table=aigate_schema_migrations",
		},
		{
			name: "mysql",
			cfg:  config.DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "aigate"},
			want: "mysql://u:p@tcp(db:3306)/aigate?multiStatements=true&parseTime=true&x-migrations-table=aigate_schema_migrations",
		},
		{
			name: "sqlite",
			cfg:  config.DatabaseConfig{Driver: "sqlite", Name: "/var/lib/aigate.db"},
			want: "sqlite3:///var/lib/aigate.db?_foreign_keys=on&x-migrations-table=aigate_schema_migrations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := URL(tt.cfg, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := URL(config.DatabaseConfig{Driver: "oracle", Name: "x"}, "")
	assert.Error(t, err)
	_, err = URL(config.DatabaseConfig{Driver: "sqlite"}, "")
	assert.ErrorContains(t, err, "name is required")
}

func TestPlan(t *testing.T) {
	for _, d := range []Dialect{Postgres, MySQL, SQLite} {
		t.Run(string(d), func(t *testing.T) {
			plan, err := Plan(d)
			require.NoError(t, err)
			assert.Equal(t, []Migration{
				{Version: 1, Name: "usage_and_interactions"},
				{Version: 2, Name: "conversation_turns"},
			}, plan)
		})
	}
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(SQLite, "", nil)
	assert.ErrorContains(t, err, "database URL is required")

	_, err = FromURL("oracle", "oracle://x", nil)
	assert.Error(t, err)

	_, err = FromConfig(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

// sqliteMigrator 在临时目录中创建 SQLite 迁移器
func sqliteMigrator(t *testing.T) (*Migrator, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("sqlite3 migrate driver requires cgo")
	}
	dbPath := filepath.Join(t.TempDir(), "aigate.db")
	m, err := FromConfig(config.DatabaseConfig{Driver: "sqlite", Name: dbPath}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dbPath
}

func TestMigrator_SQLite(t *testing.T) {
	m, dbPath := sqliteMigrator(t)
	ctx := context.Background()

	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "no change is not an error")

	v, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.ElementsMatch(t,
		[]string{"aigate_conversation_turns", "aigate_interactions", "aigate_usage"},
		listTables(t, dbPath))

	st, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Applied)
	assert.Equal(t, 0, st.Pending)

	require.NoError(t, m.Down(ctx, false))
	v, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.NotContains(t, listTables(t, dbPath), "aigate_conversation_turns")

	require.NoError(t, m.Steps(ctx, 1))
	require.NoError(t, m.Steps(ctx, 0))
	require.NoError(t, m.Goto(ctx, 1))

	require.NoError(t, m.Down(ctx, true))
	st, err = m.State()
	require.NoError(t, err)
	assert.Equal(t, uint(0), st.Version)
	assert.Equal(t, 2, st.Pending)
	assert.Empty(t, listTables(t, dbPath))
}

func TestMigrator_CancelledContext(t *testing.T) {
	m, dbPath := sqliteMigrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Up(ctx), context.Canceled)
	assert.Empty(t, listTables(t, dbPath))
}

func TestRun_Output(t *testing.T) {
	m, _ := sqliteMigrator(t)
	ctx := context.Background()
	var buf bytes.Buffer

	require.NoError(t, Run(ctx, m, Command{Op: OpVersion}, &buf))
	assert.Contains(t, buf.String(), "No migrations applied.")

	buf.Reset()
	require.NoError(t, Run(ctx, m, Command{Op: OpUp}, &buf))
	assert.Contains(t, buf.String(), "Current version: 2")

	buf.Reset()
	require.NoError(t, Run(ctx, m, Command{Op: OpStatus}, &buf))
	assert.Contains(t, buf.String(), "usage_and_interactions")
	assert.Contains(t, buf.String(), "2 applied, 0 pending")

	buf.Reset()
	require.NoError(t, Run(ctx, m, Command{Op: OpSteps, Arg: -1}, &buf))
	assert.Contains(t, buf.String(), "Current version: 1")

	buf.Reset()
	require.NoError(t, Run(ctx, m, Command{Op: OpInfo}, &buf))
	assert.Contains(t, buf.String(), "pending:  1")

	assert.Error(t, Run(ctx, m, Command{Op: OpGoto, Arg: -1}, &buf))
	assert.Error(t, Run(ctx, m, Command{Op: "sideways"}, &buf))
}

// listTables 用纯 Go 驱动独立读取 Schema
func listTables(t *testing.T, dbPath string) []string {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'aigate_%' AND name != 'aigate_schema_migrations'`)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}
