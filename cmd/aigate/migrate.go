package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/config"
	"github.com/BaSui01/aigate/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand, rest := args[0], args[1:]
	cmd := migration.Command{Op: migration.Op(subcommand)}
	var all *bool

	switch subcommand {
	case "up", "status", "version", "info":
	case "reset":
		cmd.Op = migration.OpDownAll
	case "down":
		fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
		all = fs.Bool("all", false, "Rollback all migrations")
		rest = parseMigrateFlags(fs, rest)
	case "steps", "goto", "force":
		n, err := positionalInt(rest, subcommand, subcommand != "goto")
		if err != nil {
			exitf("%v\n", err)
		}
		cmd.Arg, rest = n, rest[1:]
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
	if all != nil && *all {
		cmd.Op = migration.OpDownAll
	}

	m, err := createMigrator(subcommand, rest)
	if err != nil {
		exitf("create migrator: %v\n", err)
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := migration.Run(ctx, m, cmd, os.Stdout); err != nil {
		m.Close()
		exitf("Migration %s failed: %v\n", subcommand, err)
	}
}

// parseMigrateFlags 解析子命令私有参数，返回剩余参数。
// 公共参数 (--config 等) 保留给 createMigrator。
func parseMigrateFlags(fs *flag.FlagSet, args []string) []string {
	var own, common []string
	for _, a := range args {
		name, _, _ := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if strings.HasPrefix(a, "-") && fs.Lookup(name) != nil {
			own = append(own, a)
			continue
		}
		common = append(common, a)
	}
	_ = fs.Parse(own)
	return common
}

// positionalInt 解析子命令的第一个位置参数
func positionalInt(args []string, sub string, signed bool) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("usage: aigate migrate %s <n>", sub)
	}
	v, err := strconv.Atoi(args[0])
	if err != nil || (!signed && v < 0) {
		return 0, fmt.Errorf("invalid number for %s: %s", sub, args[0])
	}
	return v, nil
}

// createMigrator 按命令行参数或配置文件创建迁移器
func createMigrator(sub string, args []string) (*migration.Migrator, error) {
	fs := flag.NewFlagSet("migrate "+sub, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "golang-migrate database URL")
	verbose := fs.Bool("verbose", false, "Log each applied migration")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	if *dbType != "" && *dbURL != "" {
		return migration.FromURL(*dbType, *dbURL, logger)
	}

	// 迁移只需要数据库段，不做完整校验
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.FromConfig(cfg.Database, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  aigate migrate <subcommand> [options]

Subcommands:
  up            Apply all pending migrations
  down [--all]  Rollback the last migration (or all)
  steps <n>     Apply (n > 0) or rollback (n < 0) n migrations
  status        Show migration status
  version       Show current migration version
  info          Show migration summary
  goto <v>      Migrate to a specific version
  force <v>     Force set migration version (use with caution)
  reset         Rollback all migrations
  help          Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      golang-migrate database URL (default: from config)
  --verbose           Log each applied migration

Examples:
  aigate migrate up
  aigate migrate up --config /etc/aigate/aigate.yaml
  aigate migrate down --all
  aigate migrate status --db-type sqlite --db-url sqlite3://aigate.db
  aigate migrate goto 1
  aigate migrate force 0`)
}
