// @title aigate API
// @version 1.0.0
// @description LLM orchestration gateway: similarity cache, per-feature routing with fallback, request batching and usage accounting.

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/config"
	"github.com/BaSui01/aigate/internal/telemetry"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 子命令
// =============================================================================

type command struct {
	name    string
	summary string
	run     func(args []string)
}

func commands() []command {
	return []command{
		{"serve", "Start the gateway", runServe},
		{"warm", "Pre-populate the similarity cache from a prompt file", runWarm},
		{"migrate", "Database migration commands (see 'aigate migrate help')", runMigrate},
		{"health", "Probe a running gateway", runHealthCheck},
		{"version", "Show version information", func([]string) { printVersion() }},
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}
	for _, c := range commands() {
		if c.name == name {
			c.run(os.Args[2:])
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	printUsage()
	os.Exit(1)
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	_ = fs.Parse(args)

	loader := newLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		exitf("Failed to load config: %v\n", err)
	}

	logger, level := newLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting aigate",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("build_time", BuildTime),
		zap.String("config", *configPath),
		zap.Strings("env_overrides", loader.EnvOverrides()))

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		// 遥测失败不阻止网关提供服务
		logger.Warn("telemetry unavailable", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, loader, logger)
	srv.logLevel = &level
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received", zap.Duration("grace", cfg.Server.ShutdownTimeout))
	case err := <-srv.Failed():
		logger.Error("Listener failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry flush failed", zap.Error(err))
	}
	logger.Info("aigate stopped")
}

// newLoader 带完整校验的加载器，serve 与 warm 共用
func newLoader(configPath string) *config.Loader {
	return config.NewLoader().
		WithConfigPath(configPath).
		WithValidator((*config.Config).Validate)
}

// =============================================================================
// 🏥 health
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Gateway base URL")
	ready := fs.Bool("ready", false, "Probe /ready (dependencies) instead of /health")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	_ = fs.Parse(args)

	target := strings.TrimRight(*addr, "/") + routeHealth
	if *ready {
		target = strings.TrimRight(*addr, "/") + routeReady
	}

	resp, err := (&http.Client{Timeout: *timeout}).Get(target)
	if err != nil {
		exitf("unhealthy: %v\n", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		exitf("unhealthy: %s returned %d\n", target, resp.StatusCode)
	}
	fmt.Println("OK")
}

// =============================================================================
// 📋 版本与帮助
// =============================================================================

func printVersion() {
	fmt.Printf("aigate %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
}

func printUsage() {
	var b strings.Builder
	b.WriteString("aigate - LLM orchestration gateway\n\nUsage:\n  aigate <command> [options]\n\nCommands:\n")
	for _, c := range commands() {
		fmt.Fprintf(&b, "  %-9s %s\n", c.name, c.summary)
	}
	b.WriteString(`
Examples:
  aigate serve --config /etc/aigate/aigate.yaml
  aigate warm --config aigate.yaml --file prompts.yaml --concurrency 8
  aigate migrate up --config aigate.yaml
  aigate health --addr http://localhost:8080 --ready
`)
	fmt.Print(b.String())
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}
