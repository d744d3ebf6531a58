package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/aigate/llm"
)

// warmUserID 预热请求未指定用户时使用
const warmUserID = "aigate-warm"

// warmFile 预热文件格式
//
//	defaults:
//	  feature: clarity
//	prompts:
//	  - prompt: "How do I split rent fairly?"
//	  - feature: negotiate
//	    prompt: "Counter a 5% raise offer"
type warmFile struct {
	Defaults warmEntry   `yaml:"defaults"`
	Prompts  []warmEntry `yaml:"prompts"`
}

type warmEntry struct {
	Feature        string   `yaml:"feature"`
	Prompt         string   `yaml:"prompt"`
	UserID         string   `yaml:"user_id"`
	SystemPrompt   string   `yaml:"system_prompt"`
	Temperature    *float64 `yaml:"temperature"`
	MaxTokens      int      `yaml:"max_tokens"`
	ResponseFormat string   `yaml:"response_format"`
}

// =============================================================================
// 🔥 warm 命令
// =============================================================================

func runWarm(args []string) {
	fs := flag.NewFlagSet("warm", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("file", "", "Prompt file (YAML)")
	concurrency := fs.Int("concurrency", 4, "Parallel requests")
	_ = fs.Parse(args)

	if *file == "" {
		exitf("warm: --file is required\n")
	}
	reqs, err := loadWarmFile(*file)
	if err != nil {
		exitf("warm: %v\n", err)
	}

	cfg, err := newLoader(*configPath).Load()
	if err != nil {
		exitf("Failed to load config: %v\n", err)
	}
	if !cfg.Cache.Enabled {
		exitf("warm: cache is disabled in config\n")
	}

	logger, _ := newLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := buildGateway(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal("Failed to assemble gateway", zap.Error(err))
	}

	report, err := gw.orchestrator.Warm(ctx, reqs, *concurrency)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	gw.Close(closeCtx)

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		exitf("warm interrupted: %v\n", err)
	}
}

// loadWarmFile 读取预热文件，未填写的字段取 defaults
func loadWarmFile(path string) ([]*llm.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var f warmFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Prompts) == 0 {
		return nil, fmt.Errorf("%s: no prompts", path)
	}

	reqs := make([]*llm.Request, 0, len(f.Prompts))
	for _, e := range f.Prompts {
		req := &llm.Request{
			Feature:        llm.Feature(firstNonEmpty(e.Feature, f.Defaults.Feature)),
			Prompt:         e.Prompt,
			UserID:         firstNonEmpty(e.UserID, f.Defaults.UserID, warmUserID),
			SystemPrompt:   firstNonEmpty(e.SystemPrompt, f.Defaults.SystemPrompt),
			Temperature:    e.Temperature,
			MaxTokens:      e.MaxTokens,
			ResponseFormat: llm.ResponseFormat(firstNonEmpty(e.ResponseFormat, f.Defaults.ResponseFormat)),
		}
		if req.Temperature == nil {
			req.Temperature = f.Defaults.Temperature
		}
		if req.MaxTokens == 0 {
			req.MaxTokens = f.Defaults.MaxTokens
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
