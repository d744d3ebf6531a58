package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量覆盖的默认前缀
const DefaultEnvPrefix = "AIGATE"

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 按 默认值 → YAML → 环境变量 的顺序组装配置，最后运行校验器。
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("aigate.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 使用 AIGATE 前缀、无配置文件
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// WithConfigPath 设置 YAML 文件路径。文件不存在时只用默认值与环境变量。
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 替换环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加校验器，按添加顺序执行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath 返回配置文件路径，可能为空
func (l *Loader) ConfigPath() string { return l.configPath }

// Load 组装一份新的配置。每次调用都从默认值重新开始。
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.overlayFile(cfg); err != nil {
		return nil, err
	}
	for _, b := range envBindings(reflect.ValueOf(cfg).Elem(), l.envPrefix) {
		raw, ok := os.LookupEnv(b.key)
		if !ok || raw == "" {
			continue
		}
		if err := decodeEnv(b.field, raw); err != nil {
			return nil, fmt.Errorf("env %s: %w", b.key, err)
		}
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

// EnvOverrides 列出当前环境中会覆盖配置的变量名，用于启动日志
func (l *Loader) EnvOverrides() []string {
	var keys []string
	for _, b := range envBindings(reflect.ValueOf(DefaultConfig()).Elem(), l.envPrefix) {
		if os.Getenv(b.key) != "" {
			keys = append(keys, b.key)
		}
	}
	return keys
}

func (l *Loader) overlayFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// ${VAR} 在解析前展开，密钥可以留在环境里
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", l.configPath, err)
	}
	return nil
}

// =============================================================================
// 🌱 环境变量绑定
// =============================================================================

// envBinding 一个可被环境变量覆盖的叶子字段
type envBinding struct {
	key   string
	field reflect.Value
}

// envBindings 按 env 标签展开字段，嵌套段以下划线连接：
// Server.HTTPPort → AIGATE_SERVER_HTTP_PORT。标签为 "-" 的字段只能写在文件里。
func envBindings(v reflect.Value, prefix string) []envBinding {
	var out []envBinding
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if f := v.Field(i); f.Kind() == reflect.Struct {
			out = append(out, envBindings(f, key)...)
		} else {
			out = append(out, envBinding{key: key, field: f})
		}
	}
	return out
}

// decodeEnv 写入一个环境变量值。字符串原样保留，字符串切片按逗号拆分，
// 其余标量（含 time.Duration）按 YAML 标量解码，与文件中的写法一致。
func decodeEnv(field reflect.Value, raw string) error {
	switch {
	case field.Kind() == reflect.String:
		field.SetString(raw)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		ptr := reflect.New(field.Type())
		if err := yaml.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
			return err
		}
		field.Set(ptr.Elem())
	}
	return nil
}
