package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/vorkdev/vork/internal/policy"
)

// Config root configuration
type Config struct {
	Assistant AssistantConfig `mapstructure:"assistant"`
	Server    ServerConfig    `mapstructure:"server"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Session   SessionConfig   `mapstructure:"session"`
	Log       LogConfig       `mapstructure:"log"`
}

// AssistantConfig conversation and gatekeeping settings
type AssistantConfig struct {
	ApprovalPolicy    string  `mapstructure:"approval_policy"`
	SandboxMode       string  `mapstructure:"sandbox_mode"`
	Workspace         string  `mapstructure:"workspace"`
	OperatorTimeout   int     `mapstructure:"operator_timeout"` // seconds
	MaxToolIterations int     `mapstructure:"max_tool_iterations"`
	ContextLimit      int     `mapstructure:"context_limit"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
}

// ServerConfig inference server settings
type ServerConfig struct {
	Backend        string   `mapstructure:"backend"`
	BinaryPath     string   `mapstructure:"binary_path"`
	ModelsDir      string   `mapstructure:"models_dir"`
	ModelPath      string   `mapstructure:"model_path"`
	Model          string   `mapstructure:"model"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ContextSize    int      `mapstructure:"context_size"`
	GPULayers      int      `mapstructure:"gpu_layers"`
	Threads        int      `mapstructure:"threads"`
	BatchSize      int      `mapstructure:"batch_size"`
	ExtraArgs      []string `mapstructure:"extra_args"`
	HealthTimeout  int      `mapstructure:"health_timeout"`  // seconds
	HealthInterval int      `mapstructure:"health_interval"` // seconds
	KillGraceMs    int      `mapstructure:"kill_grace_ms"`
	KeepRunning    bool     `mapstructure:"keep_running"`
	OllamaURL      string   `mapstructure:"ollama_url"`
}

// ToolsConfig tool adapter limits
type ToolsConfig struct {
	ExecTimeout    int `mapstructure:"exec_timeout"`   // seconds
	SearchTimeout  int `mapstructure:"search_timeout"` // seconds
	MaxOutputBytes int `mapstructure:"max_output_bytes"`
}

// PolicyConfig classifier inputs
type PolicyConfig struct {
	RulesFile      string   `mapstructure:"rules_file"`
	SensitivePaths []string `mapstructure:"sensitive_paths"`
}

// SessionConfig session store settings
type SessionConfig struct {
	Backend string `mapstructure:"backend"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

const (
	BackendLlamaCpp = "llamacpp"
	BackendOllama   = "ollama"

	SessionJSONL  = "jsonl"
	SessionSQLite = "sqlite"
)

// Error reports missing or invalid settings. It is always fatal and is
// raised before any server launch attempt.
type Error struct {
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		if e.Err != nil {
			return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
		}
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s %s", e.Field, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return &Config{
		Assistant: AssistantConfig{
			ApprovalPolicy:    string(policy.PolicyAuto),
			SandboxMode:       string(policy.SandboxWorkspaceWrite),
			Workspace:         "",
			OperatorTimeout:   120,
			MaxToolIterations: 20,
			ContextLimit:      32768,
			Temperature:       0.7,
			MaxTokens:         4096,
		},
		Server: ServerConfig{
			Backend:        BackendLlamaCpp,
			BinaryPath:     "llama-server",
			ModelsDir:      filepath.Join(homeDir, "models"),
			Host:           "127.0.0.1",
			Port:           8080,
			ContextSize:    32768,
			GPULayers:      99,
			Threads:        8,
			BatchSize:      512,
			ExtraArgs:      []string{"--jinja"},
			HealthTimeout:  30,
			HealthInterval: 1,
			KillGraceMs:    500,
			OllamaURL:      "http://localhost:11434",
		},
		Tools: ToolsConfig{
			ExecTimeout:    60,
			SearchTimeout:  30,
			MaxOutputBytes: 32 * 1024,
		},
		Policy: PolicyConfig{
			SensitivePaths: []string{"**/.git/**", "**/.env", "**/.env.*", "**/*.pem", "**/id_rsa*"},
		},
		Session: SessionConfig{
			Backend: SessionJSONL,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the vork config directory
func ConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv("VORK_HOME")); dir != "" {
		return dir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".vork")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// StateDir holds the approval ledger, audit log and tool metrics.
func StateDir() string {
	return filepath.Join(ConfigDir(), "state")
}

// SessionsDir holds persisted conversations.
func SessionsDir() string {
	return filepath.Join(ConfigDir(), "sessions")
}

// Load loads config from file or returns defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := Save(cfg); err != nil {
			return cfg, &Error{Msg: "failed to create default config", Err: err}
		}
		return cfg, cfg.Validate()
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("VORK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, &Error{Msg: "read " + configPath, Err: err}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, &Error{Msg: "decode " + configPath, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Marshal renders cfg in the on-disk JSON layout.
func Marshal(cfg *Config) ([]byte, error) {
	return json.MarshalIndent(toFile(cfg), "", "  ")
}

// Validate checks enum values and ranges and fills zero values with defaults.
func (c *Config) Validate() error {
	a := &c.Assistant

	if _, err := policy.ParseApprovalPolicy(a.ApprovalPolicy); err != nil {
		return invalid("assistant.approval_policy", "%v", err)
	}
	if _, err := policy.ParseSandboxMode(a.SandboxMode); err != nil {
		return invalid("assistant.sandbox_mode", "%v", err)
	}
	if a.OperatorTimeout < 0 {
		return invalid("assistant.operator_timeout", "must not be negative, got %d", a.OperatorTimeout)
	}
	if a.OperatorTimeout == 0 {
		a.OperatorTimeout = 120
	}
	if a.MaxToolIterations < 0 {
		return invalid("assistant.max_tool_iterations", "must not be negative, got %d", a.MaxToolIterations)
	}
	if a.MaxToolIterations == 0 {
		a.MaxToolIterations = 20
	}
	if a.ContextLimit <= 0 {
		a.ContextLimit = 32768
	}
	if a.Temperature < 0 || a.Temperature > 2.0 {
		return invalid("assistant.temperature", "must be between 0 and 2.0, got %f", a.Temperature)
	}

	s := &c.Server
	backend := strings.ToLower(strings.TrimSpace(s.Backend))
	switch backend {
	case "", BackendLlamaCpp:
		s.Backend = BackendLlamaCpp
	case BackendOllama:
		s.Backend = BackendOllama
		if strings.TrimSpace(s.OllamaURL) == "" {
			return invalid("server.ollama_url", "is required when server.backend is %q", BackendOllama)
		}
	default:
		return invalid("server.backend", "must be one of %s, %s; got %q", BackendLlamaCpp, BackendOllama, s.Backend)
	}
	if s.Backend == BackendLlamaCpp {
		if strings.TrimSpace(s.BinaryPath) == "" {
			return invalid("server.binary_path", "is required")
		}
		if strings.TrimSpace(s.ModelPath) == "" && strings.TrimSpace(s.ModelsDir) == "" {
			return invalid("server.models_dir", "or server.model_path is required")
		}
	}
	if s.Port <= 0 || s.Port > 65535 {
		return invalid("server.port", "must be between 1 and 65535, got %d", s.Port)
	}
	if strings.TrimSpace(s.Host) == "" {
		s.Host = "127.0.0.1"
	}
	for field, v := range map[string]int{
		"server.context_size": s.ContextSize,
		"server.threads":      s.Threads,
		"server.batch_size":   s.BatchSize,
	} {
		if v <= 0 {
			return invalid(field, "must be > 0, got %d", v)
		}
	}
	if s.GPULayers < 0 {
		return invalid("server.gpu_layers", "must not be negative, got %d", s.GPULayers)
	}
	if s.HealthTimeout <= 0 {
		s.HealthTimeout = 30
	}
	if s.HealthInterval <= 0 {
		s.HealthInterval = 1
	}
	if s.KillGraceMs < 0 {
		return invalid("server.kill_grace_ms", "must not be negative, got %d", s.KillGraceMs)
	}

	t := &c.Tools
	if t.ExecTimeout <= 0 {
		t.ExecTimeout = 60
	}
	if t.SearchTimeout <= 0 {
		t.SearchTimeout = 30
	}
	if t.MaxOutputBytes <= 0 {
		t.MaxOutputBytes = 32 * 1024
	}

	switch strings.ToLower(strings.TrimSpace(c.Session.Backend)) {
	case "", SessionJSONL:
		c.Session.Backend = SessionJSONL
	case SessionSQLite:
		c.Session.Backend = SessionSQLite
	default:
		return invalid("session.backend", "must be one of %s, %s; got %q", SessionJSONL, SessionSQLite, c.Session.Backend)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return invalid("log.level", "must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}

// ApprovalPolicy returns the parsed approval policy. Call after Validate.
func (c *Config) ApprovalPolicy() policy.ApprovalPolicy {
	p, _ := policy.ParseApprovalPolicy(c.Assistant.ApprovalPolicy)
	return p
}

// SandboxMode returns the parsed sandbox mode. Call after Validate.
func (c *Config) SandboxMode() policy.SandboxMode {
	m, _ := policy.ParseSandboxMode(c.Assistant.SandboxMode)
	return m
}

// WorkspacePath returns the absolute workspace root. An empty setting means
// the current working directory.
func (c *Config) WorkspacePath() (string, error) {
	ws := strings.TrimSpace(c.Assistant.Workspace)
	if ws == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", &Error{Msg: "resolve cwd", Err: err}
		}
		return wd, nil
	}
	ws, err := ExpandHome(ws)
	if err != nil {
		return "", &Error{Field: "assistant.workspace", Msg: "cannot be expanded", Err: err}
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return "", &Error{Field: "assistant.workspace", Msg: "cannot be resolved", Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &Error{Field: "assistant.workspace", Msg: "does not exist", Err: err}
	}
	if !info.IsDir() {
		return "", invalid("assistant.workspace", "is not a directory: %s", abs)
	}
	return abs, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	rest := path[1:]
	rest = strings.TrimPrefix(rest, string(filepath.Separator))
	rest = strings.TrimPrefix(rest, "/")
	return filepath.Join(homeDir, rest), nil
}

// fileConfig mirrors Config with json tags so Save writes the same keys Load reads.
type fileConfig struct {
	Assistant map[string]any `json:"assistant"`
	Server    map[string]any `json:"server"`
	Tools     map[string]any `json:"tools"`
	Policy    map[string]any `json:"policy"`
	Session   map[string]any `json:"session"`
	Log       map[string]any `json:"log"`
}

func toFile(cfg *Config) fileConfig {
	return fileConfig{
		Assistant: structToMap(cfg.Assistant),
		Server:    structToMap(cfg.Server),
		Tools:     structToMap(cfg.Tools),
		Policy:    structToMap(cfg.Policy),
		Session:   structToMap(cfg.Session),
		Log:       structToMap(cfg.Log),
	}
}

func structToMap(v any) map[string]any {
	out := map[string]any{}
	_ = mapstructure.Decode(v, &out)
	return out
}
