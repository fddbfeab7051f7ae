package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Assistant.MaxToolIterations != 20 {
		t.Errorf("expected MaxToolIterations=20, got %d", cfg.Assistant.MaxToolIterations)
	}
	if cfg.Assistant.Temperature != 0.7 {
		t.Errorf("expected Temperature=0.7, got %f", cfg.Assistant.Temperature)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected 127.0.0.1:8080, got %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.KillGraceMs != 500 {
		t.Errorf("expected KillGraceMs=500, got %d", cfg.Server.KillGraceMs)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoad_CreatesDefaultFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("VORK_HOME", home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Backend != BackendLlamaCpp {
		t.Fatalf("expected llamacpp backend, got %q", cfg.Server.Backend)
	}
	if _, err := os.Stat(filepath.Join(home, "config.json")); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
}

func TestLoad_RoundTripsSavedValues(t *testing.T) {
	t.Setenv("VORK_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Assistant.ApprovalPolicy = "always-ask"
	cfg.Server.Port = 9191
	cfg.Server.ExtraArgs = []string{"--flash-attn"}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Assistant.ApprovalPolicy != "always-ask" {
		t.Fatalf("expected always-ask, got %q", loaded.Assistant.ApprovalPolicy)
	}
	if loaded.Server.Port != 9191 {
		t.Fatalf("expected port 9191, got %d", loaded.Server.Port)
	}
	if len(loaded.Server.ExtraArgs) != 1 || loaded.Server.ExtraArgs[0] != "--flash-attn" {
		t.Fatalf("unexpected extra args: %v", loaded.Server.ExtraArgs)
	}
}

func TestLoad_AcceptsCamelCaseKeys(t *testing.T) {
	home := t.TempDir()
	t.Setenv("VORK_HOME", home)

	raw := `{"assistant":{"approvalPolicy":"never","sandboxMode":"read-only"},"server":{"modelsDir":"/models","port":8081}}`
	if err := os.WriteFile(filepath.Join(home, "config.json"), []byte(raw), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Assistant.ApprovalPolicy != "never" || cfg.Assistant.SandboxMode != "read-only" {
		t.Fatalf("camelCase keys not applied: %+v", cfg.Assistant)
	}
	if cfg.Server.ModelsDir != "/models" || cfg.Server.Port != 8081 {
		t.Fatalf("camelCase server keys not applied: %+v", cfg.Server)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"policy", func(c *Config) { c.Assistant.ApprovalPolicy = "sometimes" }, "assistant.approval_policy"},
		{"sandbox", func(c *Config) { c.Assistant.SandboxMode = "yolo" }, "assistant.sandbox_mode"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"backend", func(c *Config) { c.Server.Backend = "vllm" }, "server.backend"},
		{"binary", func(c *Config) { c.Server.BinaryPath = " " }, "server.binary_path"},
		{"models", func(c *Config) { c.Server.ModelsDir = ""; c.Server.ModelPath = "" }, "server.models_dir"},
		{"threads", func(c *Config) { c.Server.Threads = 0 }, "server.threads"},
		{"session", func(c *Config) { c.Session.Backend = "redis" }, "session.backend"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"temperature", func(c *Config) { c.Assistant.Temperature = 3 }, "assistant.temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(cfg)
			err := cfg.Validate()
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *config.Error, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestValidate_OllamaSkipsLlamaChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Backend = "OLLAMA"
	cfg.Server.BinaryPath = ""
	cfg.Server.ModelsDir = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Backend != BackendOllama {
		t.Fatalf("backend should be normalized, got %q", cfg.Server.Backend)
	}
}

func TestWorkspacePath(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Assistant.Workspace = dir

	got, err := cfg.WorkspacePath()
	if err != nil {
		t.Fatalf("WorkspacePath: %v", err)
	}
	if got != dir {
		t.Fatalf("expected %q, got %q", dir, got)
	}

	cfg.Assistant.Workspace = filepath.Join(dir, "missing")
	if _, err := cfg.WorkspacePath(); err == nil {
		t.Fatal("expected error for missing workspace")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandHome("~/models")
	if err != nil {
		t.Fatalf("ExpandHome: %v", err)
	}
	if got != filepath.Join(home, "models") {
		t.Fatalf("unexpected expansion: %s", got)
	}
	if got, _ := ExpandHome("/abs"); got != "/abs" {
		t.Fatalf("absolute path changed: %s", got)
	}
}
