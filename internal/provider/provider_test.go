package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/vorkdev/vork/internal/config"
)

func TestNewChatModel_LlamaCpp(t *testing.T) {
	cfg := config.DefaultConfig()
	m, err := NewChatModel(context.Background(), cfg, Target{BaseURL: "http://127.0.0.1:8080/", Model: "qwen"})
	if err != nil {
		t.Fatalf("NewChatModel: %v", err)
	}
	if m == nil {
		t.Fatal("expected chat model")
	}
}

func TestNewChatModel_LlamaCppNeedsURL(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := NewChatModel(context.Background(), cfg, Target{Model: "qwen"}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestNewChatModel_Ollama(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Backend = config.BackendOllama

	if _, err := NewChatModel(context.Background(), cfg, Target{}); err == nil {
		t.Fatal("expected error without model name")
	} else {
		var cfgErr *config.Error
		if !errors.As(err, &cfgErr) || cfgErr.Field != "server.model" {
			t.Fatalf("expected config error on server.model, got %v", err)
		}
	}

	m, err := NewChatModel(context.Background(), cfg, Target{Model: "qwen2.5-coder"})
	if err != nil {
		t.Fatalf("NewChatModel: %v", err)
	}
	if m == nil {
		t.Fatal("expected chat model")
	}
}

func TestNewChatModel_UnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Backend = "vllm"
	if _, err := NewChatModel(context.Background(), cfg, Target{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: fmt.Errorf("chat: %w", ErrBackendUnavailable), want: true},
		{name: "refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, want: true},
		{name: "message", err: errors.New("Post \"http://127.0.0.1:8080/v1/chat/completions\": dial tcp: connection refused"), want: true},
		{name: "bad request", err: errors.New("error, status code: 400, message: invalid tool schema"), want: false},
	}
	for _, tt := range tests {
		if got := Unavailable(tt.err); got != tt.want {
			t.Fatalf("%s: Unavailable()=%v want %v", tt.name, got, tt.want)
		}
	}
}
