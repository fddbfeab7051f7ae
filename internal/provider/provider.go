package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/vorkdev/vork/internal/config"
)

// llama-server accepts any key but the OpenAI client insists on one.
const localAPIKey = "sk-no-key-required"

// ErrBackendUnavailable means the inference backend could not be reached.
var ErrBackendUnavailable = errors.New("inference backend unavailable")

// Target is the endpoint a chat model talks to.
type Target struct {
	// BaseURL is the server root without the /v1 suffix.
	BaseURL string
	Model   string
}

// NewChatModel creates the chat client for the configured backend.
func NewChatModel(ctx context.Context, cfg *config.Config, target Target) (model.ChatModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	a := cfg.Assistant
	switch cfg.Server.Backend {
	case config.BackendOllama:
		base := strings.TrimRight(target.BaseURL, "/")
		if base == "" {
			base = strings.TrimRight(cfg.Server.OllamaURL, "/")
		}
		if target.Model == "" {
			return nil, &config.Error{Field: "server.model", Msg: "is required for the ollama backend"}
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: base,
			Model:   target.Model,
		})
	case "", config.BackendLlamaCpp:
		base := strings.TrimRight(target.BaseURL, "/")
		if base == "" {
			return nil, fmt.Errorf("llama-server base url is empty")
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:       target.Model,
			APIKey:      localAPIKey,
			BaseURL:     base + "/v1",
			Temperature: toFloat32Ptr(a.Temperature),
			MaxTokens:   toIntPtr(a.MaxTokens),
		})
	default:
		return nil, &config.Error{Field: "server.backend", Msg: fmt.Sprintf("unknown backend %q", cfg.Server.Backend)}
	}
}

// Unavailable reports whether err means the backend is down rather than
// the request being bad.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBackendUnavailable) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && !urlErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	if i <= 0 {
		return nil
	}
	return &i
}
