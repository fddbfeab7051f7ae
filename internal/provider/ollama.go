package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OllamaModel is one entry of an Ollama server's local model list.
type OllamaModel struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ListOllamaModels asks an Ollama server for its installed models.
func ListOllamaModels(ctx context.Context, client *http.Client, baseURL string) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		if Unavailable(err) {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("ollama /api/tags: %s", resp.Status)
	}
	var body struct {
		Models []OllamaModel `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ollama model list: %w", err)
	}
	return body.Models, nil
}
