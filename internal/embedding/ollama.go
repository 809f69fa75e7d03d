package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type ollamaBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

func newOllamaBackend(cfg Config) (*ollamaBackend, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "all-minilm"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ollamaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (b *ollamaBackend) name() string {
	return "ollama:" + b.model
}

func (b *ollamaBackend) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"model":    b.model,
		"input":    texts,
		"truncate": false,
	}
	status, body, err := postJSON(ctx, b.client, b.baseURL+"/api/embed", nil, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, body)
	}

	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode ollama response: %v", ErrMalformedResponse, err)
	}
	return parsed.Embeddings, nil
}
