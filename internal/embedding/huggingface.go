package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type huggingFaceBackend struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func newHuggingFaceBackend(cfg Config) (*huggingFaceBackend, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("huggingface embedding api key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &huggingFaceBackend{
		endpoint: strings.TrimRight(baseURL, "/") + "/pipeline/feature-extraction/" + model,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (b *huggingFaceBackend) name() string {
	return "huggingface:" + b.model
}

func (b *huggingFaceBackend) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"inputs":  texts,
		"options": map[string]any{"wait_for_model": true},
	}
	headers := map[string]string{"Authorization": "Bearer " + b.apiKey}
	status, body, err := postJSON(ctx, b.client, b.endpoint, headers, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, body)
	}

	var vectors [][]float32
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, fmt.Errorf("%w: decode huggingface response: %v", ErrMalformedResponse, err)
	}
	return vectors, nil
}
