package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Ollama talks to a local Ollama server through /api/generate.
type Ollama struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewOllama(cfg Config) (*Ollama, error) {
	baseURL := strings.TrimSpace(cfg.Ollama.BaseURL)
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := strings.TrimSpace(cfg.Ollama.Model)
	if model == "" {
		model = "sqlcoder"
	}
	return &Ollama{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokensOrDefault(cfg.MaxTokens),
		client:      &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}, nil
}

func (o *Ollama) Name() string {
	return ProviderOllama
}

func (o *Ollama) Generate(ctx context.Context, prompt string) (Result, error) {
	payload := map[string]any{
		"model":  o.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": o.temperature,
			"num_predict": o.maxTokens,
		},
	}
	raw, err := postJSON(ctx, o.client, ProviderOllama, o.baseURL+"/api/generate", nil, payload)
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, malformed(ProviderOllama, fmt.Errorf("decode generate response: %w", err))
	}
	if parsed.Error != "" {
		return Result{}, malformed(ProviderOllama, fmt.Errorf("ollama error: %s", parsed.Error))
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return Result{}, malformed(ProviderOllama, fmt.Errorf("model returned empty text"))
	}
	return Result{Text: parsed.Response, Provider: ProviderOllama, Model: o.model}, nil
}
