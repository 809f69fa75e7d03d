package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HuggingFace calls the hosted text-generation inference API.
type HuggingFace struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewHuggingFace(cfg Config) (*HuggingFace, error) {
	apiKey := strings.TrimSpace(cfg.HuggingFace.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("huggingface api key is required")
	}
	baseURL := strings.TrimSpace(cfg.HuggingFace.BaseURL)
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co"
	}
	model := strings.TrimSpace(cfg.HuggingFace.Model)
	if model == "" {
		model = "google/gemma-2-2b-it"
	}
	return &HuggingFace{
		endpoint:    strings.TrimRight(baseURL, "/") + "/models/" + model,
		apiKey:      apiKey,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokensOrDefault(cfg.MaxTokens),
		client:      &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}, nil
}

func (h *HuggingFace) Name() string {
	return ProviderHuggingFace
}

func (h *HuggingFace) Generate(ctx context.Context, prompt string) (Result, error) {
	payload := map[string]any{
		"inputs": prompt,
		"parameters": map[string]any{
			"temperature":      h.temperature,
			"max_new_tokens":   h.maxTokens,
			"return_full_text": false,
		},
		"options": map[string]any{"wait_for_model": true},
	}
	headers := map[string]string{"Authorization": "Bearer " + h.apiKey}
	raw, err := postJSON(ctx, h.client, ProviderHuggingFace, h.endpoint, headers, payload)
	if err != nil {
		return Result{}, err
	}

	text, err := decodeGeneratedText(raw)
	if err != nil {
		return Result{}, malformed(ProviderHuggingFace, err)
	}
	return Result{Text: text, Provider: ProviderHuggingFace, Model: h.model}, nil
}

type generatedText struct {
	GeneratedText string `json:"generated_text"`
	SummaryText   string `json:"summary_text"`
}

// decodeGeneratedText accepts either a list of generations or a single
// object, as the inference API returns both depending on the model.
func decodeGeneratedText(raw []byte) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	var candidates []generatedText
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &candidates); err != nil {
			return "", fmt.Errorf("decode generation list: %w", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var single generatedText
		if err := json.Unmarshal(raw, &single); err != nil {
			return "", fmt.Errorf("decode generation object: %w", err)
		}
		candidates = append(candidates, single)
	default:
		return "", fmt.Errorf("unexpected generation payload")
	}
	for _, candidate := range candidates {
		if text := strings.TrimSpace(candidate.GeneratedText); text != "" {
			return candidate.GeneratedText, nil
		}
		if text := strings.TrimSpace(candidate.SummaryText); text != "" {
			return candidate.SummaryText, nil
		}
	}
	return "", fmt.Errorf("model returned empty text")
}
