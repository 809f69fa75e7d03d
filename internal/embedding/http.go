package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal embedding payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrModelUnavailable, ctxErr)
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response body: %v", ErrMalformedResponse, err)
	}
	return resp.StatusCode, raw, nil
}

// classifyStatus maps a non-200 provider response onto an embedding sentinel.
// Both ollama and the inference API answer over-long input with a 4xx whose
// body mentions the context or input length.
func classifyStatus(status int, body []byte) error {
	text := strings.TrimSpace(string(body))
	lower := strings.ToLower(text)
	if status >= 400 && status < 500 && status != http.StatusNotFound &&
		(strings.Contains(lower, "context length") || strings.Contains(lower, "input length") ||
			strings.Contains(lower, "too long") || strings.Contains(lower, "maximum sequence length")) {
		return fmt.Errorf("%w: status=%d body=%s", ErrInputTooLong, status, text)
	}
	return fmt.Errorf("%w: status=%d body=%s", ErrModelUnavailable, status, text)
}
