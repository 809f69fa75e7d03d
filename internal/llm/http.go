package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// postJSON sends payload and returns the body of a 2xx response. Every
// failure is a *GenerationError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, malformed(provider, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &GenerationError{Provider: provider, Kind: KindNetwork, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(provider, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(provider, resp.StatusCode, raw)
	}
	return raw, nil
}
