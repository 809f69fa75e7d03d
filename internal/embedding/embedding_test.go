package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newOllamaServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req struct {
			Model    string   `json:"model"`
			Input    []string `json:"input"`
			Truncate *bool    `json:"truncate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Truncate == nil || *req.Truncate {
			t.Errorf("truncate = %v, want false", req.Truncate)
		}
		vectors := make([][]float32, 0, len(req.Input))
		for _, text := range req.Input {
			vectors = append(vectors, []float32{float32(len(text)), 1, 0, 2})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestEmbedNormalizesVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings": [[3, 4, 0, 0]]}`))
	}))
	defer server.Close()

	client, err := New(Config{Provider: "ollama", BaseURL: server.URL, Dimensions: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	vector, err := client.Embed(context.Background(), "users email")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	want := []float32{0.6, 0.8, 0, 0}
	for i := range want {
		if math.Abs(float64(vector[i]-want[i])) > 1e-6 {
			t.Fatalf("Embed() = %v, want %v", vector, want)
		}
	}
	if client.Name() != "ollama:all-minilm" || client.Dimensions() != 4 {
		t.Fatalf("Name() = %q Dimensions() = %d", client.Name(), client.Dimensions())
	}
}

func TestEmbedManyMatchesEmbedAndKeepsOrder(t *testing.T) {
	var calls atomic.Int32
	server := newOllamaServer(t, &calls)
	client, err := New(Config{BaseURL: server.URL, Dimensions: 4, BatchSize: 2, Concurrency: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	batch, err := client.EmbedMany(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedMany() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("batch requests = %d, want 3", got)
	}
	for i, text := range texts {
		single, err := client.Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("Embed(%q) error = %v", text, err)
		}
		for j := range single {
			if single[j] != batch[i][j] {
				t.Fatalf("EmbedMany()[%d] = %v, Embed() = %v", i, batch[i], single)
			}
		}
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	var calls atomic.Int32
	server := newOllamaServer(t, &calls)
	client, err := New(Config{BaseURL: server.URL, Dimensions: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first, err := client.Embed(context.Background(), "orders total")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	second, err := client.Embed(context.Background(), "orders total")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("Embed() drifted: %v vs %v", first, second)
		}
	}
}

func TestEmbedRejectsInvalidInputBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	server := newOllamaServer(t, &calls)
	client, err := New(Config{BaseURL: server.URL, Dimensions: 4, MaxInputWords: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = client.Embed(context.Background(), "one two three four")
	if !errors.Is(err, ErrInputTooLong) {
		t.Fatalf("Embed() error = %v, want ErrInputTooLong", err)
	}
	var embedErr *Error
	if !errors.As(err, &embedErr) || embedErr.Provider != "ollama:all-minilm" {
		t.Fatalf("Embed() error = %#v, want *Error", err)
	}

	_, err = client.EmbedMany(context.Background(), []string{"ok", "   "})
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("EmbedMany() error = %v, want ErrEmptyInput", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("network calls = %d, want 0", calls.Load())
	}
}

func TestEmbedResponseFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "model missing", status: http.StatusNotFound, body: `{"error":"model \"all-minilm\" not found"}`, want: ErrModelUnavailable},
		{name: "too long", status: http.StatusBadRequest, body: `{"error":"input length exceeds the context length"}`, want: ErrInputTooLong},
		{name: "server", status: http.StatusInternalServerError, body: `boom`, want: ErrModelUnavailable},
		{name: "dimensions", status: http.StatusOK, body: `{"embeddings": [[1, 2, 3]]}`, want: ErrDimensionMismatch},
		{name: "zero vector", status: http.StatusOK, body: `{"embeddings": [[0, 0, 0, 0]]}`, want: ErrMalformedResponse},
		{name: "missing vectors", status: http.StatusOK, body: `{"embeddings": []}`, want: ErrMalformedResponse},
		{name: "not json", status: http.StatusOK, body: `<html>`, want: ErrMalformedResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := New(Config{BaseURL: server.URL, Dimensions: 4})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if _, err := client.Embed(context.Background(), "users"); !errors.Is(err, tc.want) {
				t.Fatalf("Embed() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEmbedServerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := New(Config{BaseURL: url, Dimensions: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := client.Embed(context.Background(), "users"); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Embed() error = %v, want ErrModelUnavailable", err)
	}
}

func TestHuggingFaceEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hf-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Inputs []string `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if strings.Join(req.Inputs, "|") != "a|b" {
			t.Errorf("inputs = %v", req.Inputs)
		}
		_, _ = w.Write([]byte(`[[1, 0, 0, 0], [0, 2, 0, 0]]`))
	}))
	defer server.Close()

	client, err := New(Config{Provider: "huggingface", BaseURL: server.URL, APIKey: "hf-key", Dimensions: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	vectors, err := client.EmbedMany(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedMany() error = %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("EmbedMany() = %v", vectors)
	}
}

func TestNewValidatesProvider(t *testing.T) {
	if _, err := New(Config{Provider: "sentence-transformers"}); err == nil {
		t.Fatal("New() expected error for unknown provider")
	}
	if _, err := New(Config{Provider: "hf"}); err == nil {
		t.Fatal("New() expected error for missing api key")
	}
}

func TestNormalize(t *testing.T) {
	if _, ok := Normalize([]float32{0, 0}); ok {
		t.Fatal("Normalize() accepted zero vector")
	}
	if _, ok := Normalize([]float32{float32(math.NaN()), 1}); ok {
		t.Fatal("Normalize() accepted NaN")
	}
	got, ok := Normalize([]float32{0, 5})
	if !ok || got[1] != 1 {
		t.Fatalf("Normalize() = %v, %v", got, ok)
	}
}
