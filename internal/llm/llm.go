package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderOllama      = "ollama"
	ProviderGroq        = "groq"
	ProviderHuggingFace = "huggingface"
)

type Result struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Provider sends a prompt to a language model and returns its raw text.
type Provider interface {
	Generate(ctx context.Context, prompt string) (Result, error)
	Name() string
}

type Kind string

const (
	KindNetwork   Kind = "network"
	KindTimeout   Kind = "timeout"
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindServer    Kind = "server"
	KindMalformed Kind = "malformed"
)

// GenerationError carries the provider and the failure kind of a generate
// call. StatusCode is zero when no HTTP response was received.
type GenerationError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("generation provider %s failed (%s, status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation provider %s failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Transient reports whether a retry may succeed.
func (e *GenerationError) Transient() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

type Endpoint struct {
	BaseURL string
	APIKey  string
	Model   string
}

type Config struct {
	Provider    string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Ollama      Endpoint
	Groq        Endpoint
	HuggingFace Endpoint
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOllama:
		return NewOllama(cfg)
	case ProviderGroq:
		return NewGroq(cfg)
	case ProviderHuggingFace, "hf":
		return NewHuggingFace(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 120 * time.Second
	}
	return timeout
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return 512
	}
	return maxTokens
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	default:
		return KindMalformed
	}
}

// transportError classifies a failure that happened before a response was
// read.
func transportError(provider string, err error) *GenerationError {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &GenerationError{Provider: provider, Kind: kind, Err: err}
}

func statusError(provider string, status int, body []byte) *GenerationError {
	return &GenerationError{
		Provider:   provider,
		Kind:       kindForStatus(status),
		StatusCode: status,
		Err:        fmt.Errorf("status=%d body=%s", status, strings.TrimSpace(string(body))),
	}
}

func malformed(provider string, err error) *GenerationError {
	return &GenerationError{Provider: provider, Kind: KindMalformed, Err: err}
}
