package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ragsql/ragsql/internal/prompt"
)

// Groq uses the OpenAI-compatible chat completions API.
type Groq struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewGroq(cfg Config) (*Groq, error) {
	apiKey := strings.TrimSpace(cfg.Groq.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("groq api key is required")
	}
	baseURL := strings.TrimSpace(cfg.Groq.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	model := strings.TrimSpace(cfg.Groq.Model)
	if model == "" {
		model = "llama-3.1-8b-instant"
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)}

	return &Groq{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokensOrDefault(cfg.MaxTokens),
	}, nil
}

func (g *Groq) Name() string {
	return ProviderGroq
}

func (g *Groq) Generate(ctx context.Context, userPrompt string) (Result, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.SystemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return Result{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, malformed(ProviderGroq, fmt.Errorf("empty chat completion choices"))
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Result{}, malformed(ProviderGroq, fmt.Errorf("model returned empty text"))
	}
	model := resp.Model
	if model == "" {
		model = g.model
	}
	return Result{Text: text, Provider: ProviderGroq, Model: model}, nil
}

func classifyOpenAIError(err error) *GenerationError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &GenerationError{Provider: ProviderGroq, Kind: kindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &GenerationError{Provider: ProviderGroq, Kind: kindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	generation := transportError(ProviderGroq, err)
	var netErr net.Error
	if generation.Kind == KindNetwork && !errors.As(err, &netErr) && !errors.Is(err, context.Canceled) {
		// Neither an API error nor a transport failure: the body did not decode.
		generation.Kind = KindMalformed
	}
	return generation
}
