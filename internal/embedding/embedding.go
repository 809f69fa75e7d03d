package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultDimensions = 384

var (
	ErrModelUnavailable  = errors.New("embedding model unavailable")
	ErrInputTooLong      = errors.New("embedding input exceeds model limit")
	ErrEmptyInput        = errors.New("embedding input is empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrMalformedResponse = errors.New("malformed embedding response")
)

// Error is returned for every embedding failure. Callers must not
// substitute a default vector when they receive one.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Provider maps text onto fixed-length, L2-normalised vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

type Config struct {
	Provider      string
	BaseURL       string
	Model         string
	APIKey        string
	Dimensions    int
	BatchSize     int
	Concurrency   int
	MaxInputWords int
	Timeout       time.Duration
}

// backend performs one remote batch call. Validation, batching and
// normalisation live in Client.
type backend interface {
	name() string
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Client struct {
	backend       backend
	dimensions    int
	batchSize     int
	concurrency   int
	maxInputWords int
}

func New(cfg Config) (*Client, error) {
	var b backend
	var err error
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "ollama":
		b, err = newOllamaBackend(cfg)
	case "huggingface", "hf":
		b, err = newHuggingFaceBackend(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return newClient(b, cfg), nil
}

func newClient(b backend, cfg Config) *Client {
	c := &Client{
		backend:       b,
		dimensions:    cfg.Dimensions,
		batchSize:     cfg.BatchSize,
		concurrency:   cfg.Concurrency,
		maxInputWords: cfg.MaxInputWords,
	}
	if c.dimensions <= 0 {
		c.dimensions = DefaultDimensions
	}
	if c.batchSize <= 0 {
		c.batchSize = 32
	}
	if c.concurrency <= 0 {
		c.concurrency = 1
	}
	return c
}

func (c *Client) Name() string {
	return c.backend.name()
}

func (c *Client) Dimensions() int {
	return c.dimensions
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany embeds texts in batches, running at most Concurrency batches at
// once. The result is index-aligned with texts.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if err := c.checkInput(text); err != nil {
			return nil, c.wrap(fmt.Errorf("text %d: %w", i, err))
		}
	}

	out := make([][]float32, len(texts))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		group.Go(func() error {
			vectors, err := c.embed(groupCtx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if err := c.checkInput(text); err != nil {
			return nil, c.wrap(err)
		}
	}
	vectors, err := c.backend.embedBatch(ctx, texts)
	if err != nil {
		return nil, c.wrap(err)
	}
	if len(vectors) != len(texts) {
		return nil, c.wrap(fmt.Errorf("%w: got %d vectors for %d inputs", ErrMalformedResponse, len(vectors), len(texts)))
	}
	for i, vector := range vectors {
		if len(vector) != c.dimensions {
			return nil, c.wrap(fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), c.dimensions))
		}
		normalized, ok := Normalize(vector)
		if !ok {
			return nil, c.wrap(fmt.Errorf("%w: zero or non-finite vector", ErrMalformedResponse))
		}
		vectors[i] = normalized
	}
	return vectors, nil
}

func (c *Client) checkInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	if c.maxInputWords > 0 {
		if words := len(strings.Fields(text)); words > c.maxInputWords {
			return fmt.Errorf("%w: %d words, limit %d", ErrInputTooLong, words, c.maxInputWords)
		}
	}
	return nil
}

func (c *Client) wrap(err error) error {
	var embedErr *Error
	if errors.As(err, &embedErr) {
		return err
	}
	return &Error{Provider: c.backend.name(), Err: err}
}

// Normalize returns vector scaled to unit length. It reports false for a
// zero or non-finite vector.
func Normalize(vector []float32) ([]float32, bool) {
	var sum float64
	for _, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(float64(v) / norm)
	}
	return out, true
}
