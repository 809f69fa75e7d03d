package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const Dimensions = 384

var (
	ErrInvalidK          = errors.New("k must be positive")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidChunk      = errors.New("invalid chunk")
	ErrUnsupportedMetric = errors.New("unsupported similarity metric")
)

type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

func ParseMetric(raw string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(raw))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricEuclidean, "l2":
		return MetricEuclidean, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetric, raw)
	}
}

// Chunk is a persisted unit of schema text with its embedding. Chunks are
// replaced, never mutated.
type Chunk struct {
	ID          string            `json:"id"`
	Source      string            `json:"source"`
	SourceTable string            `json:"source_table"`
	Key         string            `json:"chunk_key"`
	Kind        string            `json:"kind"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Embedding   []float32         `json:"-"`
}

type Match struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Store owns persisted chunks. Writes are atomic per call.
type Store interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	ReplaceSource(ctx context.Context, source string, chunks []Chunk) error
	Clear(ctx context.Context, source string) error
	ClearAll(ctx context.Context) error
	Search(ctx context.Context, query []float32, k int, metric Metric) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Sources(ctx context.Context) ([]SourceSummary, error)
}

// SourceSummary describes one ingested schema source.
type SourceSummary struct {
	Source    string    `json:"source"`
	Tables    int       `json:"tables"`
	Chunks    int       `json:"chunks"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Error reports a storage-level failure such as a lost connection.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ValidateChunks checks ids, keys and embedding length before any write.
// When source is non-empty every chunk must belong to it.
func ValidateChunks(source string, chunks []Chunk) error {
	seen := make(map[string]struct{}, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk.ID) == "" {
			return fmt.Errorf("%w: chunk %d has no id", ErrInvalidChunk, i)
		}
		if strings.TrimSpace(chunk.Source) == "" || strings.TrimSpace(chunk.SourceTable) == "" || strings.TrimSpace(chunk.Key) == "" {
			return fmt.Errorf("%w: chunk %s needs source, source_table and key", ErrInvalidChunk, chunk.ID)
		}
		if source != "" && chunk.Source != source {
			return fmt.Errorf("%w: chunk %s belongs to source %q, not %q", ErrInvalidChunk, chunk.ID, chunk.Source, source)
		}
		if len(chunk.Embedding) != Dimensions {
			return fmt.Errorf("%w: chunk %s has %d dimensions, want %d", ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), Dimensions)
		}
		logical := chunk.Source + "\x00" + chunk.SourceTable + "\x00" + chunk.Key
		if _, dup := seen[logical]; dup {
			return fmt.Errorf("%w: duplicate key %s/%s/%s in batch", ErrInvalidChunk, chunk.Source, chunk.SourceTable, chunk.Key)
		}
		seen[logical] = struct{}{}
	}
	return nil
}

func ValidateQuery(query []float32, k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if len(query) != Dimensions {
		return fmt.Errorf("%w: query has %d dimensions, want %d", ErrDimensionMismatch, len(query), Dimensions)
	}
	return nil
}
