package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ragsql/ragsql/internal/vectorstore"
)

var ErrEmptyQuestion = errors.New("question is required")

// Embedder is the slice of embedding.Provider the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, query []float32, k int, metric vectorstore.Metric) ([]vectorstore.Match, error)
}

type Retriever struct {
	embedder Embedder
	store    Searcher
	metric   vectorstore.Metric
}

func New(embedder Embedder, store Searcher, metric vectorstore.Metric) *Retriever {
	if metric == "" {
		metric = vectorstore.MetricCosine
	}
	return &Retriever{embedder: embedder, store: store, metric: metric}
}

func (r *Retriever) Metric() vectorstore.Metric {
	return r.metric
}

// Retrieve embeds question and returns the k most similar chunks. An empty
// store yields an empty, non-nil result.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]vectorstore.Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", vectorstore.ErrInvalidK, k)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	query, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	matches, err := r.store.Search(ctx, query, k, r.metric)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if matches == nil {
		matches = []vectorstore.Match{}
	}
	return matches, nil
}
