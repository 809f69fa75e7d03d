package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ragsql/ragsql/internal/llm"
	"github.com/ragsql/ragsql/internal/observability"
	"github.com/ragsql/ragsql/internal/retrieval"
	"github.com/ragsql/ragsql/internal/schema"
	"github.com/ragsql/ragsql/internal/storage"
	"github.com/ragsql/ragsql/internal/target"
	"github.com/ragsql/ragsql/internal/vectorstore"
)

const (
	DefaultTopK    = 5
	DefaultMaxTopK = 15
)

var sourcePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]vectorstore.Match, error)
}

// Service runs ingestion and question answering over injected components.
// Executor, Introspector and Documents are optional; operations that need
// a missing one fail with a stage error. Build it with New.
type Service struct {
	Chunker      schema.Chunker
	Embedder     Embedder
	Store        vectorstore.Store
	Retriever    Retriever
	Generator    llm.Provider
	Executor     target.Executor
	Introspector target.Introspector
	Documents    storage.DocumentStore
	Logger       *slog.Logger
	Config       Config
}

type Config struct {
	TopK             int
	MaxTopK          int
	Metric           vectorstore.Metric
	MaxDocumentBytes int64
}

// New applies defaults to svc and checks the required components. The
// returned Service is safe for concurrent use when its components are.
func New(svc Service) (*Service, error) {
	if svc.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if svc.Store == nil {
		return nil, errors.New("vector store is required")
	}
	if svc.Generator == nil {
		return nil, errors.New("generator is required")
	}
	svc.ensureDefaults()
	return &svc, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.TopK <= 0 {
		s.Config.TopK = DefaultTopK
	}
	if s.Config.MaxTopK <= 0 {
		s.Config.MaxTopK = DefaultMaxTopK
	}
	if s.Config.TopK > s.Config.MaxTopK {
		s.Config.TopK = s.Config.MaxTopK
	}
	if s.Config.Metric == "" {
		s.Config.Metric = vectorstore.MetricCosine
	}
	if s.Config.MaxDocumentBytes <= 0 {
		s.Config.MaxDocumentBytes = storage.DefaultMaxDocumentBytes
	}
	if s.Chunker.Granularity == "" {
		s.Chunker = schema.Chunker{
			Granularity:        schema.GranularityTable,
			MaxColumnsPerChunk: schema.DefaultMaxColumnsPerChunk,
			MaxWordsPerChunk:   schema.DefaultMaxWordsPerChunk,
		}
	}
	if s.Retriever == nil && s.Embedder != nil && s.Store != nil {
		s.Retriever = retrieval.New(s.Embedder, s.Store, s.Config.Metric)
	}
}

// ResolveTopK applies the default for zero and clamps to MaxTopK.
func (s *Service) ResolveTopK(k int) (int, error) {
	switch {
	case k < 0:
		return 0, fmt.Errorf("%w: got %d", vectorstore.ErrInvalidK, k)
	case k == 0:
		return s.Config.TopK, nil
	case k > s.Config.MaxTopK:
		return s.Config.MaxTopK, nil
	default:
		return k, nil
	}
}

// Retrieve returns the schema context a question would be answered with.
func (s *Service) Retrieve(ctx context.Context, question string, k int) ([]vectorstore.Match, error) {
	k, err := s.ResolveTopK(k)
	if err != nil {
		return nil, stageErr(StageRetrieve, err)
	}
	start := time.Now()
	matches, err := s.Retriever.Retrieve(ctx, question, k)
	observability.ObserveStage(StageRetrieve, time.Since(start))
	if err != nil {
		return nil, stageErr(StageRetrieve, err)
	}
	return matches, nil
}

func (s *Service) Sources(ctx context.Context) ([]vectorstore.SourceSummary, error) {
	summaries, err := s.Store.Sources(ctx)
	if err != nil {
		return nil, stageErr(StageStore, err)
	}
	return summaries, nil
}

func (s *Service) Clear(ctx context.Context, source string) error {
	source, err := validateSource(source)
	if err != nil {
		return err
	}
	if err := s.Store.Clear(ctx, source); err != nil {
		return stageErr(StageStore, err)
	}
	observability.WithTrace(ctx, s.Logger).InfoContext(ctx, "schema source cleared", slog.String("source", source))
	return nil
}

func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.Store.ClearAll(ctx); err != nil {
		return stageErr(StageStore, err)
	}
	observability.WithTrace(ctx, s.Logger).InfoContext(ctx, "all schema sources cleared")
	return nil
}

// ListDocuments lists schema documents available in the object store.
func (s *Service) ListDocuments(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if s.Documents == nil {
		return nil, stageErr(StageFetch, ErrDocumentsUnavailable)
	}
	objects, err := s.Documents.List(ctx, prefix)
	if err != nil {
		return nil, stageErr(StageFetch, err)
	}
	return objects, nil
}

func validateSource(source string) (string, error) {
	source = strings.TrimSpace(source)
	if !sourcePattern.MatchString(source) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return source, nil
}
