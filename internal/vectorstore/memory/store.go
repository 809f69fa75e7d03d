package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ragsql/ragsql/internal/vectorstore"
)

// Store is an in-process brute-force vector store.
type Store struct {
	mu      sync.RWMutex
	sources map[string][]vectorstore.Chunk
	updated map[string]time.Time
	now     func() time.Time
}

func New() *Store {
	return &Store{
		sources: make(map[string][]vectorstore.Chunk),
		updated: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *Store) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	if err := ctx.Err(); err != nil {
		return &vectorstore.Error{Op: "upsert", Err: err}
	}
	if err := vectorstore.ValidateChunks("", chunks); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		existing := s.sources[chunk.Source]
		replaced := false
		for i := range existing {
			if existing[i].SourceTable == chunk.SourceTable && existing[i].Key == chunk.Key {
				existing[i] = cloneChunk(chunk)
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, cloneChunk(chunk))
		}
		s.sources[chunk.Source] = existing
		s.updated[chunk.Source] = s.now().UTC()
	}
	return nil
}

// ReplaceSource swaps the whole chunk set of source under the write lock, so
// readers observe either the old set or the new one.
func (s *Store) ReplaceSource(ctx context.Context, source string, chunks []vectorstore.Chunk) error {
	if err := ctx.Err(); err != nil {
		return &vectorstore.Error{Op: "replace source", Err: err}
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return fmt.Errorf("%w: source is required", vectorstore.ErrInvalidChunk)
	}
	if err := vectorstore.ValidateChunks(source, chunks); err != nil {
		return err
	}
	next := make([]vectorstore.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		next = append(next, cloneChunk(chunk))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(next) == 0 {
		delete(s.sources, source)
		delete(s.updated, source)
		return nil
	}
	s.sources[source] = next
	s.updated[source] = s.now().UTC()
	return nil
}

func (s *Store) Clear(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return &vectorstore.Error{Op: "clear", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, source)
	delete(s.updated, source)
	return nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &vectorstore.Error{Op: "clear all", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = make(map[string][]vectorstore.Chunk)
	s.updated = make(map[string]time.Time)
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, k int, metric vectorstore.Metric) ([]vectorstore.Match, error) {
	if err := vectorstore.ValidateQuery(query, k); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &vectorstore.Error{Op: "search", Err: err}
	}
	s.mu.RLock()
	candidates := make([]vectorstore.Chunk, 0)
	for _, chunks := range s.sources {
		candidates = append(candidates, chunks...)
	}
	s.mu.RUnlock()

	return vectorstore.BruteForce(candidates, query, k, metric)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &vectorstore.Error{Op: "count", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, chunks := range s.sources {
		total += len(chunks)
	}
	return total, nil
}

func (s *Store) Sources(ctx context.Context) ([]vectorstore.SourceSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, &vectorstore.Error{Op: "sources", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]vectorstore.SourceSummary, 0, len(s.sources))
	for source, chunks := range s.sources {
		tables := make(map[string]struct{}, len(chunks))
		for _, chunk := range chunks {
			tables[chunk.SourceTable] = struct{}{}
		}
		out = append(out, vectorstore.SourceSummary{
			Source:    source,
			Tables:    len(tables),
			Chunks:    len(chunks),
			UpdatedAt: s.updated[source],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func cloneChunk(chunk vectorstore.Chunk) vectorstore.Chunk {
	chunk.Embedding = append([]float32(nil), chunk.Embedding...)
	if chunk.Metadata != nil {
		metadata := make(map[string]string, len(chunk.Metadata))
		for key, value := range chunk.Metadata {
			metadata[key] = value
		}
		chunk.Metadata = metadata
	}
	return chunk
}
