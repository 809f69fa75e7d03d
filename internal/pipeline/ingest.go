package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ragsql/ragsql/internal/observability"
	"github.com/ragsql/ragsql/internal/schema"
	"github.com/ragsql/ragsql/internal/storage"
	"github.com/ragsql/ragsql/internal/vectorstore"
)

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragsql:schema-chunk"))

type IngestSummary struct {
	Source string `json:"source"`
	Tables int    `json:"tables"`
	Chunks int    `json:"chunks"`
}

// ChunkID is stable across re-ingestion of the same logical chunk.
func ChunkID(source, sourceTable, key string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(source+"\x00"+sourceTable+"\x00"+key)).String()
}

// Ingest replaces everything stored for source with the chunks of doc.
// Nothing is written unless chunking and embedding both succeed.
func (s *Service) Ingest(ctx context.Context, source string, doc schema.Document) (IngestSummary, error) {
	logger := observability.WithTrace(ctx, s.Logger).With(slog.String("source", source))
	source, err := validateSource(source)
	if err != nil {
		return IngestSummary{}, err
	}
	if len(doc) == 0 {
		return IngestSummary{}, stageErr(StageChunk, ErrEmptyDocument)
	}

	start := time.Now()
	pieces, err := s.Chunker.Chunk(doc)
	observability.ObserveStage(StageChunk, time.Since(start))
	if err != nil {
		logger.ErrorContext(ctx, "chunk schema document failed", slog.Any("error", err))
		return IngestSummary{}, stageErr(StageChunk, err)
	}
	logger.DebugContext(ctx, "schema chunked", slog.Int("tables", len(doc)), slog.Int("chunks", len(pieces)))

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}
	start = time.Now()
	vectors, err := s.Embedder.EmbedMany(ctx, texts)
	observability.ObserveStage(StageEmbed, time.Since(start))
	if err != nil {
		logger.ErrorContext(ctx, "embed schema chunks failed", slog.Any("error", err))
		return IngestSummary{}, stageErr(StageEmbed, err)
	}
	if len(vectors) != len(pieces) {
		return IngestSummary{}, stageErr(StageEmbed, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces)))
	}

	chunks := make([]vectorstore.Chunk, len(pieces))
	tables := map[string]struct{}{}
	for i, piece := range pieces {
		metadata := make(map[string]string, len(piece.Metadata)+1)
		for key, value := range piece.Metadata {
			metadata[key] = value
		}
		metadata["source"] = source
		chunks[i] = vectorstore.Chunk{
			ID:          ChunkID(source, piece.SourceTable, piece.Key),
			Source:      source,
			SourceTable: piece.SourceTable,
			Key:         piece.Key,
			Kind:        piece.Kind,
			Text:        piece.Text,
			Metadata:    metadata,
			Embedding:   vectors[i],
		}
		tables[piece.SourceTable] = struct{}{}
	}

	start = time.Now()
	err = s.Store.ReplaceSource(ctx, source, chunks)
	observability.ObserveStage(StageStore, time.Since(start))
	if err != nil {
		logger.ErrorContext(ctx, "store schema chunks failed", slog.Any("error", err))
		return IngestSummary{}, stageErr(StageStore, err)
	}
	observability.AddIngestedChunks(len(chunks))

	summary := IngestSummary{Source: source, Tables: len(tables), Chunks: len(chunks)}
	logger.InfoContext(ctx, "schema source ingested", slog.Int("tables", summary.Tables), slog.Int("chunks", summary.Chunks))
	return summary, nil
}

// IngestLive introspects schemaName on the target database and ingests the
// result under source.
func (s *Service) IngestLive(ctx context.Context, source, schemaName string) (IngestSummary, error) {
	if _, err := validateSource(source); err != nil {
		return IngestSummary{}, err
	}
	if s.Introspector == nil {
		return IngestSummary{}, stageErr(StageIntrospect, ErrTargetUnavailable)
	}
	start := time.Now()
	doc, err := s.Introspector.Introspect(ctx, schemaName)
	observability.ObserveStage(StageIntrospect, time.Since(start))
	if err != nil {
		observability.WithTrace(ctx, s.Logger).ErrorContext(ctx, "introspect target schema failed",
			slog.String("source", source), slog.String("schema", schemaName), slog.Any("error", err))
		return IngestSummary{}, stageErr(StageIntrospect, err)
	}
	return s.Ingest(ctx, source, doc)
}

// IngestObject fetches a JSON or YAML schema document from the object store
// and ingests it under source. The key extension picks the decoder.
func (s *Service) IngestObject(ctx context.Context, source, key string) (IngestSummary, error) {
	if _, err := validateSource(source); err != nil {
		return IngestSummary{}, err
	}
	if s.Documents == nil {
		return IngestSummary{}, stageErr(StageFetch, ErrDocumentsUnavailable)
	}
	start := time.Now()
	raw, _, err := storage.ReadDocument(ctx, s.Documents, key, s.Config.MaxDocumentBytes)
	if err != nil {
		observability.ObserveStage(StageFetch, time.Since(start))
		observability.WithTrace(ctx, s.Logger).ErrorContext(ctx, "fetch schema document failed",
			slog.String("source", source), slog.String("key", key), slog.Any("error", err))
		return IngestSummary{}, stageErr(StageFetch, err)
	}
	doc, err := schema.Decode(bytes.NewReader(raw), schema.FormatFromName(key))
	observability.ObserveStage(StageFetch, time.Since(start))
	if err != nil {
		return IngestSummary{}, stageErr(StageFetch, fmt.Errorf("decode %q: %w", key, err))
	}
	return s.Ingest(ctx, source, doc)
}
