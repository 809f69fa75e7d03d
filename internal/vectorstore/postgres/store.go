package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pgvector/pgvector-go"

	"github.com/ragsql/ragsql/internal/observability"
	"github.com/ragsql/ragsql/internal/vectorstore"
)

const (
	IndexHNSWCosine    = "hnsw_cosine"
	IndexIVFFlatCosine = "ivfflat_cosine"
	IndexIVFFlatL2     = "ivfflat_l2"
	IndexNone          = "none"

	// ivfflatLists is the centroid count of the ivfflat indexes. Searches
	// probe every list: the index is usually built on an empty table at
	// startup, so its centroids say little about later rows, and schema
	// corpora are small enough for an exhaustive probe.
	ivfflatLists = 100
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// cosineIndexed is false once EnsureIndex found no usable cosine
	// operator class; cosine searches then score rows in process.
	cosineIndexed atomic.Bool
	// ivfflat is set when the active index needs ivfflat.probes raised.
	ivfflat atomic.Bool
}

func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{db: db, logger: logger}
	s.cosineIndexed.Store(true)
	return s
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &vectorstore.Error{Op: "ping", Err: err}
	}
	return nil
}

// CosineIndexed reports whether cosine searches run in the database.
func (s *Store) CosineIndexed() bool {
	return s.cosineIndexed.Load()
}

type indexAttempt struct {
	name    string
	cosine  bool
	ivfflat bool
	ddl     string
}

var indexAttempts = []indexAttempt{
	{
		name:   IndexHNSWCosine,
		cosine: true,
		ddl:    `CREATE INDEX IF NOT EXISTS schema_chunks_embedding_hnsw_idx ON schema_chunks USING hnsw (embedding vector_cosine_ops)`,
	},
	{
		name:    IndexIVFFlatCosine,
		cosine:  true,
		ivfflat: true,
		ddl:     `CREATE INDEX IF NOT EXISTS schema_chunks_embedding_ivfflat_idx ON schema_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = ` + strconv.Itoa(ivfflatLists) + `)`,
	},
	{
		name:    IndexIVFFlatL2,
		cosine:  false,
		ivfflat: true,
		ddl:     `CREATE INDEX IF NOT EXISTS schema_chunks_embedding_l2_idx ON schema_chunks USING ivfflat (embedding vector_l2_ops) WITH (lists = ` + strconv.Itoa(ivfflatLists) + `)`,
	},
}

// EnsureIndex builds the best similarity index the server supports and
// returns its name. Build failures degrade search and are never returned.
func (s *Store) EnsureIndex(ctx context.Context) string {
	for _, attempt := range indexAttempts {
		if _, err := s.db.ExecContext(ctx, attempt.ddl); err != nil {
			observability.ObserveIndexBuild(attempt.name, "failed")
			s.logger.Warn("vector index build failed", slog.String("index", attempt.name), slog.Any("error", err))
			continue
		}
		observability.ObserveIndexBuild(attempt.name, "ok")
		s.cosineIndexed.Store(attempt.cosine)
		s.ivfflat.Store(attempt.ivfflat)
		if !attempt.cosine {
			s.logger.Warn("cosine index unavailable; cosine search falls back to in-process scan", slog.String("index", attempt.name))
		}
		return attempt.name
	}
	s.cosineIndexed.Store(false)
	s.ivfflat.Store(false)
	observability.ObserveIndexBuild(IndexNone, "fallback")
	s.logger.Warn("no vector index available; searches scan all chunks")
	return IndexNone
}

const upsertChunkSQL = `
INSERT INTO schema_chunks (id, source, source_table, chunk_key, kind, chunk, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
ON CONFLICT (source, source_table, chunk_key)
DO UPDATE SET id = EXCLUDED.id, kind = EXCLUDED.kind, chunk = EXCLUDED.chunk,
	metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding, created_at = now()`

func (s *Store) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	if err := vectorstore.ValidateChunks("", chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	return s.inTx(ctx, "upsert", func(tx *sql.Tx) error {
		return insertChunks(ctx, tx, chunks)
	})
}

// ReplaceSource deletes every chunk of source and inserts chunks in one
// transaction.
func (s *Store) ReplaceSource(ctx context.Context, source string, chunks []vectorstore.Chunk) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return fmt.Errorf("%w: source is required", vectorstore.ErrInvalidChunk)
	}
	if err := vectorstore.ValidateChunks(source, chunks); err != nil {
		return err
	}
	return s.inTx(ctx, "replace source", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_chunks WHERE source = $1`, source); err != nil {
			return fmt.Errorf("delete source chunks: %w", err)
		}
		return insertChunks(ctx, tx, chunks)
	})
}

func (s *Store) Clear(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schema_chunks WHERE source = $1`, source); err != nil {
		return &vectorstore.Error{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE schema_chunks`); err != nil {
		return &vectorstore.Error{Op: "clear all", Err: err}
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM schema_chunks`).Scan(&count); err != nil {
		return 0, &vectorstore.Error{Op: "count", Err: err}
	}
	return count, nil
}

func (s *Store) Sources(ctx context.Context) ([]vectorstore.SourceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source, count(DISTINCT source_table), count(*), max(created_at)
FROM schema_chunks
GROUP BY source
ORDER BY source ASC`)
	if err != nil {
		return nil, &vectorstore.Error{Op: "sources", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := make([]vectorstore.SourceSummary, 0)
	for rows.Next() {
		var item vectorstore.SourceSummary
		if err := rows.Scan(&item.Source, &item.Tables, &item.Chunks, &item.UpdatedAt); err != nil {
			return nil, &vectorstore.Error{Op: "sources", Err: fmt.Errorf("scan source: %w", err)}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &vectorstore.Error{Op: "sources", Err: err}
	}
	return out, nil
}

func (s *Store) Search(ctx context.Context, query []float32, k int, metric vectorstore.Metric) ([]vectorstore.Match, error) {
	if err := vectorstore.ValidateQuery(query, k); err != nil {
		return nil, err
	}
	switch metric {
	case vectorstore.MetricCosine, "":
		if !s.cosineIndexed.Load() {
			return s.scan(ctx, query, k, vectorstore.MetricCosine)
		}
		return s.searchSQL(ctx, "<=>", vectorstore.CosineScore, query, k)
	case vectorstore.MetricEuclidean:
		return s.searchSQL(ctx, "<->", vectorstore.EuclideanScore, query, k)
	default:
		return nil, fmt.Errorf("%w: %q", vectorstore.ErrUnsupportedMetric, metric)
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) searchSQL(ctx context.Context, operator string, score func(float64) float64, query []float32, k int) ([]vectorstore.Match, error) {
	if !s.ivfflat.Load() {
		return queryMatches(ctx, s.db, operator, score, query, k)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &vectorstore.Error{Op: "search", Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `SET LOCAL ivfflat.probes = `+strconv.Itoa(ivfflatLists)); err != nil {
		return nil, &vectorstore.Error{Op: "search", Err: fmt.Errorf("set ivfflat probes: %w", err)}
	}
	matches, err := queryMatches(ctx, tx, operator, score, query, k)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &vectorstore.Error{Op: "search", Err: fmt.Errorf("commit tx: %w", err)}
	}
	return matches, nil
}

func queryMatches(ctx context.Context, q queryer, operator string, score func(float64) float64, query []float32, k int) ([]vectorstore.Match, error) {
	stmt := `
SELECT id, source, source_table, chunk_key, kind, chunk, metadata, embedding ` + operator + ` $1 AS distance
FROM schema_chunks
ORDER BY distance ASC, id ASC
LIMIT $2`
	rows, err := q.QueryContext(ctx, stmt, pgvector.NewVector(query), k)
	if err != nil {
		return nil, &vectorstore.Error{Op: "search", Err: err}
	}
	defer func() { _ = rows.Close() }()

	matches := make([]vectorstore.Match, 0, k)
	for rows.Next() {
		var (
			chunk    vectorstore.Chunk
			metadata []byte
			distance float64
		)
		if err := rows.Scan(&chunk.ID, &chunk.Source, &chunk.SourceTable, &chunk.Key, &chunk.Kind, &chunk.Text, &metadata, &distance); err != nil {
			return nil, &vectorstore.Error{Op: "search", Err: fmt.Errorf("scan match: %w", err)}
		}
		if chunk.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, &vectorstore.Error{Op: "search", Err: err}
		}
		matches = append(matches, vectorstore.Match{Chunk: chunk, Score: score(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, &vectorstore.Error{Op: "search", Err: err}
	}
	return vectorstore.Rank(matches, k), nil
}

// scan reads every chunk and ranks it in process.
func (s *Store) scan(ctx context.Context, query []float32, k int, metric vectorstore.Metric) ([]vectorstore.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source, source_table, chunk_key, kind, chunk, metadata, embedding
FROM schema_chunks`)
	if err != nil {
		return nil, &vectorstore.Error{Op: "scan", Err: err}
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]vectorstore.Chunk, 0)
	for rows.Next() {
		var (
			chunk     vectorstore.Chunk
			metadata  []byte
			embedding pgvector.Vector
		)
		if err := rows.Scan(&chunk.ID, &chunk.Source, &chunk.SourceTable, &chunk.Key, &chunk.Kind, &chunk.Text, &metadata, &embedding); err != nil {
			return nil, &vectorstore.Error{Op: "scan", Err: fmt.Errorf("scan chunk: %w", err)}
		}
		if chunk.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, &vectorstore.Error{Op: "scan", Err: err}
		}
		chunk.Embedding = embedding.Slice()
		candidates = append(candidates, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, &vectorstore.Error{Op: "scan", Err: err}
	}
	return vectorstore.BruteForce(candidates, query, k, metric)
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &vectorstore.Error{Op: op, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return &vectorstore.Error{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &vectorstore.Error{Op: op, Err: fmt.Errorf("commit tx: %w", err)}
	}
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []vectorstore.Chunk) error {
	for _, chunk := range chunks {
		metadata, err := encodeMetadata(chunk.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertChunkSQL,
			chunk.ID, chunk.Source, chunk.SourceTable, chunk.Key, chunk.Kind, chunk.Text,
			metadata, pgvector.NewVector(chunk.Embedding),
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}
	return nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal chunk metadata: %w", err)
	}
	return string(raw), nil
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("decode chunk metadata: %w", err)
	}
	return metadata, nil
}
