package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/pgvector/pgvector-go"

	"github.com/ragsql/ragsql/internal/vectorstore"
)

func vec(values ...float32) []float32 {
	out := make([]float32, vectorstore.Dimensions)
	copy(out, values)
	return out
}

func vecText(t *testing.T, values ...float32) string {
	t.Helper()
	raw, err := pgvector.NewVector(vec(values...)).Value()
	if err != nil {
		t.Fatalf("Vector.Value() error = %v", err)
	}
	return raw.(string)
}

func usersChunk() vectorstore.Chunk {
	return vectorstore.Chunk{
		ID:          "id-users",
		Source:      "app",
		SourceTable: "public.users",
		Key:         "table",
		Kind:        "table",
		Text:        "Table public.users.",
		Metadata:    map[string]string{"kind": "table"},
		Embedding:   vec(1),
	}
}

var chunkColumns = []string{"id", "source", "source_table", "chunk_key", "kind", "chunk", "metadata", "distance"}

func TestReplaceSourceDeletesAndInsertsInOneTransaction(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM schema_chunks WHERE source = $1`)).
		WithArgs("app").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO schema_chunks (id, source, source_table, chunk_key, kind, chunk, metadata, embedding)`)).
		WithArgs("id-users", "app", "public.users", "table", "table", "Table public.users.", `{"kind":"table"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.ReplaceSource(context.Background(), "app", []vectorstore.Chunk{usersChunk()}); err != nil {
		t.Fatalf("ReplaceSource() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestReplaceSourceRollsBackOnInsertFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM schema_chunks WHERE source = $1`)).
		WithArgs("app").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO schema_chunks`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.ReplaceSource(context.Background(), "app", []vectorstore.Chunk{usersChunk()})
	var storeErr *vectorstore.Error
	if !errors.As(err, &storeErr) || storeErr.Op != "replace source" {
		t.Fatalf("ReplaceSource() error = %v, want *vectorstore.Error", err)
	}
	assertSQLMock(t, mock)
}

func TestUpsertValidatesBeforeTouchingDatabase(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	bad := usersChunk()
	bad.Embedding = bad.Embedding[:5]
	if err := store.Upsert(context.Background(), []vectorstore.Chunk{bad}); !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Fatalf("Upsert() error = %v, want ErrDimensionMismatch", err)
	}
	assertSQLMock(t, mock)
}

func TestUpsertUsesConflictKey(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (source, source_table, chunk_key)`)).
		WithArgs("id-users", "app", "public.users", "table", "table", "Table public.users.", `{"kind":"table"}`, vecText(t, 1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Upsert(context.Background(), []vectorstore.Chunk{usersChunk()}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestSearchCosineScoresAndTieBreak(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`embedding <=> $1 AS distance`)).
		WithArgs(vecText(t, 1), 3).
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow("b", "app", "public.orders", "table", "table", "Table public.orders.", []byte(`{"kind":"table"}`), 0.25).
			AddRow("a", "app", "public.users", "table", "table", "Table public.users.", []byte(`{}`), 0.25).
			AddRow("c", "app", "public.items", "table", "table", "Table public.items.", nil, 0.5))

	matches, err := store.Search(context.Background(), vec(1), 3, vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 3 || matches[0].Chunk.ID != "a" || matches[1].Chunk.ID != "b" || matches[2].Chunk.ID != "c" {
		t.Fatalf("Search() = %+v", matches)
	}
	if matches[0].Score != 0.75 || matches[2].Score != 0.5 {
		t.Fatalf("scores = %v, %v", matches[0].Score, matches[2].Score)
	}
	if matches[1].Chunk.Metadata["kind"] != "table" {
		t.Fatalf("metadata = %+v", matches[1].Chunk.Metadata)
	}
	assertSQLMock(t, mock)
}

func TestSearchEuclideanUsesL2Operator(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`embedding <-> $1 AS distance`)).
		WithArgs(sqlmock.AnyArg(), 1).
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow("a", "app", "public.users", "table", "table", "Table public.users.", []byte(`{}`), 1.0))

	matches, err := store.Search(context.Background(), vec(1), 1, vectorstore.MetricEuclidean)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Score != 0.5 {
		t.Fatalf("Search() = %+v", matches)
	}
	assertSQLMock(t, mock)
}

func TestSearchRejectsInvalidK(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)
	if _, err := store.Search(context.Background(), vec(1), 0, vectorstore.MetricCosine); !errors.Is(err, vectorstore.ErrInvalidK) {
		t.Fatalf("Search() error = %v, want ErrInvalidK", err)
	}
	assertSQLMock(t, mock)
}

func TestEnsureIndexFallsBackToL2AndScansCosine(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`USING hnsw (embedding vector_cosine_ops)`)).
		WillReturnError(errors.New(`access method "hnsw" does not exist`))
	mock.ExpectExec(regexp.QuoteMeta(`USING ivfflat (embedding vector_cosine_ops)`)).
		WillReturnError(errors.New(`operator class "vector_cosine_ops" does not exist`))
	mock.ExpectExec(regexp.QuoteMeta(`USING ivfflat (embedding vector_l2_ops)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if got := store.EnsureIndex(context.Background()); got != IndexIVFFlatL2 {
		t.Fatalf("EnsureIndex() = %q, want %q", got, IndexIVFFlatL2)
	}
	if store.CosineIndexed() {
		t.Fatal("CosineIndexed() = true after l2 fallback")
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, source, source_table, chunk_key, kind, chunk, metadata, embedding
FROM schema_chunks`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source", "source_table", "chunk_key", "kind", "chunk", "metadata", "embedding"}).
			AddRow("far", "app", "public.orders", "table", "table", "Table public.orders.", []byte(`{}`), vecText(t, 0, 1)).
			AddRow("near", "app", "public.users", "table", "table", "Table public.users.", []byte(`{}`), vecText(t, 1, 1)))

	matches, err := store.Search(context.Background(), vec(1), 5, vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 || matches[0].Chunk.ID != "near" || matches[1].Chunk.ID != "far" {
		t.Fatalf("Search() = %+v", matches)
	}
	assertSQLMock(t, mock)
}

func TestSearchOnIVFFlatScansEveryList(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`USING hnsw (embedding vector_cosine_ops)`)).
		WillReturnError(errors.New(`access method "hnsw" does not exist`))
	mock.ExpectExec(regexp.QuoteMeta(`USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if got := store.EnsureIndex(context.Background()); got != IndexIVFFlatCosine {
		t.Fatalf("EnsureIndex() = %q, want %q", got, IndexIVFFlatCosine)
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL ivfflat.probes = 100`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`embedding <=> $1 AS distance`)).
		WithArgs(sqlmock.AnyArg(), 2).
		WillReturnRows(sqlmock.NewRows(chunkColumns).
			AddRow("a", "app", "public.users", "table", "table", "Table public.users.", []byte(`{}`), 0.1))
	mock.ExpectCommit()

	matches, err := store.Search(context.Background(), vec(1), 2, vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.ID != "a" {
		t.Fatalf("Search() = %+v", matches)
	}
	assertSQLMock(t, mock)
}

func TestEnsureIndexPrefersHNSW(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`USING hnsw (embedding vector_cosine_ops)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if got := store.EnsureIndex(context.Background()); got != IndexHNSWCosine {
		t.Fatalf("EnsureIndex() = %q", got)
	}
	if !store.CosineIndexed() {
		t.Fatal("CosineIndexed() = false after hnsw build")
	}
	assertSQLMock(t, mock)
}

func TestEnsureIndexWithoutAnyIndex(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)
	for range indexAttempts {
		mock.ExpectExec(`CREATE INDEX IF NOT EXISTS`).WillReturnError(errors.New("permission denied"))
	}
	if got := store.EnsureIndex(context.Background()); got != IndexNone {
		t.Fatalf("EnsureIndex() = %q, want %q", got, IndexNone)
	}
	assertSQLMock(t, mock)
}

func TestClearCountAndConnectionFailures(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM schema_chunks WHERE source = $1`)).
		WithArgs("app").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`TRUNCATE TABLE schema_chunks`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM schema_chunks`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM schema_chunks`)).
		WillReturnError(sql.ErrConnDone)

	ctx := context.Background()
	if err := store.Clear(ctx, "app"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := store.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if n, err := store.Count(ctx); err != nil || n != 7 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
	_, err := store.Count(ctx)
	var storeErr *vectorstore.Error
	if !errors.As(err, &storeErr) || !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("Count() error = %v, want *vectorstore.Error wrapping ErrConnDone", err)
	}
	assertSQLMock(t, mock)
}

func TestSourcesGroupsBySource(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, nil)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`GROUP BY source`)).
		WillReturnRows(sqlmock.NewRows([]string{"source", "tables", "chunks", "updated_at"}).
			AddRow("app", 2, 5, now))

	sources, err := store.Sources(context.Background())
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	if len(sources) != 1 || sources[0].Tables != 2 || sources[0].Chunks != 5 || !sources[0].UpdatedAt.Equal(now) {
		t.Fatalf("Sources() = %+v", sources)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
