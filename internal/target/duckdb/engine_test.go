package duckdb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/ragsql/ragsql/internal/target"
)

type event struct {
	ID    int64  `parquet:"id"`
	Value string `parquet:"value"`
}

func TestExecuteReadsParquetViews(t *testing.T) {
	engine := openParquetEngine(t, target.Options{})

	result, err := engine.Execute(context.Background(), "SELECT COUNT(*) AS c FROM events;")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Columns[0] != "c" {
		t.Fatalf("Execute() = %+v", result)
	}
	if result.Rows[0][0] != int64(3) {
		t.Fatalf("count = %#v", result.Rows[0][0])
	}
	if result.Truncated {
		t.Fatal("single row result should not be truncated")
	}
}

func TestExecuteCapsRows(t *testing.T) {
	engine := openParquetEngine(t, target.Options{RowLimit: 2})

	result, err := engine.Execute(context.Background(), "SELECT id, value FROM events ORDER BY id")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("Execute() rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
	if result.Rows[1][1] != "b" {
		t.Fatalf("second row = %#v", result.Rows[1])
	}
}

func TestExecuteReturnsExecutionError(t *testing.T) {
	engine := openParquetEngine(t, target.Options{})

	_, err := engine.Execute(context.Background(), "SELECT * FROM missing_table")
	var execErr *target.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want *target.ExecutionError", err)
	}
	if _, err := engine.Execute(context.Background(), ""); !errors.Is(err, target.ErrEmptySQL) {
		t.Fatalf("Execute(\"\") error = %v", err)
	}
}

func TestIntrospectParquetViews(t *testing.T) {
	engine := openParquetEngine(t, target.Options{})

	doc, err := engine.Introspect(context.Background(), "")
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if len(doc) != 1 || doc[0].Name != "events" || doc[0].Schema != DefaultSchemaName {
		t.Fatalf("Introspect() = %+v", doc)
	}
	if len(doc[0].Columns) != 2 || doc[0].Columns[0].Name != "id" || doc[0].Columns[1].Name != "value" {
		t.Fatalf("columns = %+v", doc[0].Columns)
	}
	if doc[0].Columns[0].DataType != "BIGINT" {
		t.Fatalf("id data type = %q", doc[0].Columns[0].DataType)
	}
}

func TestReadOnlyDatabaseFileRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warehouse.duckdb")
	seed, err := sql.Open("duckdb", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER, email VARCHAR)`,
		`INSERT INTO users VALUES (1, 'ada@example.com')`,
	} {
		if _, err := seed.Exec(stmt); err != nil {
			t.Fatalf("seed %q error = %v", stmt, err)
		}
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("seed close error = %v", err)
	}

	engine, err := Open(context.Background(), Config{Path: path}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	result, err := engine.Execute(context.Background(), "SELECT email FROM users")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "ada@example.com" {
		t.Fatalf("Execute() = %+v", result)
	}

	_, err = engine.Execute(context.Background(), "INSERT INTO users VALUES (2, 'grace@example.com')")
	var execErr *target.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("write on read-only database error = %v", err)
	}

	doc, err := engine.Introspect(context.Background(), DefaultSchemaName)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if len(doc) != 1 || doc[0].Name != "users" || len(doc[0].Columns) != 2 {
		t.Fatalf("Introspect() = %+v", doc)
	}
}

func TestOpenValidation(t *testing.T) {
	if _, err := Open(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected error without path or parquet tables")
	}
	if _, err := Open(context.Background(), Config{ParquetTables: map[string]string{"x": "/a.parquet"}, Options: target.Options{RowLimit: -1}}, nil); err == nil {
		t.Fatal("expected error for negative row limit")
	}
}

func TestParseParquetTables(t *testing.T) {
	tables, err := ParseParquetTables(" users=/data/users.parquet, orders = /data/orders/*.parquet ,")
	if err != nil {
		t.Fatalf("ParseParquetTables() error = %v", err)
	}
	if len(tables) != 2 || tables["users"] != "/data/users.parquet" || tables["orders"] != "/data/orders/*.parquet" {
		t.Fatalf("ParseParquetTables() = %#v", tables)
	}
	for _, raw := range []string{"users", "=/a.parquet", "users=", "a=/x,a=/y"} {
		if _, err := ParseParquetTables(raw); err == nil {
			t.Fatalf("ParseParquetTables(%q) expected error", raw)
		}
	}
}

func openParquetEngine(t *testing.T, opts target.Options) *Engine {
	t.Helper()
	raw, err := buildParquet([]event{{ID: 1, Value: "a"}, {ID: 2, Value: "b"}, {ID: 3, Value: "c"}})
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "events.parquet")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	engine, err := Open(context.Background(), Config{ParquetTables: map[string]string{"events": path}, Options: opts}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func buildParquet(rows []event) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[event](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
