// Package warehouse writes a small shop dataset as parquet files together
// with the schema document that describes it, for trying the DuckDB target.
package warehouse

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/ragsql/ragsql/internal/schema"
)

const SchemaFileName = "schema.json"

type Options struct {
	Dir    string
	Users  int
	Orders int
	Seed   int64
}

// Manifest lists the files written by Write.
type Manifest struct {
	Tables     map[string]string
	SchemaPath string
	Users      int
	Orders     int
}

// ParquetTables renders the manifest as a name=path list accepted by the
// DuckDB target.
func (m Manifest) ParquetTables() string {
	names := make([]string, 0, len(m.Tables))
	for name := range m.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+m.Tables[name])
	}
	return strings.Join(pairs, ",")
}

func Write(opts Options) (Manifest, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return Manifest{}, errors.New("output directory is required")
	}
	if opts.Users <= 0 {
		return Manifest{}, errors.New("user count must be > 0")
	}
	if opts.Orders < 0 {
		return Manifest{}, errors.New("order count must be >= 0")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create output directory: %w", err)
	}

	g := NewGenerator(opts.Seed)
	users := g.Users(opts.Users)
	orders := g.Orders(opts.Orders, opts.Users)

	manifest := Manifest{
		Tables: map[string]string{
			"users":  filepath.Join(opts.Dir, "users.parquet"),
			"orders": filepath.Join(opts.Dir, "orders.parquet"),
		},
		SchemaPath: filepath.Join(opts.Dir, SchemaFileName),
		Users:      len(users),
		Orders:     len(orders),
	}
	if err := writeParquet(manifest.Tables["users"], users); err != nil {
		return Manifest{}, err
	}
	if err := writeParquet(manifest.Tables["orders"], orders); err != nil {
		return Manifest{}, err
	}

	raw, err := json.MarshalIndent(Document(), "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode schema document: %w", err)
	}
	if err := os.WriteFile(manifest.SchemaPath, append(raw, '\n'), 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write schema document: %w", err)
	}
	return manifest, nil
}

func writeParquet[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	writer := parquet.NewGenericWriter[T](f)
	if _, err := writer.Write(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

// Document describes the tables written by Write as DuckDB exposes them.
func Document() schema.Document {
	return schema.Document{
		{
			Schema:      "main",
			Name:        "orders",
			Description: "Customer orders, one row per checkout",
			Columns: []schema.Column{
				{Name: "order_id", DataType: "BIGINT", IsNullable: "NO", Description: "Order identifier"},
				{Name: "user_id", DataType: "BIGINT", IsNullable: "NO", Description: "References users.user_id"},
				{Name: "status", DataType: "VARCHAR", IsNullable: "NO", Description: "One of completed, shipped, pending, cancelled"},
				{Name: "total", DataType: "DOUBLE", IsNullable: "NO", Description: "Order total in currency units"},
				{Name: "currency", DataType: "VARCHAR", IsNullable: "NO"},
				{Name: "ordered_at", DataType: "VARCHAR", IsNullable: "NO", Description: "RFC 3339 timestamp of the order"},
			},
		},
		{
			Schema:      "main",
			Name:        "users",
			Description: "Registered shop customers",
			Columns: []schema.Column{
				{Name: "user_id", DataType: "BIGINT", IsNullable: "NO", Description: "User identifier"},
				{Name: "name", DataType: "VARCHAR", IsNullable: "NO"},
				{Name: "email", DataType: "VARCHAR", IsNullable: "NO"},
				{Name: "country", DataType: "VARCHAR", IsNullable: "NO", Description: "ISO 3166 alpha-2 country code"},
				{Name: "signup_date", DataType: "VARCHAR", IsNullable: "NO", Description: "ISO 8601 date the user registered"},
			},
		},
	}
}
