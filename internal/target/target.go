package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ragsql/ragsql/internal/schema"
)

const (
	DefaultRowLimit     = 1000
	DefaultQueryTimeout = 30 * time.Second
)

var ErrEmptySQL = errors.New("sql is required")

type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

type Executor interface {
	Execute(ctx context.Context, sql string) (Result, error)
}

type Introspector interface {
	Introspect(ctx context.Context, schemaName string) (schema.Document, error)
}

// Options bound every execution. RowLimit must be positive; zero timeouts
// fall back to the defaults.
type Options struct {
	RowLimit         int
	StatementTimeout time.Duration
	QueryTimeout     time.Duration
}

func (o Options) WithDefaults() (Options, error) {
	if o.RowLimit == 0 {
		o.RowLimit = DefaultRowLimit
	}
	if o.RowLimit < 0 {
		return Options{}, fmt.Errorf("row limit must be positive, got %d", o.RowLimit)
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.StatementTimeout < 0 {
		o.StatementTimeout = 0
	}
	return o, nil
}

// ExecutionError carries the database's own failure message unchanged.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	if e == nil || e.Err == nil {
		return "execution failed"
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ScanRows reads at most limit rows. Truncated reports whether the cursor
// still had rows left when the limit was reached.
func ScanRows(rows *sql.Rows, limit int) ([]string, [][]any, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if limit > 0 && len(resultRows) >= limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, false, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}
	return columns, resultRows, truncated, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// ColumnRow is one information_schema.columns row as returned by an
// introspection query.
type ColumnRow struct {
	TableSchema      string
	TableName        string
	TableDescription sql.NullString
	ColumnName       string
	DataType         string
	IsNullable       sql.NullString
	ColumnDefault    sql.NullString
	Description      sql.NullString
}

// GroupColumns folds ordered column rows into a document, one table per
// (schema, name) pair, keeping first-seen table order.
func GroupColumns(rows []ColumnRow) schema.Document {
	doc := schema.Document{}
	index := map[string]int{}
	for _, row := range rows {
		key := row.TableSchema + "." + row.TableName
		pos, ok := index[key]
		if !ok {
			pos = len(doc)
			index[key] = pos
			doc = append(doc, schema.Table{
				Schema:      row.TableSchema,
				Name:        row.TableName,
				Description: row.TableDescription.String,
			})
		}
		doc[pos].Columns = append(doc[pos].Columns, schema.Column{
			Name:        row.ColumnName,
			DataType:    row.DataType,
			IsNullable:  row.IsNullable.String,
			Default:     row.ColumnDefault.String,
			Description: row.Description.String,
		})
	}
	return doc
}
