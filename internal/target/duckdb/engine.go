package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/ragsql/ragsql/internal/schema"
	"github.com/ragsql/ragsql/internal/target"
)

const DefaultSchemaName = "main"

type Config struct {
	// Path opens an existing database file in read-only mode. When empty an
	// in-memory database is used and ParquetTables are exposed as views.
	Path          string
	ParquetTables map[string]string
	Options       target.Options
}

type Engine struct {
	db     *sql.DB
	opts   target.Options
	logger *slog.Logger
}

func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	opts, err := cfg.Options.WithDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" && len(cfg.ParquetTables) == 0 {
		return nil, errors.New("duckdb path or parquet tables are required")
	}

	dsn := ""
	if path != "" {
		dsn = path + "?access_mode=read_only"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if path == "" {
		names := make([]string, 0, len(cfg.ParquetTables))
		for name := range cfg.ParquetTables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(name), quoteString(cfg.ParquetTables[name]))
			if _, err := db.ExecContext(ctx, viewSQL); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("create view for table %q: %w", name, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	logger.Info("duckdb target opened", "path", path, "parquet_tables", len(cfg.ParquetTables))
	return &Engine{db: db, opts: opts, logger: logger}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Execute runs sql in a transaction that is always rolled back. DuckDB has
// no per-statement timeout, so the shorter of the two configured timeouts
// bounds the call through the context.
func (e *Engine) Execute(ctx context.Context, sqlText string) (target.Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return target.Result{}, &target.ExecutionError{Err: target.ErrEmptySQL}
	}

	timeout := e.opts.QueryTimeout
	if e.opts.StatementTimeout > 0 && e.opts.StatementTimeout < timeout {
		timeout = e.opts.StatementTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return target.Result{}, &target.ExecutionError{Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			e.logger.Warn("rollback duckdb transaction", "error", rbErr)
		}
	}()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return target.Result{}, &target.ExecutionError{Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, values, truncated, err := target.ScanRows(rows, e.opts.RowLimit)
	if err != nil {
		return target.Result{}, &target.ExecutionError{Err: err}
	}
	return target.Result{
		Columns:   columns,
		Rows:      values,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

const introspectSQL = `
SELECT
	c.table_schema,
	c.table_name,
	NULL AS table_description,
	c.column_name,
	c.data_type,
	c.is_nullable,
	c.column_default,
	NULL AS column_description
FROM information_schema.columns c
JOIN information_schema.tables t
	ON c.table_schema = t.table_schema AND c.table_name = t.table_name
WHERE t.table_type IN ('BASE TABLE', 'VIEW') AND c.table_schema = ?
ORDER BY c.table_name, c.ordinal_position`

func (e *Engine) Introspect(ctx context.Context, schemaName string) (schema.Document, error) {
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		schemaName = DefaultSchemaName
	}

	rows, err := e.db.QueryContext(ctx, introspectSQL, schemaName)
	if err != nil {
		return nil, fmt.Errorf("introspect schema %q: %w", schemaName, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]target.ColumnRow, 0)
	for rows.Next() {
		var row target.ColumnRow
		if err := rows.Scan(
			&row.TableSchema,
			&row.TableName,
			&row.TableDescription,
			&row.ColumnName,
			&row.DataType,
			&row.IsNullable,
			&row.ColumnDefault,
			&row.Description,
		); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return target.GroupColumns(columns), nil
}

// ParseParquetTables parses "name=path,name=path" pairs.
func ParseParquetTables(raw string) (map[string]string, error) {
	tables := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, path, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid parquet table %q: want name=path", pair)
		}
		if _, exists := tables[name]; exists {
			return nil, fmt.Errorf("duplicate parquet table %q", name)
		}
		tables[name] = path
	}
	return tables, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
