package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ragsql/ragsql/internal/target"
)

type Executor struct {
	db     *sql.DB
	opts   target.Options
	logger *slog.Logger
}

func NewExecutor(db *sql.DB, opts target.Options, logger *slog.Logger) (*Executor, error) {
	if db == nil {
		return nil, errors.New("target db is required")
	}
	normalized, err := opts.WithDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{db: db, opts: normalized, logger: logger}, nil
}

func (e *Executor) HealthCheck(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Execute runs sql inside a read-only transaction that is always rolled
// back. Database errors are returned unchanged inside *target.ExecutionError.
func (e *Executor) Execute(ctx context.Context, sqlText string) (target.Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return target.Result{}, &target.ExecutionError{Err: target.ErrEmptySQL}
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
	defer cancel()

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return target.Result{}, &target.ExecutionError{Err: fmt.Errorf("begin read-only transaction: %w", err)}
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			e.logger.Warn("rollback read-only transaction", "error", rbErr)
		}
	}()

	if e.opts.StatementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.opts.StatementTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return target.Result{}, &target.ExecutionError{Err: fmt.Errorf("set statement timeout: %w", err)}
		}
	}

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
