// Package pgdb opens the Postgres pools used for the vector store and the
// target database.
package pgdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ragsql/ragsql/internal/config"
)

const pingTimeout = 5 * time.Second

// Open parses the pool DSN, tags the connection with an application_name
// derived from role (e.g. "vector store" becomes ragsql-vector-store) unless
// the DSN sets one, and pings before returning.
func Open(ctx context.Context, role string, pool config.DBPoolConfig) (*sql.DB, error) {
	if strings.TrimSpace(pool.DSN) == "" {
		return nil, fmt.Errorf("%s dsn is required", role)
	}
	connConfig, err := pgx.ParseConfig(pool.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse %s dsn: %w", role, err)
	}
	if _, ok := connConfig.RuntimeParams["application_name"]; !ok {
		connConfig.RuntimeParams["application_name"] = ApplicationName(role)
	}

	db := stdlib.OpenDB(*connConfig)
	applyPool(db, pool)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", role, err)
	}
	return db, nil
}

func ApplicationName(role string) string {
	slug := strings.Join(strings.Fields(strings.ToLower(role)), "-")
	if slug == "" {
		return "ragsql"
	}
	return "ragsql-" + slug
}

func applyPool(db *sql.DB, pool config.DBPoolConfig) {
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
}
