// Package migrations owns the vector store schema. Scripts are embedded,
// versioned as NNNNNN_name.{up,down}.sql and applied under a Postgres
// advisory lock so API replicas starting together do not race.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	historyTable = "ragsql_schema_migrations"
	// lockKey spells "ragsql" in ASCII.
	lockKey int64 = 0x72616773716c
)

var scriptName = regexp.MustCompile(`^([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// NewRunnerFS reads scripts from the sql/ directory of fsys.
func NewRunnerFS(fsys fs.FS) *Runner {
	return &Runner{fsys: fsys}
}

type script struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

type applied struct {
	Checksum  string
	AppliedAt time.Time
}

// Status describes one known script. Modified is set when the applied
// checksum no longer matches the embedded up script.
type Status struct {
	Version   int64      `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Modified  bool       `json:"modified,omitempty"`
}

// Up applies pending scripts in version order. steps <= 0 applies all of
// them. It refuses to run when an applied script has been edited.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return 0, err
	}
	count := 0
	err = withLock(ctx, db, func(conn *sql.Conn) error {
		history, err := readHistory(ctx, conn)
		if err != nil {
			return err
		}
		for _, item := range scripts {
			if record, ok := history[item.Version]; ok {
				if record.Checksum != "" && record.Checksum != item.Checksum {
					return fmt.Errorf("migration %d (%s) was modified after it was applied", item.Version, item.Name)
				}
				continue
			}
			if steps > 0 && count == steps {
				return nil
			}
			record := `INSERT INTO ` + historyTable + ` (version, name, checksum) VALUES ($1, $2, $3)`
			if err := apply(ctx, conn, item.Up, record, item.Version, item.Name, item.Checksum); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", item.Version, item.Name, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

// Down rolls back the newest applied scripts. steps <= 0 means one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return 0, err
	}
	byVersion := make(map[int64]script, len(scripts))
	for _, item := range scripts {
		byVersion[item.Version] = item
	}

	count := 0
	err = withLock(ctx, db, func(conn *sql.Conn) error {
		history, err := readHistory(ctx, conn)
		if err != nil {
			return err
		}
		for _, version := range sortedVersions(history, true) {
			if count == steps {
				return nil
			}
			item, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("applied migration %d has no script", version)
			}
			record := `DELETE FROM ` + historyTable + ` WHERE version = $1`
			if err := apply(ctx, conn, item.Down, record, item.Version); err != nil {
				return fmt.Errorf("roll back migration %d (%s): %w", item.Version, item.Name, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return nil, err
	}
	var out []Status
	err = withLock(ctx, db, func(conn *sql.Conn) error {
		history, err := readHistory(ctx, conn)
		if err != nil {
			return err
		}
		out = make([]Status, 0, len(scripts))
		for _, item := range scripts {
			status := Status{Version: item.Version, Name: item.Name}
			if record, ok := history[item.Version]; ok {
				at := record.AppliedAt
				status.Applied = true
				status.AppliedAt = &at
				status.Modified = record.Checksum != "" && record.Checksum != item.Checksum
			}
			out = append(out, status)
		}
		return nil
	})
	return out, err
}

// withLock pins one connection for the advisory lock and the work done
// under it, since session locks belong to a single backend.
func withLock(ctx context.Context, db *sql.DB, fn func(*sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey)
	}()

	ddl := `CREATE TABLE IF NOT EXISTS ` + historyTable + ` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure migration history: %w", err)
	}
	return fn(conn)
}

func readHistory(ctx context.Context, conn *sql.Conn) (map[int64]applied, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum, applied_at FROM `+historyTable)
	if err != nil {
		return nil, fmt.Errorf("read migration history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history := map[int64]applied{}
	for rows.Next() {
		var version int64
		var record applied
		if err := rows.Scan(&version, &record.Checksum, &record.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration history: %w", err)
		}
		history[version] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read migration history: %w", err)
	}
	return history, nil
}

// apply runs body and the history statement in one transaction.
func apply(ctx context.Context, conn *sql.Conn, body, record string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	return tx.Commit()
}

func sortedVersions(history map[int64]applied, desc bool) []int64 {
	versions := make([]int64, 0, len(history))
	for version := range history {
		versions = append(versions, version)
	}
	sort.Slice(versions, func(i, j int) bool {
		if desc {
			return versions[i] > versions[j]
		}
		return versions[i] < versions[j]
	})
	return versions
}

func loadScripts(fsys fs.FS) ([]script, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration scripts: %w", err)
	}

	byVersion := map[int64]*script{}
	for _, entry := range entries {
		match := scriptName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: bad version: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &script{Version: version, Name: match[2]}
			byVersion[version] = item
		} else if item.Name != match[2] {
			return nil, fmt.Errorf("migration %d is named both %q and %q", version, item.Name, match[2])
		}
		if match[3] == "up" {
			item.Up = string(body)
		} else {
			item.Down = string(body)
		}
	}

	scripts := make([]script, 0, len(byVersion))
	for _, item := range byVersion {
		if strings.TrimSpace(item.Up) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.Down) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		sum := sha256.Sum256([]byte(item.Up))
		item.Checksum = hex.EncodeToString(sum[:])
		scripts = append(scripts, *item)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Version < scripts[j].Version })
	return scripts, nil
}
