package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ragsql/ragsql/internal/schema"
	"github.com/ragsql/ragsql/internal/target"
)

const introspectSQL = `
SELECT
	c.table_schema,
	c.table_name,
	obj_description(pc.oid, 'pg_class') AS table_description,
	c.column_name,
	c.data_type,
	c.is_nullable,
	c.column_default,
	pd.description AS column_description
FROM information_schema.columns c
JOIN information_schema.tables t
	ON c.table_schema = t.table_schema AND c.table_name = t.table_name
LEFT JOIN pg_catalog.pg_namespace pn
	ON pn.nspname = c.table_schema
LEFT JOIN pg_catalog.pg_class pc
	ON pc.relname = c.table_name AND pc.relnamespace = pn.oid
LEFT JOIN pg_catalog.pg_attribute pa
	ON pa.attrelid = pc.oid AND pa.attname = c.column_name
LEFT JOIN pg_catalog.pg_description pd
	ON pd.objoid = pc.oid AND pd.objsubid = pa.attnum
WHERE t.table_type = 'BASE TABLE' AND c.table_schema = $1
ORDER BY c.table_schema, c.table_name, c.ordinal_position`

type Introspector struct {
	db *sql.DB
}

func NewIntrospector(db *sql.DB) (*Introspector, error) {
	if db == nil {
		return nil, errors.New("target db is required")
	}
	return &Introspector{db: db}, nil
}

// Introspect describes every base table of schemaName, grouped by table in
// ordinal column order.
func (i *Introspector) Introspect(ctx context.Context, schemaName string) (schema.Document, error) {
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		schemaName = schema.DefaultSchemaName
	}

	rows, err := i.db.QueryContext(ctx, introspectSQL, schemaName)
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
