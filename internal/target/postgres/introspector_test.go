package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var introspectColumns = []string{
	"table_schema", "table_name", "table_description", "column_name",
	"data_type", "is_nullable", "column_default", "column_description",
}

func TestIntrospectGroupsColumnsByTable(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector, err := NewIntrospector(db)
	if err != nil {
		t.Fatalf("NewIntrospector() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.columns c`)).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows(introspectColumns).
			AddRow("public", "orders", "customer orders", "id", "bigint", "NO", "nextval('orders_id_seq'::regclass)", nil).
			AddRow("public", "orders", "customer orders", "total", "numeric", "YES", nil, "order total in cents").
			AddRow("public", "users", nil, "id", "integer", "NO", nil, nil))

	doc, err := introspector.Introspect(context.Background(), "")
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if len(doc) != 2 {
		t.Fatalf("Introspect() tables = %d", len(doc))
	}
	orders := doc[0]
	if orders.QualifiedName() != "public.orders" || orders.Description != "customer orders" || len(orders.Columns) != 2 {
		t.Fatalf("orders = %+v", orders)
	}
	if orders.Columns[0].Default != "nextval('orders_id_seq'::regclass)" || orders.Columns[0].IsNullable != "NO" {
		t.Fatalf("orders.id = %+v", orders.Columns[0])
	}
	if orders.Columns[1].Description != "order total in cents" || orders.Columns[1].Default != "" {
		t.Fatalf("orders.total = %+v", orders.Columns[1])
	}
	if doc[1].Name != "users" || doc[1].Description != "" {
		t.Fatalf("users = %+v", doc[1])
	}
	assertSQLMock(t, mock)
}

func TestIntrospectNamedSchemaAndErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector, err := NewIntrospector(db)
	if err != nil {
		t.Fatalf("NewIntrospector() error = %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE t.table_type = 'BASE TABLE' AND c.table_schema = $1`)).
		WithArgs("billing").
		WillReturnError(errors.New("permission denied for schema billing"))

	if _, err := introspector.Introspect(context.Background(), " billing "); err == nil {
		t.Fatal("expected introspection error")
	}
	assertSQLMock(t, mock)

	if _, err := NewIntrospector(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestIntrospectEmptySchema(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector, err := NewIntrospector(db)
	if err != nil {
		t.Fatalf("NewIntrospector() error = %v", err)
	}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.columns c`)).
		WithArgs("empty").
		WillReturnRows(sqlmock.NewRows(introspectColumns))

	doc, err := introspector.Introspect(context.Background(), "empty")
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("Introspect() = %+v, want empty", doc)
	}
	assertSQLMock(t, mock)
}
