package schema

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{})
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestIntrospectBuildsOrderedTables(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector := NewPostgresIntrospector(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name ASC, c.ordinal_position ASC`)).
		WithArgs("info").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("orders", "id", "integer", "NO").
			AddRow("orders", "total_amount", "numeric", "YES").
			AddRow("products", "id", "integer", "NO").
			AddRow("products", "stock_level", "integer", "YES"))

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'PRIMARY KEY'
ORDER BY tc.table_name ASC, kcu.ordinal_position ASC`)).
		WithArgs("info").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("orders", "id").
			AddRow("products", "id"))

	tables, err := introspector.Introspect(context.Background(), "info")
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(tables))
	}
	if tables[0].Name != "orders" || tables[1].Name != "products" {
		t.Fatalf("table order = %q, %q", tables[0].Name, tables[1].Name)
	}
	if !tables[0].Columns[0].PrimaryKey {
		t.Fatal("orders.id should be marked primary key")
	}
	if tables[0].Columns[1].PrimaryKey {
		t.Fatal("orders.total_amount should not be a primary key")
	}
	if !tables[1].Columns[1].Nullable {
		t.Fatal("products.stock_level should be nullable")
	}
	assertSQLMock(t, mock)
}

func TestIntrospectPropagatesQueryError(t *testing.T) {
	db, mock := newSQLMock(t)
	introspector := NewPostgresIntrospector(db)

	mock.ExpectQuery("SELECT c.table_name").WillReturnError(errors.New("connection reset"))

	if _, err := introspector.Introspect(context.Background(), "info"); err == nil {
		t.Fatal("expected error")
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
