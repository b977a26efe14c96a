package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// PostgresIntrospector reads table structure from information_schema.
type PostgresIntrospector struct {
	db *sql.DB
}

func NewPostgresIntrospector(db *sql.DB) *PostgresIntrospector {
	return &PostgresIntrospector{db: db}
}

func (p *PostgresIntrospector) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (p *PostgresIntrospector) Introspect(ctx context.Context, schemaName string) ([]Table, error) {
	columnsQuery := `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name ASC, c.ordinal_position ASC`

	rows, err := p.db.QueryContext(ctx, columnsQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]Table, 0)
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		i, ok := index[tableName]
		if !ok {
			tables = append(tables, Table{Name: tableName})
			i = len(tables) - 1
			index[tableName] = i
		}
		tables[i].Columns = append(tables[i].Columns, Column{
			Name:     columnName,
			DataType: dataType,
			Nullable: isNullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	if err := p.markPrimaryKeys(ctx, schemaName, tables, index); err != nil {
		return nil, err
	}
	return tables, nil
}

func (p *PostgresIntrospector) markPrimaryKeys(ctx context.Context, schemaName string, tables []Table, index map[string]int) error {
	keysQuery := `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'PRIMARY KEY'
ORDER BY tc.table_name ASC, kcu.ordinal_position ASC`

	rows, err := p.db.QueryContext(ctx, keysQuery, schemaName)
	if err != nil {
		return fmt.Errorf("query primary keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("scan primary key row: %w", err)
		}
		i, ok := index[tableName]
		if !ok {
			continue
		}
		for j := range tables[i].Columns {
			if tables[i].Columns[j].Name == columnName {
				tables[i].Columns[j].PrimaryKey = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate primary key rows: %w", err)
	}
	return nil
}
