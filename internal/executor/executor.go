// Package executor runs validated SQL against Postgres inside a read-only
// transaction with a per-statement timeout and a hard row cap.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Iriajul/LLM-model/internal/observability"
)

// ErrorKind classifies execution failures so the correction loop can tell
// the model what went wrong without leaking driver internals.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindSyntaxOrSemantic ErrorKind = "syntax_or_semantic"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindConnection       ErrorKind = "connection"
	KindCancelled        ErrorKind = "cancelled"
)

type ExecError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("query execution failed (%s): %s", e.Kind, e.Message)
}

// Result is the bounded outcome of one execution. Truncated reports that the
// row cap was hit and at least one further row existed.
type Result struct {
	Columns   []string
	Rows      [][]any
	RowCount  int
	Truncated bool
	Duration  time.Duration
}

type Config struct {
	StatementTimeout time.Duration
	RowLimit         int
}

type Executor struct {
	db      *sql.DB
	timeout time.Duration
	limit   int
}

func New(db *sql.DB, cfg Config) *Executor {
	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.RowLimit
	if limit <= 0 {
		limit = 500
	}
	return &Executor{db: db, timeout: timeout, limit: limit}
}

// Execute runs sqlText in a read-only transaction. The transaction is always
// rolled back; a SELECT has nothing to commit and rollback also discards any
// session state the statement may have touched.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return Result{}, &ExecError{Kind: KindSyntaxOrSemantic, Message: "sql is required"}
	}

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, classify(fmt.Errorf("begin read-only transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	timeoutSQL := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeoutSQL); err != nil {
		return Result{}, classify(fmt.Errorf("set statement timeout: %w", err))
	}

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, classify(fmt.Errorf("execute query: %w", err))
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, classify(fmt.Errorf("query columns: %w", err))
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if len(resultRows) >= e.limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, classify(fmt.Errorf("scan row: %w", err))
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, classify(fmt.Errorf("iterate rows: %w", err))
	}

	duration := time.Since(start)
	observability.ObserveExecutionLatency(duration)

	return Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
		Duration:  duration,
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.Format(time.RFC3339)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

// classify maps driver errors to an ExecError the correction prompt can use.
func classify(err error) *ExecError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := kindForCode(pgErr.Code)
		return &ExecError{Kind: kind, Code: pgErr.Code, Message: pgErr.Message}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExecError{Kind: KindTimeout, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return &ExecError{Kind: KindCancelled, Message: err.Error()}
	}
	return &ExecError{Kind: KindConnection, Message: err.Error()}
}

func kindForCode(code string) ErrorKind {
	switch {
	case code == "57014": // query_canceled, raised when statement_timeout fires
		return KindTimeout
	case code == "42501":
		return KindPermissionDenied
	case code == "25006": // read_only_sql_transaction
		return KindPermissionDenied
	case strings.HasPrefix(code, "42"):
		return KindSyntaxOrSemantic
	case strings.HasPrefix(code, "22"):
		return KindSyntaxOrSemantic
	case strings.HasPrefix(code, "08"):
		return KindConnection
	default:
		return KindSyntaxOrSemantic
	}
}
