package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/famledger/famledger/internal/observability"
)

type ExecutorConfig struct {
	// StatementTimeout bounds each validated statement server-side.
	StatementTimeout time.Duration
	// MaxRows is a backstop above the validator's LIMIT injection; exceeding
	// it fails the query rather than returning a truncated result.
	MaxRows int
}

// Executor runs validated gateway statements in a read-only transaction.
// The read-only mode is defense in depth: the safety gate has already
// rejected anything that is not a single SELECT.
type Executor struct {
	db               *sql.DB
	statementTimeout time.Duration
	maxRows          int
}

func NewExecutor(db *sql.DB, cfg ExecutorConfig) *Executor {
	timeout := cfg.StatementTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Executor{db: db, statementTimeout: timeout, maxRows: maxRows}
}

func (e *Executor) Execute(ctx context.Context, sqlText string) ([]string, [][]any, error) {
	start := time.Now()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// SET does not accept bind parameters; the value is our own config, not
	// request input.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTimeout.Milliseconds())); err != nil {
		return nil, nil, fmt.Errorf("set statement timeout: %w", err)
	}

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	results := make([][]any, 0)
	for rows.Next() {
		if len(results) >= e.maxRows {
			return nil, nil, fmt.Errorf("result exceeds row cap of %d", e.maxRows)
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate result rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit read-only tx: %w", err)
	}

	observability.ObserveQueryExecution(time.Since(start))
	return columns, results, nil
}
