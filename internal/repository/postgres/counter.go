package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Counter implements staging.Counter. The procedure is a SECURITY DEFINER
// function taking a table name, for roles that cannot read a table directly.
type Counter struct {
	db        *sql.DB
	procedure string
	hints     map[string]Hint
}

// NewCounter creates a counter that falls back to procedure.
func NewCounter(db *sql.DB, procedure string, hints map[string]Hint) *Counter {
	return &Counter{db: db, procedure: procedure, hints: hints}
}

func (c *Counter) ExactCount(ctx context.Context, table string) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteTable(table))).Scan(&n); err != nil {
		return 0, classify(err, table, "", c.hints)
	}
	return n, nil
}

func (c *Counter) ProcedureCount(ctx context.Context, table string) (int, error) {
	var n int64
	query := fmt.Sprintf(`SELECT %s($1)`, quoteTable(c.procedure))
	if err := c.db.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
		return 0, classify(err, table, "", c.hints)
	}
	return int(n), nil
}
