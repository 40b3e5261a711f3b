package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/fundbridge/merchant-staging/internal/domain"
)

// Postgres error codes that point at configuration rather than data.
const (
	codeUndefinedTable    = "42P01"
	codeUndefinedColumn   = "42703"
	codeUndefinedFunction = "42883"
	codeInsufficientPriv  = "42501"
)

// Hint names the settings that control one table, quoted back to the
// operator when the table or its key column is missing.
type Hint struct {
	TableSetting  string
	ColumnSetting string
}

// classify turns configuration-shaped Postgres errors into *domain.ConfigError
// and leaves everything else untouched.
func classify(err error, table, pkColumn string, hints map[string]Hint) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	h := hints[table]

	switch pqErr.Code {
	case codeUndefinedTable:
		hint := "table not found; run migrations"
		if h.TableSetting != "" {
			hint = fmt.Sprintf("table not found; set %s to an existing table", h.TableSetting)
		}
		return &domain.ConfigError{Table: table, Hint: hint, Err: err}

	case codeUndefinedColumn:
		col := quotedName(pqErr.Message)
		hint := "column not found; run migrations to add it"
		if col == pkColumn && h.ColumnSetting != "" {
			hint = fmt.Sprintf("primary key column not found; set %s to the column-name override", h.ColumnSetting)
		}
		return &domain.ConfigError{Table: table, Column: col, Hint: hint, Err: err}

	case codeUndefinedFunction:
		return &domain.ConfigError{Table: table, Hint: "count procedure missing; run migrations", Err: err}

	case codeInsufficientPriv:
		return &domain.ConfigError{Table: table, Hint: "permission denied; grant the service role access to this table", Err: err}
	}
	return err
}

// quotedName extracts the first double-quoted name from a Postgres message
// such as `column "email_12" does not exist`.
func quotedName(msg string) string {
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '"')
	if end < 0 {
		return ""
	}
	name := msg[start+1 : start+1+end]
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// quoteTable quotes a possibly schema-qualified table name.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
