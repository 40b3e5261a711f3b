package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/service/staging"
)

// Tables names the canonical and quarantine tables the store writes to.
type Tables struct {
	Staging    string
	StagingPK  string
	Quarantine string
	Hints      map[string]Hint // keyed by table name
}

// StagingStore implements staging.Store against PostgreSQL. Table and key
// column names come from configuration and are always quoted.
type StagingStore struct {
	db     *sql.DB
	tables Tables
}

// NewStagingStore creates a Postgres-backed staging store.
func NewStagingStore(db *sql.DB, tables Tables) *StagingStore {
	return &StagingStore{db: db, tables: tables}
}

var dataColumns = func() []string {
	cols := make([]string, len(domain.Columns))
	for i, c := range domain.Columns {
		cols[i] = pq.QuoteIdentifier(c.DBName())
	}
	return cols
}()

var emailColumns = func() []string {
	cols := make([]string, len(domain.EmailColumns))
	for i, c := range domain.EmailColumns {
		cols[i] = pq.QuoteIdentifier(c.DBName())
	}
	return cols
}()

func (s *StagingStore) srcErr(err error, src staging.Source) error {
	return classify(err, src.Table, src.PKColumn, s.tables.Hints)
}

func (s *StagingStore) stagingErr(err error) error {
	return classify(err, s.tables.Staging, s.tables.StagingPK, s.tables.Hints)
}

// scopeFilter renders the WHERE clause for scope. Tables without a job
// column have no owner, so every row counts as an orphan.
func scopeFilter(src staging.Source, scope staging.Scope, arg int) (string, []any) {
	if src.JobColumn == "" {
		if scope.JobID != "" {
			return "FALSE", nil
		}
		return "TRUE", nil
	}
	col := pq.QuoteIdentifier(src.JobColumn)
	switch {
	case scope.JobID != "":
		return fmt.Sprintf("%s::text = $%d", col, arg), []any{scope.JobID}
	case scope.Orphan:
		return col + " IS NULL", nil
	default:
		return "TRUE", nil
	}
}

func jobSelect(src staging.Source) string {
	if src.JobColumn == "" {
		return "NULL::text"
	}
	return pq.QuoteIdentifier(src.JobColumn) + "::text"
}

func scanFields(vals []sql.NullString) domain.Fields {
	f := domain.NewFields()
	for i, c := range domain.Columns {
		if vals[i].Valid {
			f.Set(c, vals[i].String)
		}
	}
	return f
}

func fieldArgs(f domain.Fields) []any {
	args := make([]any, len(domain.Columns))
	for i, c := range domain.Columns {
		if f.Has(c) {
			args[i] = f.Get(c)
		}
	}
	return args
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

func (s *StagingStore) FetchPending(ctx context.Context, src staging.Source, scope staging.Scope, limit int) ([]domain.PendingRecord, error) {
	pk := pq.QuoteIdentifier(src.PKColumn)
	where, args := scopeFilter(src, scope, 1)
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s::text, %s, %s FROM %s WHERE %s ORDER BY %s LIMIT $%d`,
		pk, jobSelect(src), strings.Join(dataColumns, ", "), quoteTable(src.Table), where, pk, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.srcErr(err, src)
	}
	defer rows.Close()

	var out []domain.PendingRecord
	for rows.Next() {
		var (
			rec   domain.PendingRecord
			jobID sql.NullString
			vals  = make([]sql.NullString, len(domain.Columns))
		)
		dest := []any{&rec.ID, &jobID}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		if jobID.Valid {
			rec.JobID = &jobID.String
		}
		rec.Fields = scanFields(vals)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *StagingStore) UpdatePending(ctx context.Context, src staging.Source, id string, f domain.Fields) error {
	sets := make([]string, len(dataColumns))
	for i, c := range dataColumns {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	args := append(fieldArgs(f), id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s::text = $%d`,
		quoteTable(src.Table), strings.Join(sets, ", "), pq.QuoteIdentifier(src.PKColumn), len(args))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.srcErr(err, src)
	}
	return nil
}

func (s *StagingStore) DeletePending(ctx context.Context, src staging.Source, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s::text = ANY($1)`,
		quoteTable(src.Table), pq.QuoteIdentifier(src.PKColumn))
	res, err := s.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return 0, s.srcErr(err, src)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *StagingStore) CountPending(ctx context.Context, src staging.Source, scope staging.Scope) (int, error) {
	where, args := scopeFilter(src, scope, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, quoteTable(src.Table), where)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, s.srcErr(err, src)
	}
	return n, nil
}

// InsertPending writes rows with one multi-row INSERT.
func (s *StagingStore) InsertPending(ctx context.Context, src staging.Source, jobID string, rows []domain.Fields) error {
	if len(rows) == 0 {
		return nil
	}
	if src.JobColumn == "" {
		return staging.ErrJobColumnRequired
	}
	width := len(dataColumns) + 1
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*width)
	for i, f := range rows {
		values = append(values, "("+placeholders(i*width+1, width)+")")
		args = append(args, jobID)
		args = append(args, fieldArgs(f)...)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES %s`,
		quoteTable(src.Table), pq.QuoteIdentifier(src.JobColumn), strings.Join(dataColumns, ", "), strings.Join(values, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.srcErr(err, src)
	}
	return nil
}

func (s *StagingStore) ScanIdentities(ctx context.Context, fn func(staging.Identity) error) error {
	query := fmt.Sprintf(`SELECT %s::text, COALESCE(origin_key, ''), %s FROM %s`,
		pq.QuoteIdentifier(s.tables.StagingPK), strings.Join(emailColumns, ", "), quoteTable(s.tables.Staging))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return s.stagingErr(err)
	}
	defer rows.Close()

	vals := make([]sql.NullString, len(emailColumns))
	for rows.Next() {
		var ident staging.Identity
		dest := []any{&ident.StagingID, &ident.OriginKey}
		for i := range vals {
			vals[i] = sql.NullString{}
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan staging identity: %w", err)
		}
		for _, v := range vals {
			if v.Valid && v.String != "" {
				ident.Emails = append(ident.Emails, v.String)
			}
		}
		if err := fn(ident); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *StagingStore) InsertStaging(ctx context.Context, originKey string, f domain.Fields) (string, error) {
	args := append([]any{originKey}, fieldArgs(f)...)
	query := fmt.Sprintf(`INSERT INTO %s (origin_key, %s) VALUES (%s) RETURNING %s::text`,
		quoteTable(s.tables.Staging), strings.Join(dataColumns, ", "), placeholders(1, len(args)),
		pq.QuoteIdentifier(s.tables.StagingPK))

	var id string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", s.stagingErr(err)
	}
	return id, nil
}

func (s *StagingStore) InsertQuarantine(ctx context.Context, originKey string, q *domain.QuarantineRecord) (bool, error) {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	args := append([]any{q.ID, string(q.Reason), q.OriginalStagingID, q.JobID, originKey}, fieldArgs(q.Fields)...)
	query := fmt.Sprintf(`INSERT INTO %s (id, quarantine_reason, original_staging_id, import_job_id, origin_key, %s)
		VALUES (%s) ON CONFLICT (origin_key) DO NOTHING`,
		quoteTable(s.tables.Quarantine), strings.Join(dataColumns, ", "), placeholders(1, len(args)))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, classify(err, s.tables.Quarantine, "id", s.tables.Hints)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *StagingStore) ListQuarantine(ctx context.Context, jobID string) ([]domain.QuarantineRecord, error) {
	query := fmt.Sprintf(`SELECT id, quarantine_reason, original_staging_id, import_job_id, created_at, %s
		FROM %s WHERE import_job_id = $1 ORDER BY created_at, id`,
		strings.Join(dataColumns, ", "), quoteTable(s.tables.Quarantine))

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, classify(err, s.tables.Quarantine, "id", s.tables.Hints)
	}
	defer rows.Close()

	var out []domain.QuarantineRecord
	for rows.Next() {
		var (
			q      domain.QuarantineRecord
			reason string
			job    sql.NullString
			vals   = make([]sql.NullString, len(domain.Columns))
		)
		dest := []any{&q.ID, &reason, &q.OriginalStagingID, &job, &q.CreatedAt}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan quarantine row: %w", err)
		}
		q.Reason = domain.QuarantineReason(reason)
		if job.Valid {
			q.JobID = &job.String
		}
		q.Fields = scanFields(vals)
		out = append(out, q)
	}
	return out, rows.Err()
}
