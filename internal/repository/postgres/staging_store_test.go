package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/service/staging"
)

var (
	mainSrc  = staging.Source{Name: "main", Table: "pre_staging", PKColumn: "id", JobColumn: "import_job_id"}
	otherSrc = staging.Source{Name: "other", Table: "legacy.pre_staging_b", PKColumn: "row_id"}
	hints    = map[string]Hint{
		"pre_staging": {TableSetting: "PRE_STAGING_TABLE", ColumnSetting: "PRE_STAGING_PK_COLUMN"},
		"staging":     {TableSetting: "STAGING_TABLE", ColumnSetting: "STAGING_PK_COLUMN"},
	}
)

func setupStore(t *testing.T) (*StagingStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStagingStore(db, Tables{
		Staging:    "staging",
		StagingPK:  "id",
		Quarantine: "staging_quarantine",
		Hints:      hints,
	}), mock
}

// pendingRow returns scan values: id, job id, then every data column.
func pendingRow(id string, jobID any, set map[domain.Column]string) []driver.Value {
	vals := []driver.Value{id, jobID}
	for _, c := range domain.Columns {
		if v, ok := set[c]; ok {
			vals = append(vals, v)
		} else {
			vals = append(vals, nil)
		}
	}
	return vals
}

func pendingColumns() []string {
	cols := []string{"id", "import_job_id"}
	for _, c := range domain.Columns {
		cols = append(cols, c.DBName())
	}
	return cols
}

func TestFetchPending_JobScope(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT "id"::text, "import_job_id"::text, "first_name", .*"email_11" FROM "pre_staging" WHERE "import_job_id"::text = \$1 ORDER BY "id" LIMIT \$2`).
		WithArgs("job-1", 2).
		WillReturnRows(sqlmock.NewRows(pendingColumns()).
			AddRow(pendingRow("7", "job-1", map[domain.Column]string{domain.ColEmail1: "a@x.com"})...).
			AddRow(pendingRow("9", "job-1", map[domain.Column]string{domain.ColSSN: "123456789"})...))

	recs, err := store.FetchPending(context.Background(), mainSrc, staging.Scope{JobID: "job-1"}, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "7", recs[0].ID)
	require.NotNil(t, recs[0].JobID)
	assert.Equal(t, "job-1", *recs[0].JobID)
	assert.Equal(t, "a@x.com", recs[0].Fields.Get(domain.ColEmail1))
	assert.False(t, recs[0].Fields.Has(domain.ColSSN))
	assert.Len(t, recs[1].Fields, len(domain.Columns))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPending_TableWithoutJobColumn(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT "row_id"::text, NULL::text, .* FROM "legacy"."pre_staging_b" WHERE TRUE ORDER BY "row_id" LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(pendingColumns()).
			AddRow(pendingRow("1", nil, nil)...))

	recs, err := store.FetchPending(context.Background(), otherSrc, staging.Scope{Orphan: true}, 50)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPending_MissingPKColumn(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT "id"::text`).
		WillReturnError(&pq.Error{Code: "42703", Message: `column "id" does not exist`})

	_, err := store.FetchPending(context.Background(), mainSrc, staging.Scope{Orphan: true}, 10)
	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, "pre_staging", cfgErr.Table)
	assert.Equal(t, "id", cfgErr.Column)
	assert.Contains(t, cfgErr.Error(), "primary key column not found; set PRE_STAGING_PK_COLUMN")
}

func TestUpdatePending(t *testing.T) {
	store, mock := setupStore(t)
	f := domain.NewFields()
	f.Set(domain.ColSSN, "123-45-6789")

	args := make([]driver.Value, 0, len(domain.Columns)+1)
	for _, c := range domain.Columns {
		if c == domain.ColSSN {
			args = append(args, "123-45-6789")
		} else {
			args = append(args, nil)
		}
	}
	args = append(args, "7")

	mock.ExpectExec(`UPDATE "pre_staging" SET "first_name" = \$1, .* WHERE "id"::text = \$28`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdatePending(context.Background(), mainSrc, "7", f))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePending_ExactIDs(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectExec(`DELETE FROM "pre_staging" WHERE "id"::text = ANY\(\$1\)`).
		WithArgs(pq.Array([]string{"7", "9"})).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.DeletePending(context.Background(), mainSrc, []string{"7", "9"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeletePending(context.Background(), mainSrc, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPending(t *testing.T) {
	store, mock := setupStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "pre_staging" WHERE "import_job_id" IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "pre_staging" WHERE`).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "pre_staging" does not exist`})

	n, err := store.CountPending(context.Background(), mainSrc, staging.Scope{Orphan: true})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = store.CountPending(context.Background(), mainSrc, staging.Scope{})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "table not found; set PRE_STAGING_TABLE to an existing table", cfgErr.Hint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPending_MultiRow(t *testing.T) {
	store, mock := setupStore(t)
	a, b := domain.NewFields(), domain.NewFields()
	a.Set(domain.ColEmail1, "a@x.com")
	b.Set(domain.ColEmail1, "b@x.com")

	mock.ExpectExec(`INSERT INTO "pre_staging" \("import_job_id", "first_name", .*\) VALUES \(\$1, .*\$28\), \(\$29, .*\$56\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.InsertPending(context.Background(), mainSrc, "job-1", []domain.Fields{a, b}))
	assert.ErrorIs(t, store.InsertPending(context.Background(), otherSrc, "job-1", []domain.Fields{a}), staging.ErrJobColumnRequired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanIdentities(t *testing.T) {
	store, mock := setupStore(t)

	cols := []string{"id", "origin_key"}
	for _, c := range domain.EmailColumns {
		cols = append(cols, c.DBName())
	}
	row1 := []driver.Value{"s1", "pre_staging:3", "a@x.com", nil, nil, nil, nil, nil, nil, nil, nil, nil, "z@x.com"}
	row2 := []driver.Value{"s2", "", nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil}

	mock.ExpectQuery(`SELECT "id"::text, COALESCE\(origin_key, ''\), "email_1", .* FROM "staging"`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(row1...).AddRow(row2...))

	var got []staging.Identity
	err := store.ScanIdentities(context.Background(), func(id staging.Identity) error {
		got = append(got, id)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, staging.Identity{StagingID: "s1", OriginKey: "pre_staging:3", Emails: []string{"a@x.com", "z@x.com"}}, got[0])
	assert.Empty(t, got[1].Emails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStaging(t *testing.T) {
	store, mock := setupStore(t)
	f := domain.NewFields()
	f.Set(domain.ColEmail1, "a@x.com")

	mock.ExpectQuery(`INSERT INTO "staging" \(origin_key, "first_name", .*\) VALUES \(\$1, .*\) RETURNING "id"::text`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("101"))

	id, err := store.InsertStaging(context.Background(), "pre_staging:7", f)
	require.NoError(t, err)
	assert.Equal(t, "101", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertQuarantine_Idempotent(t *testing.T) {
	store, mock := setupStore(t)
	jobID := "job-1"
	q := &domain.QuarantineRecord{Reason: domain.QuarantineDuplicate, OriginalStagingID: "101", JobID: &jobID, Fields: domain.NewFields()}

	mock.ExpectExec(`INSERT INTO "staging_quarantine" .* ON CONFLICT \(origin_key\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "staging_quarantine"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := store.InsertQuarantine(context.Background(), "pre_staging:8", q)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, q.ID)

	created, err = store.InsertQuarantine(context.Background(), "pre_staging:8", q)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListQuarantine(t *testing.T) {
	store, mock := setupStore(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	cols := []string{"id", "quarantine_reason", "original_staging_id", "import_job_id", "created_at"}
	vals := []driver.Value{"q1", "duplicate", "101", "job-1", now}
	for _, c := range domain.Columns {
		cols = append(cols, c.DBName())
		if c == domain.ColEmail2 {
			vals = append(vals, "a@x.com")
		} else {
			vals = append(vals, nil)
		}
	}

	mock.ExpectQuery(`SELECT id, quarantine_reason, original_staging_id, import_job_id, created_at, .* FROM "staging_quarantine" WHERE import_job_id = \$1`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(vals...))

	out, err := store.ListQuarantine(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.QuarantineDuplicate, out[0].Reason)
	assert.Equal(t, "101", out[0].OriginalStagingID)
	assert.Equal(t, "a@x.com", out[0].Fields.Get(domain.ColEmail2))
	assert.True(t, out[0].CreatedAt.Equal(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	plain := errors.New("connection reset by peer")
	assert.Same(t, plain, classify(plain, "pre_staging", "id", hints))

	err := classify(&pq.Error{Code: "42703", Message: `column "email_12" does not exist`}, "staging", "id", hints)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "email_12", cfgErr.Column)
	assert.Equal(t, "column not found; run migrations to add it", cfgErr.Hint)

	err = classify(&pq.Error{Code: "42501", Message: "permission denied for table staging"}, "staging", "id", hints)
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Hint, "permission denied")

	unique := &pq.Error{Code: "23505", Message: "duplicate key"}
	assert.Equal(t, error(unique), classify(unique, "staging", "id", hints))
}

func TestQuotedName(t *testing.T) {
	assert.Equal(t, "row_id", quotedName(`column "row_id" does not exist`))
	assert.Equal(t, "id", quotedName(`column "p.id" does not exist`))
	assert.Equal(t, "", quotedName("no quotes here"))
}
