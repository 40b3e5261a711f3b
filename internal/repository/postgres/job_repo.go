package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/service/staging"
)

// JobRepo implements staging.JobRepository against PostgreSQL.
type JobRepo struct {
	db    *sql.DB
	table string
}

// NewJobRepo creates a Postgres-backed import job ledger.
func NewJobRepo(db *sql.DB, table string) *JobRepo {
	return &JobRepo{db: db, table: quoteTable(table)}
}

const jobColumns = `id, source_filename, original_row_count, duplicate_count, inserted_count,
	status, COALESCE(error_message, ''), created_at, updated_at`

func (r *JobRepo) CreateJob(ctx context.Context, job *domain.ImportJob) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source_filename, original_row_count, duplicate_count, inserted_count,
			status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`, r.table),
		job.ID, job.SourceFilename, job.OriginalRowCount, job.DuplicateCount, job.InsertedCount,
		string(job.Status), job.ErrorMessage, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.ImportJob, error) {
	var (
		j      domain.ImportJob
		status string
	)
	if err := row.Scan(&j.ID, &j.SourceFilename, &j.OriginalRowCount, &j.DuplicateCount, &j.InsertedCount,
		&status, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := domain.ParseJobStatus(status)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.ID, err)
	}
	j.Status = st
	return &j, nil
}

func (r *JobRepo) GetJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id::text = $1`, jobColumns, r.table), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, staging.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return job, nil
}

func (r *JobRepo) ListJobs(ctx context.Context, limit, offset int) ([]domain.ImportJob, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count import jobs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, jobColumns, r.table), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list import jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan import job: %w", err)
		}
		out = append(out, *job)
	}
	return out, total, rows.Err()
}

func (r *JobRepo) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = $2, error_message = NULLIF($3, ''), updated_at = NOW()
		WHERE id::text = $1`, r.table), id, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("update import job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return staging.ErrJobNotFound
	}
	return nil
}

func (r *JobRepo) AddJobCounters(ctx context.Context, id string, inserted, duplicates int) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET inserted_count = inserted_count + $2,
			duplicate_count = duplicate_count + $3, updated_at = NOW()
		WHERE id::text = $1`, r.table), id, inserted, duplicates)
	if err != nil {
		return fmt.Errorf("update import job counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return staging.ErrJobNotFound
	}
	return nil
}
