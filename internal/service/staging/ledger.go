package staging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fundbridge/merchant-staging/internal/domain"
)

// Ledger is the service side of the import job ledger. Every status change
// goes through domain.ImportJob.Transition, so illegal moves never reach
// the repository.
type Ledger struct {
	repo JobRepository
	now  func() time.Time
}

// NewLedger creates a ledger backed by repo.
func NewLedger(repo JobRepository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Create records a new pending job for an upload.
func (l *Ledger) Create(ctx context.Context, filename string, rows int) (*domain.ImportJob, error) {
	now := l.now().UTC()
	job := &domain.ImportJob{
		ID:               uuid.New().String(),
		SourceFilename:   filename,
		OriginalRowCount: rows,
		Status:           domain.JobPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create import job: %w", err)
	}
	return job, nil
}

// Get returns one job or ErrJobNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*domain.ImportJob, error) {
	return l.repo.GetJob(ctx, id)
}

// List returns jobs newest first. limit <= 0 means 50.
func (l *Ledger) List(ctx context.Context, limit, offset int) ([]domain.ImportJob, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return l.repo.ListJobs(ctx, limit, offset)
}

// Transition validates and persists a status change. errMsg is stored as
// the job's error message and cleared when empty.
func (l *Ledger) Transition(ctx context.Context, job *domain.ImportJob, next domain.JobStatus, errMsg string) error {
	prev := job.Status
	if err := job.Transition(next); err != nil {
		return err
	}
	if err := l.repo.UpdateJobStatus(ctx, job.ID, next, errMsg); err != nil {
		job.Status = prev
		return &WriteError{Op: "update job status", Err: err}
	}
	job.ErrorMessage = errMsg
	job.UpdatedAt = l.now().UTC()
	return nil
}

// Fail marks the job failed, passing through processing when the job has
// not been picked up yet.
func (l *Ledger) Fail(ctx context.Context, job *domain.ImportJob, errMsg string) error {
	if job.Status != domain.JobProcessing {
		if err := l.Transition(ctx, job, domain.JobProcessing, ""); err != nil {
			return err
		}
	}
	return l.Transition(ctx, job, domain.JobFailed, errMsg)
}

// AddCounters accumulates one batch's deltas onto the job.
func (l *Ledger) AddCounters(ctx context.Context, job *domain.ImportJob, inserted, duplicates int) error {
	if inserted == 0 && duplicates == 0 {
		return nil
	}
	if err := l.repo.AddJobCounters(ctx, job.ID, inserted, duplicates); err != nil {
		return &WriteError{Op: "update job counters", Err: err}
	}
	job.InsertedCount += inserted
	job.DuplicateCount += duplicates
	return nil
}
