package staging

import (
	"context"

	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/pkg/distlock"
)

// Source describes one pre-staging holding table.
type Source struct {
	Name      string // short label for logs and lock keys: "main", "other"
	Table     string
	PKColumn  string
	JobColumn string // empty when the table carries no job tag
}

// Scope selects which pending rows of a Source a batch consumes.
// JobID wins over Orphan; the zero Scope selects every row.
type Scope struct {
	JobID  string
	Orphan bool
}

// Identity is the slice of a staging row the identity index needs.
type Identity struct {
	StagingID string
	OriginKey string // empty for rows loaded outside the pipeline
	Emails    []string
}

// Store is the data access contract for the holding, staging and
// quarantine tables. No operation spans more than one table.
type Store interface {
	// FetchPending returns up to limit rows in primary key order.
	FetchPending(ctx context.Context, src Source, scope Scope, limit int) ([]domain.PendingRecord, error)
	// UpdatePending rewrites the data columns of one pending row.
	UpdatePending(ctx context.Context, src Source, id string, f domain.Fields) error
	// DeletePending removes exactly the given ids and returns how many rows went away.
	DeletePending(ctx context.Context, src Source, ids []string) (int, error)
	CountPending(ctx context.Context, src Source, scope Scope) (int, error)
	// InsertPending appends rows tagged with jobID.
	InsertPending(ctx context.Context, src Source, jobID string, rows []domain.Fields) error

	// ScanIdentities streams every staging row's id, origin key and emails.
	ScanIdentities(ctx context.Context, fn func(Identity) error) error
	// InsertStaging inserts a canonical row and returns its id.
	InsertStaging(ctx context.Context, originKey string, f domain.Fields) (string, error)

	// InsertQuarantine stores a duplicate. created is false when a row with
	// the same origin key was already quarantined.
	InsertQuarantine(ctx context.Context, originKey string, q *domain.QuarantineRecord) (created bool, err error)
	ListQuarantine(ctx context.Context, jobID string) ([]domain.QuarantineRecord, error)
}

// JobRepository persists the import job ledger.
type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.ImportJob) error
	// GetJob returns ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, id string) (*domain.ImportJob, error)
	// ListJobs returns jobs newest first plus the total count.
	ListJobs(ctx context.Context, limit, offset int) ([]domain.ImportJob, int, error)
	UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error
	// AddJobCounters adds batch deltas to the stored cumulative counters.
	AddJobCounters(ctx context.Context, id string, inserted, duplicates int) error
}

// Counter produces table row counts for the reconciliation report.
type Counter interface {
	ExactCount(ctx context.Context, table string) (int, error)
	// ProcedureCount asks a server-side function for the count.
	ProcedureCount(ctx context.Context, table string) (int, error)
}

// Locker hands out named batch guards. *distlock.Factory satisfies it.
type Locker interface {
	Lock(name string) distlock.DistLock
}

// Archiver stores a copy of a raw upload and returns its location.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) (string, error)
}

// OriginKey identifies the pending row a staging or quarantine row came from.
func OriginKey(src Source, pendingID string) string {
	return src.Table + ":" + pendingID
}
