package domain

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an ImportJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobProcessed  JobStatus = "processed"
	JobFailed     JobStatus = "failed"
)

// ErrIllegalTransition is returned when a status change is not allowed.
var ErrIllegalTransition = errors.New("illegal job status transition")

// jobTransitions lists the legal next states for each status.
// failed -> processing is an operator retry; processed -> processing happens
// when new rows show up for a job that had already drained.
var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:    {JobProcessing},
	JobProcessing: {JobPending, JobProcessed, JobFailed},
	JobFailed:     {JobProcessing},
	JobProcessed:  {JobProcessing},
}

// ParseJobStatus converts a stored status string into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if _, ok := jobTransitions[st]; !ok {
		return "", fmt.Errorf("unknown job status %q", s)
	}
	return st, nil
}

// CanTransition reports whether moving from s to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ImportJob is the ledger entry for one CSV upload. It is never deleted.
type ImportJob struct {
	ID               string    `json:"id"`
	SourceFilename   string    `json:"source_filename"`
	OriginalRowCount int       `json:"original_row_count"`
	DuplicateCount   int       `json:"duplicate_count"`
	InsertedCount    int       `json:"inserted_count"`
	Status           JobStatus `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Transition moves the job to next, or returns ErrIllegalTransition.
func (j *ImportJob) Transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

// BatchResult is returned after every batch invocation. Counts are this
// batch's deltas except the *CountAfter / Remaining fields, which are
// snapshots taken after the batch.
type BatchResult struct {
	Success                   bool   `json:"success"`
	Error                     string `json:"error,omitempty"`
	DupCount                  int    `json:"dupCount"`
	InsertedCount             int    `json:"insertedCount"`
	StagingCountAfter         int    `json:"stagingCountAfter"`
	HasMore                   bool   `json:"hasMore"`
	PreStagingRemaining       int    `json:"preStagingRemaining"`
	PreStagingCountAfter      int    `json:"preStagingCountAfter"`
	OtherPreStagingCountAfter *int   `json:"otherPreStagingCountAfter,omitempty"`
}
