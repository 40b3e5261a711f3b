package domain

import "time"

// QuarantineReason records why a pending row was diverted from staging.
type QuarantineReason string

const (
	QuarantineDuplicate QuarantineReason = "duplicate"
)

// QuarantineRecord is an audit copy of a pending row that matched an
// existing staging record. It is never merged back automatically.
type QuarantineRecord struct {
	ID                string           `json:"id"`
	Reason            QuarantineReason `json:"quarantine_reason"`
	OriginalStagingID string           `json:"original_staging_id"`
	JobID             *string          `json:"job_id,omitempty"`
	Fields            Fields           `json:"fields"`
	CreatedAt         time.Time        `json:"created_at"`
}
