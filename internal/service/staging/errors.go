package staging

import (
	"errors"

	"github.com/fundbridge/merchant-staging/internal/datanorm"
)

// Sentinel errors for the staging service layer.
var (
	ErrJobNotFound         = errors.New("import job not found")
	ErrBatchInProgress     = errors.New("a batch is already running for this source")
	ErrOtherNotConfigured  = errors.New("other pre-staging table is not configured")
	ErrJobColumnRequired   = errors.New("pre-staging table has no job column configured")
	ErrEmptyFile           = datanorm.ErrEmptyFile
	ErrNoRecognizedColumns = datanorm.ErrNoRecognizedHeader
)

// WriteError names the store operation that failed during a batch.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }
