package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/pkg/httputil"
	"github.com/fundbridge/merchant-staging/internal/service/staging"
)

// BatchRunner runs one bounded batch per call.
type BatchRunner interface {
	RunJobBatch(ctx context.Context, jobID string, size int) (*domain.BatchResult, error)
	RunCombined(ctx context.Context, jobID string, size int) (*domain.BatchResult, error)
	RunOrphanBatch(ctx context.Context, size int) (*domain.BatchResult, error)
	RunOtherBatch(ctx context.Context, size int) (*domain.BatchResult, error)
}

// JobReader reads the import job ledger.
type JobReader interface {
	Get(ctx context.Context, id string) (*domain.ImportJob, error)
	List(ctx context.Context, limit, offset int) ([]domain.ImportJob, int, error)
}

// Uploader turns an uploaded CSV into an import job with pending rows.
type Uploader interface {
	Ingest(ctx context.Context, filename string, r io.Reader) (*domain.ImportJob, error)
}

// Reconciler reports table sizes for the progress display.
type Reconciler interface {
	Reconcile(ctx context.Context) *staging.Report
}

// QuarantineExporter streams a job's quarantined rows.
type QuarantineExporter interface {
	WriteCSV(ctx context.Context, jobID string, w io.Writer) (int, error)
	WriteXLSX(ctx context.Context, jobID string, w io.Writer) (int, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps groups the services the handlers call.
type Deps struct {
	Batches     BatchRunner
	Jobs        JobReader
	Uploads     Uploader
	Counts      Reconciler
	Quarantine  QuarantineExporter
	DB          Pinger
	MaxUploadMB int
}

// Handlers contains all HTTP handlers
type Handlers struct {
	batches    BatchRunner
	jobs       JobReader
	uploads    Uploader
	counts     Reconciler
	quarantine QuarantineExporter
	db         Pinger
	maxUpload  int64
	startedAt  time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d Deps) *Handlers {
	maxMB := d.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 100
	}
	return &Handlers{
		batches:    d.Batches,
		jobs:       d.Jobs,
		uploads:    d.Uploads,
		counts:     d.Counts,
		quarantine: d.Quarantine,
		db:         d.DB,
		maxUpload:  int64(maxMB) << 20,
		startedAt:  time.Now(),
	}
}

// HealthCheck returns the health status of the API
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	resp := map[string]interface{}{
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			resp["database"] = sanitizedError(code, err, "database unreachable")
		} else {
			resp["database"] = "ok"
		}
	}

	resp["status"] = status
	httputil.JSON(w, code, resp)
}
