package api

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/pkg/httputil"
	"github.com/fundbridge/merchant-staging/internal/pkg/logger"
	"github.com/fundbridge/merchant-staging/internal/service/staging"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// HandleUpload accepts a multipart CSV under the "file" field.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.Error(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d MB", h.maxUpload>>20))
			return
		}
		httputil.BadRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	job, err := h.uploads.Ingest(r.Context(), filename, file)
	if err != nil {
		var parseErr *csv.ParseError
		switch {
		case errors.Is(err, staging.ErrEmptyFile),
			errors.Is(err, staging.ErrNoRecognizedColumns),
			errors.As(err, &parseErr):
			httputil.ErrorCode(w, http.StatusBadRequest, "invalid_csv", err.Error())
		case job != nil:
			// Rows may be partially loaded; the job id lets the operator find it.
			logger.Error("upload failed", "job_id", job.ID, "error", err.Error())
			httputil.JSON(w, http.StatusInternalServerError, httputil.ErrorResponse{
				Error:   safeErrorMessage(http.StatusInternalServerError, err),
				Code:    "upload_failed",
				Details: job,
			})
		default:
			respondSafeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	httputil.Created(w, job)
}

// HandleListJobs lists import jobs newest first.
func (h *Handlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", 50)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := h.jobs.List(r.Context(), limit, offset)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []domain.ImportJob{}
	}
	httputil.OK(w, map[string]interface{}{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleGetJob returns one import job.
func (h *Handlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, staging.ErrJobNotFound) {
		httputil.NotFound(w, "import job not found")
		return
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.OK(w, job)
}

// HandleJobBatch runs the next batch for one job.
func (h *Handlers) HandleJobBatch(w http.ResponseWriter, r *http.Request) {
	size, ok := batchSize(w, r)
	if !ok {
		return
	}
	res, err := h.batches.RunJobBatch(r.Context(), chi.URLParam(r, "jobID"), size)
	respondBatch(w, res, err)
}

// HandleCombinedBatch runs the job batch followed by the other-table batch.
func (h *Handlers) HandleCombinedBatch(w http.ResponseWriter, r *http.Request) {
	size, ok := batchSize(w, r)
	if !ok {
		return
	}
	res, err := h.batches.RunCombined(r.Context(), chi.URLParam(r, "jobID"), size)
	respondBatch(w, res, err)
}

// HandleOrphanBatch sweeps pre-staging rows that have no job.
func (h *Handlers) HandleOrphanBatch(w http.ResponseWriter, r *http.Request) {
	size, ok := batchSize(w, r)
	if !ok {
		return
	}
	res, err := h.batches.RunOrphanBatch(r.Context(), size)
	respondBatch(w, res, err)
}

// HandleOtherBatch processes the other pre-staging table.
func (h *Handlers) HandleOtherBatch(w http.ResponseWriter, r *http.Request) {
	size, ok := batchSize(w, r)
	if !ok {
		return
	}
	res, err := h.batches.RunOtherBatch(r.Context(), size)
	respondBatch(w, res, err)
}

// HandleCounts returns the reconciliation report.
func (h *Handlers) HandleCounts(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.counts.Reconcile(r.Context()))
}

// HandleQuarantineCSV downloads a job's quarantined rows as CSV.
func (h *Handlers) HandleQuarantineCSV(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.requireJob(w, r, jobID) {
		return
	}
	var buf bytes.Buffer
	if _, err := h.quarantine.WriteCSV(r.Context(), jobID, &buf); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.Attachment(w, contentTypeCSV, "quarantine-"+jobID+".csv")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// HandleQuarantineXLSX downloads a job's quarantined rows as a workbook.
func (h *Handlers) HandleQuarantineXLSX(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !h.requireJob(w, r, jobID) {
		return
	}
	var buf bytes.Buffer
	if _, err := h.quarantine.WriteXLSX(r.Context(), jobID, &buf); err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return
	}
	httputil.Attachment(w, contentTypeXLSX, "quarantine-"+jobID+".xlsx")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// requireJob writes a 404 and returns false when jobID names no import job.
func (h *Handlers) requireJob(w http.ResponseWriter, r *http.Request, jobID string) bool {
	_, err := h.jobs.Get(r.Context(), jobID)
	if errors.Is(err, staging.ErrJobNotFound) {
		httputil.NotFound(w, "import job not found")
		return false
	}
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err)
		return false
	}
	return true
}

func batchSize(w http.ResponseWriter, r *http.Request) (int, bool) {
	size, err := httputil.QueryInt(r, "size", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return 0, false
	}
	if size < 0 {
		httputil.BadRequest(w, "size must not be negative")
		return 0, false
	}
	return size, true
}

// respondBatch always returns the batch envelope so the console can show
// the failing operation and hint.
func respondBatch(w http.ResponseWriter, res *domain.BatchResult, err error) {
	if res == nil {
		res = &domain.BatchResult{Success: err == nil}
		if err != nil {
			res.Error = err.Error()
		}
	}
	httputil.JSON(w, batchStatus(err), res)
}
