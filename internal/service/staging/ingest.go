package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/fundbridge/merchant-staging/internal/datanorm"
	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/pkg/logger"
)

// ingestChunkSize is the number of rows per multi-row pre-staging insert.
const ingestChunkSize = 500

// Ingestor turns an uploaded CSV into an import job plus pending rows.
type Ingestor struct {
	store    Store
	ledger   *Ledger
	main     Source
	archiver Archiver
}

// NewIngestor creates an ingestor writing to the main pre-staging table.
// archiver may be nil.
func NewIngestor(store Store, ledger *Ledger, main Source, archiver Archiver) *Ingestor {
	return &Ingestor{store: store, ledger: ledger, main: main, archiver: archiver}
}

// Ingest maps and normalizes the CSV, records a pending job and loads its
// rows into pre-staging. If loading fails part way the job is marked failed
// and returned together with the error.
func (in *Ingestor) Ingest(ctx context.Context, filename string, r io.Reader) (*domain.ImportJob, error) {
	if in.main.JobColumn == "" {
		return nil, ErrJobColumnRequired
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	reader, err := datanorm.NewCSVReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse upload: %w", err)
	}

	job, err := in.ledger.Create(ctx, filename, len(rows))
	if err != nil {
		return nil, err
	}

	if in.archiver != nil {
		key := fmt.Sprintf("uploads/%s/%s", job.ID, path.Base(filename))
		if loc, err := in.archiver.Archive(ctx, key, raw); err != nil {
			logger.Warn("archive upload failed", "job_id", job.ID, "error", err.Error())
		} else {
			logger.Debug("upload archived", "job_id", job.ID, "location", loc)
		}
	}

	for start := 0; start < len(rows); start += ingestChunkSize {
		end := start + ingestChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := in.store.InsertPending(ctx, in.main, job.ID, rows[start:end]); err != nil {
			werr := &WriteError{Op: "insert pending rows", Err: err}
			if ferr := in.ledger.Fail(context.WithoutCancel(ctx), job, werr.Error()); ferr != nil {
				logger.Error("mark job failed", "job_id", job.ID, "error", ferr.Error())
			}
			return job, werr
		}
	}

	logger.Info("upload staged",
		"job_id", job.ID, "file", filename, "rows", len(rows),
		"unmapped_headers", len(reader.Mapping().Unmapped))
	return job, nil
}
