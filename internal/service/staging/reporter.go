package staging

import (
	"context"
	"time"

	"github.com/fundbridge/merchant-staging/internal/pkg/logger"
)

// Count methods reported in TableCount.Method.
const (
	CountExact     = "exact"
	CountProcedure = "procedure"
)

// TableCount is one table's row count, or the reason it is missing.
type TableCount struct {
	Table  string `json:"table"`
	Count  int    `json:"count"`
	Method string `json:"method,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report is the reconciliation view shown between batches.
type Report struct {
	PreStaging      TableCount  `json:"preStaging"`
	Staging         TableCount  `json:"staging"`
	Quarantine      TableCount  `json:"quarantine"`
	OtherPreStaging *TableCount `json:"otherPreStaging,omitempty"`
	GeneratedAt     time.Time   `json:"generatedAt"`
}

// Reporter produces best-effort row counts. Counts are display data only;
// nothing in the batch path branches on them.
type Reporter struct {
	counter Counter
	opts    Options
}

// NewReporter creates a reporter over the tables named in opts.
func NewReporter(counter Counter, opts Options) *Reporter {
	return &Reporter{counter: counter, opts: opts.withDefaults()}
}

// Count tries an exact count first, then the server-side procedure.
// A failure of both is reported in TableCount.Error, never returned.
func (r *Reporter) Count(ctx context.Context, table string) TableCount {
	tc := TableCount{Table: table}

	n, exactErr := r.counter.ExactCount(ctx, table)
	if exactErr == nil {
		tc.Count, tc.Method = n, CountExact
		return tc
	}
	if ctx.Err() != nil {
		tc.Error = ctx.Err().Error()
		return tc
	}

	n, procErr := r.counter.ProcedureCount(ctx, table)
	if procErr == nil {
		logger.Debug("exact count refused, used procedure", "table", table, "error", exactErr.Error())
		tc.Count, tc.Method = n, CountProcedure
		return tc
	}

	logger.Warn("row count unavailable", "table", table,
		"exact_error", exactErr.Error(), "procedure_error", procErr.Error())
	tc.Error = procErr.Error()
	return tc
}

// Reconcile counts the pending, staging and quarantine tables, plus the
// other pending table when one is configured.
func (r *Reporter) Reconcile(ctx context.Context) *Report {
	rep := &Report{
		PreStaging:  r.Count(ctx, r.opts.Main.Table),
		Staging:     r.Count(ctx, r.opts.StagingTable),
		Quarantine:  r.Count(ctx, r.opts.QuarantineTable),
		GeneratedAt: time.Now().UTC(),
	}
	if r.opts.Other != nil {
		tc := r.Count(ctx, r.opts.Other.Table)
		rep.OtherPreStaging = &tc
	}
	return rep
}
