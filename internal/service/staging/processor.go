package staging

import (
	"context"
	"fmt"

	"github.com/fundbridge/merchant-staging/internal/datanorm"
	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/pkg/logger"
)

// Batch size bounds applied when Options leaves them unset.
const (
	DefaultBatchSize = 1000
	MaxBatchSize     = 5000
)

// Options names the tables a Processor works on and bounds its batches.
type Options struct {
	Main             Source
	Other            *Source // nil disables the other-table variant
	StagingTable     string
	QuarantineTable  string
	DefaultBatchSize int
	MaxBatchSize     int
}

func (o Options) withDefaults() Options {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = MaxBatchSize
	}
	if o.DefaultBatchSize <= 0 {
		o.DefaultBatchSize = DefaultBatchSize
	}
	if o.DefaultBatchSize > o.MaxBatchSize {
		o.DefaultBatchSize = o.MaxBatchSize
	}
	if o.Main.Name == "" {
		o.Main.Name = "main"
	}
	if o.Other != nil {
		other := *o.Other
		if other.Name == "" {
			other.Name = "other"
		}
		o.Other = &other
	}
	return o
}

// Processor runs one bounded batch per call. Calls are synchronous and
// records inside a batch are routed strictly in fetch order.
type Processor struct {
	store    Store
	ledger   *Ledger
	reporter *Reporter
	locks    Locker
	opts     Options
}

// NewProcessor wires a processor. The batch guard is off until WithLocker.
func NewProcessor(store Store, ledger *Ledger, reporter *Reporter, opts Options) *Processor {
	return &Processor{
		store:    store,
		ledger:   ledger,
		reporter: reporter,
		opts:     opts.withDefaults(),
	}
}

// WithLocker rejects a second concurrent batch on the same source.
func (p *Processor) WithLocker(l Locker) *Processor {
	p.locks = l
	return p
}

// BatchSize resolves an operator-requested size: non-positive means the
// default, anything above the ceiling is clamped.
func (p *Processor) BatchSize(requested int) int {
	switch {
	case requested <= 0:
		return p.opts.DefaultBatchSize
	case requested > p.opts.MaxBatchSize:
		return p.opts.MaxBatchSize
	default:
		return requested
	}
}

// RunJobBatch processes the next batch of rows owned by jobID. The result
// is always non-nil; err repeats the failure for callers that branch on it.
func (p *Processor) RunJobBatch(ctx context.Context, jobID string, size int) (*domain.BatchResult, error) {
	res, _, err := p.runJob(ctx, jobID, size)
	return res, err
}

// runJob reports drained=true when the job was already processed with no
// pending rows; the result then carries the stored cumulative counters
// rather than this call's deltas.
func (p *Processor) runJob(ctx context.Context, jobID string, size int) (res *domain.BatchResult, drained bool, err error) {
	size = p.BatchSize(size)
	src := p.opts.Main
	scope := Scope{JobID: jobID}

	job, err := p.ledger.Get(ctx, jobID)
	if err != nil {
		return failure(err), false, err
	}

	if job.Status == domain.JobProcessed {
		remaining, err := p.store.CountPending(ctx, src, scope)
		if err != nil {
			return failure(err), false, err
		}
		if remaining == 0 {
			res = &domain.BatchResult{
				Success:       true,
				DupCount:      job.DuplicateCount,
				InsertedCount: job.InsertedCount,
			}
			p.snapshot(ctx, res, false)
			return res, true, nil
		}
	}

	release, err := p.guard(ctx, src)
	if err != nil {
		return failure(err), false, err
	}
	defer release()

	if job.Status == domain.JobProcessing {
		logger.Warn("job left in processing by an earlier run, resuming", "job_id", job.ID)
		if err := p.ledger.Transition(ctx, job, domain.JobPending, ""); err != nil {
			return failure(err), false, err
		}
	}
	if err := p.ledger.Transition(ctx, job, domain.JobProcessing, ""); err != nil {
		return failure(err), false, err
	}

	out, runErr := p.runBatch(ctx, src, scope, size)
	if err := p.ledger.AddCounters(ctx, job, out.inserted, out.dups); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			logger.Error("record partial counters", "job_id", job.ID, "error", err.Error())
		}
	}
	if runErr != nil {
		return p.failJob(ctx, job, src, scope, out, runErr), false, runErr
	}

	res = &domain.BatchResult{
		Success:       true,
		DupCount:      out.dups,
		InsertedCount: out.inserted,
	}

	if out.fetched == 0 {
		if err := p.ledger.Transition(ctx, job, domain.JobProcessed, ""); err != nil {
			return failure(err), false, err
		}
		p.snapshot(ctx, res, false)
		return res, false, nil
	}

	remaining, err := p.store.CountPending(ctx, src, scope)
	if err != nil {
		// Rows were routed and deleted; leave the job resumable.
		if terr := p.ledger.Transition(ctx, job, domain.JobPending, err.Error()); terr != nil {
			logger.Error("reset job to pending", "job_id", job.ID, "error", terr.Error())
		}
		res.Success = false
		res.Error = fmt.Sprintf("count remaining rows: %v", err)
		res.HasMore = true
		p.snapshot(ctx, res, false)
		return res, false, err
	}

	next := domain.JobPending
	if remaining == 0 {
		next = domain.JobProcessed
	}
	if err := p.ledger.Transition(ctx, job, next, ""); err != nil {
		res.Success = false
		res.Error = err.Error()
		res.HasMore = true
		return res, false, err
	}

	res.PreStagingRemaining = remaining
	res.HasMore = remaining > 0
	p.snapshot(ctx, res, false)

	logger.Info("batch complete",
		"job_id", job.ID, "source", src.Name,
		"fetched", out.fetched, "inserted", out.inserted, "duplicates", out.dups,
		"resumed", out.resumed, "remaining", remaining)
	return res, false, nil
}

type batchOutcome struct {
	fetched  int
	inserted int
	dups     int
	resumed  int // rows a failed earlier run had already routed
}

// runBatch is the shared algorithm behind every variant: fetch, normalize
// in place, index staging, route in order, delete the consumed ids.
func (p *Processor) runBatch(ctx context.Context, src Source, scope Scope, size int) (batchOutcome, error) {
	var out batchOutcome

	pending, err := p.store.FetchPending(ctx, src, scope, size)
	if err != nil {
		return out, fmt.Errorf("fetch pending rows from %s: %w", src.Table, err)
	}
	out.fetched = len(pending)
	if len(pending) == 0 {
		return out, nil
	}

	for i := range pending {
		norm := datanorm.NormalizeFields(pending[i].Fields)
		if !norm.Equal(pending[i].Fields) {
			if err := p.store.UpdatePending(ctx, src, pending[i].ID, norm); err != nil {
				return out, &WriteError{Op: "normalize write-back", Err: err}
			}
		}
		pending[i].Fields = norm
	}

	idx, err := BuildIdentityIndex(ctx, p.store)
	if err != nil {
		return out, err
	}
	logger.Debug("identity index built", "source", src.Name, "emails", idx.Len())

	consumed := make([]string, 0, len(pending))
	for _, rec := range pending {
		if err := p.route(ctx, src, idx, rec, &out); err != nil {
			p.cleanup(ctx, src, consumed)
			return out, err
		}
		consumed = append(consumed, rec.ID)
	}

	n, err := p.store.DeletePending(ctx, src, consumed)
	if err != nil {
		return out, &WriteError{Op: "delete consumed pending rows", Err: err}
	}
	if n != len(consumed) {
		logger.Warn("pending delete removed fewer rows than consumed",
			"source", src.Name, "consumed", len(consumed), "deleted", n)
	}
	return out, nil
}

// route sends one normalized row to quarantine or staging. Rows whose
// origin key is already in staging were consumed by a failed earlier run
// and are only deleted.
func (p *Processor) route(ctx context.Context, src Source, idx *IdentityIndex, rec domain.PendingRecord, out *batchOutcome) error {
	origin := OriginKey(src, rec.ID)
	if _, done := idx.Origin(origin); done {
		out.resumed++
		return nil
	}

	emails := rec.Fields.Emails()
	if match, ok := idx.Match(emails); ok {
		q := &domain.QuarantineRecord{
			Reason:            domain.QuarantineDuplicate,
			OriginalStagingID: match,
			JobID:             rec.JobID,
			Fields:            rec.Fields,
		}
		created, err := p.store.InsertQuarantine(ctx, origin, q)
		if err != nil {
			return &WriteError{Op: "quarantine insert", Err: err}
		}
		if created {
			out.dups++
		} else {
			out.resumed++
		}
		return nil
	}

	id, err := p.store.InsertStaging(ctx, origin, rec.Fields)
	if err != nil {
		return &WriteError{Op: "staging insert", Err: err}
	}
	idx.Register(id, emails)
	idx.MarkOrigin(origin, id)
	out.inserted++
	return nil
}

// cleanup deletes rows already routed before a mid-batch failure.
// Failure here is logged; origin keys still stop a rerun from inserting twice.
func (p *Processor) cleanup(ctx context.Context, src Source, consumed []string) {
	if len(consumed) == 0 {
		return
	}
	if _, err := p.store.DeletePending(context.WithoutCancel(ctx), src, consumed); err != nil {
		logger.Error("cleanup of consumed pending rows failed",
			"source", src.Name, "rows", len(consumed), "error", err.Error())
	}
}

func (p *Processor) failJob(ctx context.Context, job *domain.ImportJob, src Source, scope Scope, out batchOutcome, cause error) *domain.BatchResult {
	msg := cause.Error()
	if err := p.ledger.Fail(context.WithoutCancel(ctx), job, msg); err != nil {
		logger.Error("mark job failed", "job_id", job.ID, "error", err.Error())
	}
	logger.Error("batch failed", "job_id", job.ID, "source", src.Name, "error", msg)

	res := &domain.BatchResult{
		Success:       false,
		Error:         msg,
		DupCount:      out.dups,
		InsertedCount: out.inserted,
	}
	if remaining, err := p.store.CountPending(ctx, src, scope); err == nil {
		res.PreStagingRemaining = remaining
		res.HasMore = remaining > 0
	}
	p.snapshot(ctx, res, false)
	return res
}

// snapshot fills the table totals of a result from the reporter.
func (p *Processor) snapshot(ctx context.Context, res *domain.BatchResult, withOther bool) {
	if p.reporter == nil {
		return
	}
	res.StagingCountAfter = p.reporter.Count(ctx, p.opts.StagingTable).Count
	res.PreStagingCountAfter = p.reporter.Count(ctx, p.opts.Main.Table).Count
	if withOther && p.opts.Other != nil {
		n := p.reporter.Count(ctx, p.opts.Other.Table).Count
		res.OtherPreStagingCountAfter = &n
	}
}

func (p *Processor) guard(ctx context.Context, src Source) (func(), error) {
	if p.locks == nil {
		return func() {}, nil
	}
	l := p.locks.Lock("batch:" + src.Table)
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire batch guard: %w", err)
	}
	if !ok {
		return nil, ErrBatchInProgress
	}
	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release batch guard", "source", src.Name, "error", err.Error())
		}
	}, nil
}

func failure(err error) *domain.BatchResult {
	return &domain.BatchResult{Success: false, Error: err.Error()}
}
