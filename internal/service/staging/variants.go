package staging

import (
	"context"
	"fmt"

	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/pkg/logger"
)

// RunOrphanBatch processes main-table rows that belong to no import job.
// There is no ledger entry to update.
func (p *Processor) RunOrphanBatch(ctx context.Context, size int) (*domain.BatchResult, error) {
	return p.runUntracked(ctx, p.opts.Main, Scope{Orphan: true}, size, false)
}

// RunOtherBatch processes every row of the other pre-staging table.
// PreStagingRemaining refers to the other table.
func (p *Processor) RunOtherBatch(ctx context.Context, size int) (*domain.BatchResult, error) {
	if p.opts.Other == nil {
		return failure(ErrOtherNotConfigured), ErrOtherNotConfigured
	}
	return p.runUntracked(ctx, *p.opts.Other, Scope{}, size, true)
}

// RunCombined runs the job batch and then the other-table batch, summing
// their deltas. Without an other table it is a plain job batch. A job that
// had already drained contributes no counts.
func (p *Processor) RunCombined(ctx context.Context, jobID string, size int) (*domain.BatchResult, error) {
	res, drained, err := p.runJob(ctx, jobID, size)
	if err != nil || p.opts.Other == nil {
		return res, err
	}
	if drained {
		res.DupCount, res.InsertedCount = 0, 0
	}

	other, err := p.RunOtherBatch(ctx, size)
	res.DupCount += other.DupCount
	res.InsertedCount += other.InsertedCount
	if other.StagingCountAfter > 0 {
		res.StagingCountAfter = other.StagingCountAfter
	}
	res.OtherPreStagingCountAfter = other.OtherPreStagingCountAfter
	res.HasMore = res.HasMore || other.HasMore
	if err != nil {
		res.Success = false
		res.Error = "other table: " + other.Error
	}
	return res, err
}

func (p *Processor) runUntracked(ctx context.Context, src Source, scope Scope, size int, withOther bool) (*domain.BatchResult, error) {
	size = p.BatchSize(size)

	release, err := p.guard(ctx, src)
	if err != nil {
		return failure(err), err
	}
	defer release()

	out, runErr := p.runBatch(ctx, src, scope, size)
	res := &domain.BatchResult{
		Success:       runErr == nil,
		DupCount:      out.dups,
		InsertedCount: out.inserted,
	}
	if runErr != nil {
		res.Error = runErr.Error()
		logger.Error("batch failed", "source", src.Name, "error", runErr.Error())
	}

	remaining, err := p.store.CountPending(ctx, src, scope)
	if err != nil {
		if runErr == nil {
			runErr = err
			res.Success = false
			res.Error = fmt.Sprintf("count remaining rows: %v", err)
		}
		res.HasMore = true
	} else {
		res.PreStagingRemaining = remaining
		res.HasMore = remaining > 0
	}
	p.snapshot(ctx, res, withOther)

	if runErr == nil {
		logger.Info("batch complete", "source", src.Name, "orphans", scope.Orphan,
			"fetched", out.fetched, "inserted", out.inserted, "duplicates", out.dups,
			"resumed", out.resumed, "remaining", remaining)
	}
	return res, runErr
}
