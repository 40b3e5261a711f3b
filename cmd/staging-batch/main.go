// Command staging-batch runs dedup batches from the shell: one batch, or
// repeated batches until the source reports nothing left.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fundbridge/merchant-staging/internal/app"
	"github.com/fundbridge/merchant-staging/internal/config"
	"github.com/fundbridge/merchant-staging/internal/domain"
	"github.com/fundbridge/merchant-staging/internal/service/staging"
)

type batchFunc func(ctx context.Context) (*domain.BatchResult, error)

type totals struct {
	Batches    int `json:"batches"`
	Inserted   int `json:"insertedCount"`
	Duplicates int `json:"dupCount"`
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	mode := flag.String("mode", "job", "batch kind: job, combined, orphan or other")
	jobID := flag.String("job", "", "import job id (job and combined modes)")
	size := flag.Int("size", 0, "rows per batch (0 uses the configured default)")
	loop := flag.Bool("loop", false, "keep running batches until hasMore=false")
	maxBatches := flag.Int("max-batches", 0, "stop looping after this many batches (0 = no limit)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("[staging-batch] load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("[staging-batch] %v", err)
	}
	defer a.Close()

	run, err := selectBatch(a.Processor, *mode, *jobID, *size)
	if err != nil {
		a.Close()
		log.Fatalf("[staging-batch] %v", err)
	}

	sum, err := runLoop(ctx, run, *loop, *maxBatches, os.Stdout)
	log.Printf("[staging-batch] %d batch(es): inserted=%d duplicates=%d", sum.Batches, sum.Inserted, sum.Duplicates)
	if err != nil {
		a.Close()
		log.Fatalf("[staging-batch] batch failed: %v", err)
	}
}

func selectBatch(p *staging.Processor, mode, jobID string, size int) (batchFunc, error) {
	needJob := mode == "job" || mode == "combined"
	if needJob && jobID == "" {
		return nil, fmt.Errorf("-job is required for mode %q", mode)
	}
	switch mode {
	case "job":
		return func(ctx context.Context) (*domain.BatchResult, error) { return p.RunJobBatch(ctx, jobID, size) }, nil
	case "combined":
		return func(ctx context.Context) (*domain.BatchResult, error) { return p.RunCombined(ctx, jobID, size) }, nil
	case "orphan":
		return func(ctx context.Context) (*domain.BatchResult, error) { return p.RunOrphanBatch(ctx, size) }, nil
	case "other":
		return func(ctx context.Context) (*domain.BatchResult, error) { return p.RunOtherBatch(ctx, size) }, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

// runLoop invokes run once, or until hasMore is false when loop is set.
// Each result is written to out as one JSON line.
func runLoop(ctx context.Context, run batchFunc, loop bool, maxBatches int, out io.Writer) (totals, error) {
	var sum totals
	enc := json.NewEncoder(out)
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := run(ctx)
		sum.Batches++
		if res != nil {
			sum.Inserted += res.InsertedCount
			sum.Duplicates += res.DupCount
			if encErr := enc.Encode(res); encErr != nil {
				return sum, encErr
			}
		}
		if err != nil {
			return sum, err
		}
		if !loop || res == nil || !res.HasMore {
			return sum, nil
		}
		if maxBatches > 0 && sum.Batches >= maxBatches {
			return sum, nil
		}
	}
}
