package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/probe"
)

// Job names one probe to run: a protocol module and its target.
type Job struct {
	Protocol string
	Target   probe.Target
}

// Outcome pairs a job with its result. Result is non-nil even when Err is
// set, so callers always have the target identity for reporting.
type Outcome struct {
	Job    Job
	Result *model.ProbeResult
	Err    error
}

// BatchRunner handles concurrent execution of multiple probe jobs.
// It uses errgroup to manage goroutines and respect concurrency limits.
//
// Design decision: We use a separate BatchRunner rather than putting batch
// logic in the CLI because:
// 1. It keeps job scheduling testable without cobra
// 2. It allows different batch strategies (e.g., rate limiting, retries)
// 3. The API server can reuse it if a bulk endpoint is added
type BatchRunner struct {
	// registry resolves protocol names to probe modules.
	registry *probe.Registry

	// concurrency is the maximum number of simultaneous probes.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger

	mu sync.Mutex
}

// BatchOption configures a BatchRunner.
type BatchOption func(*BatchRunner)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchRunner) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent probes.
// Default is 10 if not specified.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchRunner) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchRunner creates a BatchRunner over the given probe registry.
func NewBatchRunner(registry *probe.Registry, opts ...BatchOption) *BatchRunner {
	b := &BatchRunner{
		registry:    registry,
		concurrency: 10,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = slog.Default()
	}

	return b
}

// Run executes all jobs and returns their outcomes in input order.
// It respects the configured concurrency limit and context cancellation.
//
// Design decision: We use errgroup.SetLimit rather than a worker pool
// because it's simpler and errgroup handles the concurrency correctly.
// Each job gets its own goroutine, but only 'concurrency' goroutines run
// simultaneously.
//
// Probe failures are recorded in the outcome, not returned; the error
// return indicates the batch itself was cancelled.
func (b *BatchRunner) Run(ctx context.Context, jobs []Job) ([]Outcome, error) {
	outcomes := make([]Outcome, len(jobs))
	err := b.RunWithCallback(ctx, jobs, func(o Outcome, index int) {
		outcomes[index] = o
	})
	return outcomes, err
}

// RunWithCallback executes all jobs and calls the callback for each
// completed probe. This is useful for streaming output.
//
// The callback receives the outcome and the index of the job in the
// original slice. Callbacks are serialized, so they may access shared
// state without further locking.
func (b *BatchRunner) RunWithCallback(
	ctx context.Context,
	jobs []Job,
	callback func(outcome Outcome, index int),
) error {
	b.logger.Info("starting probe batch",
		"total_jobs", len(jobs),
		"concurrency", b.concurrency,
	)

	startTime := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, job := range jobs {
		g.Go(func() error {
			// Check for cancellation before starting
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			outcome := b.runJob(ctx, job)

			if outcome.Err != nil {
				b.logger.Warn("probe failed",
					"protocol", job.Protocol,
					"host", job.Target.Host,
					"error", outcome.Err,
				)
			}

			b.mu.Lock()
			callback(outcome, i)
			b.mu.Unlock()

			// Probe failures are carried in the outcome; returning them
			// here would cancel the rest of the batch.
			return nil
		})
	}

	err := g.Wait()

	b.logger.Info("probe batch complete",
		"total_jobs", len(jobs),
		"elapsed", time.Since(startTime),
	)

	return err
}

// runJob resolves and executes one job.
func (b *BatchRunner) runJob(ctx context.Context, job Job) Outcome {
	module, ok := b.registry.Lookup(job.Protocol)
	if !ok {
		result := model.NewProbeResult(job.Protocol, job.Target.Host, job.Target.Port)
		return Outcome{
			Job:    job,
			Result: result,
			Err:    fmt.Errorf("unknown protocol %q", job.Protocol),
		}
	}

	result, err := module.Probe(ctx, job.Target)
	if result == nil {
		result = model.NewProbeResult(job.Protocol, job.Target.Host, job.Target.Port)
	}
	return Outcome{Job: job, Result: result, Err: err}
}
