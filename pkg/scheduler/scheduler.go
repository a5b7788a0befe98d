// Package scheduler drives the work queue: it polls for due items, leases
// them, and dispatches each to the execution engine, translating the
// engine's outcome into queue state (complete, retry with backoff, fail).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beaconcrm/journey/pkg/models"
	"github.com/beaconcrm/journey/pkg/otelhelper"
	"github.com/beaconcrm/journey/pkg/persistence"
	"github.com/beaconcrm/journey/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"k8s.io/utils/clock"
)

const (
	DefaultPollInterval = 1 * time.Second
	DefaultBatchSize    = 50
	DefaultConcurrency  = 8
	DefaultLease        = 30 * time.Second
	DefaultMaxAttempts  = 3
	DefaultBackoffBase  = 30 * time.Second
	maxBackoff          = 1 * time.Hour
)

// Advancer executes one due work item. The scheduler interprets its result:
// nil completes the item, a transient error retries it, anything else
// leaves it leased so the lease expiry redelivers it.
type Advancer interface {
	Advance(ctx context.Context, item *models.WorkItem) error
	FailEnrollment(ctx context.Context, enrollmentID, reason string) error
}

// Config carries the scheduler's collaborators and tuning knobs. Zero
// values fall back to the defaults above.
type Config struct {
	WorkerID     string
	Queue        persistence.Queue
	Engine       Advancer
	Clock        clock.WithTicker
	Logger       *slog.Logger
	Tracer       trace.Tracer
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	Lease        time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
}

// Scheduler is the polling dispatch loop. One instance per worker process;
// multiple processes share the queue safely through the lease protocol.
type Scheduler struct {
	workerID     string
	queue        persistence.Queue
	engine       Advancer
	clock        clock.WithTicker
	logger       *slog.Logger
	tracer       trace.Tracer
	pollInterval time.Duration
	batchSize    int
	concurrency  int
	lease        time.Duration
	maxAttempts  int
	backoffBase  time.Duration
}

// New creates a scheduler from config, applying defaults.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("scheduler")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}

	return &Scheduler{
		workerID:     cfg.WorkerID,
		queue:        cfg.Queue,
		engine:       cfg.Engine,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With("module", "scheduler", "worker_id", cfg.WorkerID),
		tracer:       cfg.Tracer,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		concurrency:  cfg.Concurrency,
		lease:        cfg.Lease,
		maxAttempts:  cfg.MaxAttempts,
		backoffBase:  cfg.BackoffBase,
	}
}

// Start runs the dispatch loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
		"concurrency", s.concurrency)

	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")

			return ctx.Err()
		case <-ticker.C():
			dispatched, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Error("Dispatch cycle failed", "error", err)

				continue
			}

			if dispatched > 0 {
				s.logger.Debug("Dispatch cycle finished", "dispatched", dispatched)
			}
		}
	}
}

// RunOnce claims one batch of due items and dispatches them, returning how
// many were dispatched. Exposed separately so callers can drive the loop
// themselves.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	items, err := s.queue.ClaimDue(ctx, s.clock.Now().UTC(), s.batchSize, s.workerID, s.lease)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due work items: %w", err)
	}

	if len(items) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup

	sem := make(chan struct{}, s.concurrency)

	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}

		go func(item *models.WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()

			s.dispatch(ctx, item)
		}(item)
	}

	wg.Wait()

	return len(items), nil
}

func (s *Scheduler) dispatch(ctx context.Context, item *models.WorkItem) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.dispatch",
		attribute.String(otelhelper.WorkItemIDKey, item.ID),
		attribute.String(otelhelper.EnrollmentIDKey, item.EnrollmentID),
		attribute.String(otelhelper.StepIDKey, item.StepID),
		attribute.Int(otelhelper.AttemptKey, item.Attempts),
		attribute.String(otelhelper.WorkerIDKey, s.workerID),
	)
	defer span.End()

	logger := s.logger.With(
		"item_id", item.ID,
		"enrollment_id", item.EnrollmentID,
		"step_id", item.StepID,
		"attempt", item.Attempts,
	)

	err := s.engine.Advance(ctx, item)
	if err == nil {
		if completeErr := s.queue.Complete(ctx, item); completeErr != nil {
			logger.Error("Failed to complete work item", "error", completeErr)
			otelhelper.SetError(span, completeErr)
		}

		return
	}

	if !protocol.IsTransient(err) {
		// Unexpected failure: leave the item leased so the lease expiry
		// redelivers it without burning a retry attempt.
		logger.Error("Dispatch failed unexpectedly, leaving item leased", "error", err)
		otelhelper.SetError(span, err)

		return
	}

	otelhelper.SetError(span, err)

	if item.Attempts+1 >= s.maxAttempts {
		logger.Warn("Retry budget exhausted, failing enrollment", "error", err)

		reason := fmt.Sprintf("step %s failed after %d attempts: %v", item.StepID, item.Attempts+1, err)
		if failErr := s.engine.FailEnrollment(ctx, item.EnrollmentID, reason); failErr != nil {
			logger.Error("Failed to fail enrollment", "error", failErr)
		}

		if failErr := s.queue.Fail(ctx, item); failErr != nil {
			logger.Error("Failed to mark work item failed", "error", failErr)
		}

		return
	}

	dueAt := s.clock.Now().UTC().Add(s.backoff(item.Attempts))
	logger.Warn("Transient failure, scheduling retry", "error", err, "retry_at", dueAt)

	if retryErr := s.queue.Retry(ctx, item, dueAt); retryErr != nil {
		logger.Error("Failed to schedule retry", "error", retryErr)
	}
}

// backoff returns the wait before attempt n+1: base doubled per prior
// attempt, capped.
func (s *Scheduler) backoff(attempts int) time.Duration {
	wait := s.backoffBase

	for range attempts {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}

	return wait
}

// Stats reports queue counts for operational endpoints.
func (s *Scheduler) Stats(ctx context.Context) (persistence.QueueStats, error) {
	return s.queue.Stats(ctx)
}
