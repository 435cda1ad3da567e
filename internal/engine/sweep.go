package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

const sweepBatchSize = 200

// Sweeper owns the periodic maintenance passes:
//   - retry sweep: re-publishes jobs whose backoff window has elapsed
//   - wait-timeout sweep: expires jobs whose awaited event never came
type Sweeper struct {
	store  JobStore
	pub    Publisher
	logger *slog.Logger

	// WaitTimeoutRetryable selects the policy for expired waits:
	// false fails them permanently, true reschedules them.
	WaitTimeoutRetryable bool
}

func NewSweeper(store JobStore, pub Publisher, logger *slog.Logger, waitTimeoutRetryable bool) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:                store,
		pub:                  pub,
		logger:               logger,
		WaitTimeoutRetryable: waitTimeoutRetryable,
	}
}

// Schedule registers both sweeps on a seconds-granularity cron.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, retrySpec, timeoutSpec string) error {
	if _, err := c.AddFunc(retrySpec, func() { s.SweepRetries(ctx) }); err != nil {
		return fmt.Errorf("schedule retry sweep: %w", err)
	}
	if _, err := c.AddFunc(timeoutSpec, func() { s.SweepWaitTimeouts(ctx) }); err != nil {
		return fmt.Errorf("schedule wait-timeout sweep: %w", err)
	}
	return nil
}

// SweepRetries publishes every job in retrying whose scheduled_at has
// passed. Publishing the same id more than once is harmless: the fenced
// claim admits only one attempt.
func (s *Sweeper) SweepRetries(ctx context.Context) {
	jobs, err := s.store.DueRetries(ctx, time.Now().UTC(), sweepBatchSize)
	if err != nil {
		s.logger.Error("retry sweep query failed", "err", err)
		return
	}
	for _, job := range jobs {
		if err := s.pub.Publish(ctx, domain.DestinationFor(job.WorkflowType), job.ID); err != nil {
			s.logger.Warn("retry re-enqueue failed",
				"job_id", job.ID, "err", err)
			continue
		}
		s.logger.Info("retry re-enqueued",
			"job_id", job.ID,
			"workflow", job.WorkflowType,
			"retry_count", job.RetryCount)
	}
}

// SweepWaitTimeouts expires jobs whose wait deadline passed with no
// matching event. Under the retryable policy the job goes back through
// the queue; otherwise it fails with a timeout classification.
func (s *Sweeper) SweepWaitTimeouts(ctx context.Context) {
	jobs, err := s.store.ExpiredWaits(ctx, time.Now().UTC(), sweepBatchSize)
	if err != nil {
		s.logger.Error("wait-timeout sweep query failed", "err", err)
		return
	}
	for _, job := range jobs {
		wait := job.WaitingForEvent
		msg := fmt.Sprintf("timed out after %s waiting for event %s/%s",
			wait.Timeout, wait.EventType, wait.EventKey)

		updated, err := s.store.ExpireWait(ctx, job.ID, s.WaitTimeoutRetryable, msg)
		if err != nil {
			s.logger.Error("wait expiry failed", "job_id", job.ID, "err", err)
			continue
		}
		if !updated {
			// The event arrived between the query and the update.
			continue
		}

		if s.WaitTimeoutRetryable {
			if err := s.pub.Publish(ctx, domain.DestinationFor(job.WorkflowType), job.ID); err != nil {
				s.logger.Warn("expired wait re-enqueue failed",
					"job_id", job.ID, "err", err)
			}
		}
		s.logger.Warn("wait expired",
			"job_id", job.ID,
			"event_type", wait.EventType,
			"event_key", wait.EventKey,
			"retryable", s.WaitTimeoutRetryable)
	}
}
