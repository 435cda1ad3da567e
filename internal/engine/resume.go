package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

// ResumeTrigger matches external events against jobs parked in
// waiting_for_event and puts them back on the worker pool.
type ResumeTrigger struct {
	store  JobStore
	pub    Publisher
	logger *slog.Logger
}

func NewResumeTrigger(store JobStore, pub Publisher, logger *slog.Logger) *ResumeTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeTrigger{store: store, pub: pub, logger: logger}
}

// DeliverEvent resumes the job waiting on (eventType, eventKey), if
// any. Resumption goes through the broker so it runs on the normal
// worker pool, never inline. Idempotent: delivering an event with no
// matching waiter is a no-op and returns resumed=false.
//
// The store transition lands the job in retrying/due-now rather than
// directly in processing; the fenced claim stays the only path into
// processing, and the retry sweep re-publishes if this publish is lost.
func (t *ResumeTrigger) DeliverEvent(ctx context.Context, eventType, eventKey string) (bool, error) {
	if eventType == "" || eventKey == "" {
		return false, fmt.Errorf("eventType and eventKey are required")
	}

	job, found, err := t.store.ResumeWaiting(ctx, eventType, eventKey)
	if err != nil {
		return false, fmt.Errorf("resume waiting job: %w", err)
	}
	if !found {
		t.logger.Info("no job waiting for event",
			"event_type", eventType, "event_key", eventKey)
		return false, nil
	}

	log := t.logger.With(
		"job_id", job.ID,
		"workflow", job.WorkflowType,
		"event_type", eventType,
		"event_key", eventKey)

	if err := t.pub.Publish(ctx, domain.DestinationFor(job.WorkflowType), job.ID); err != nil {
		// The job is already due; the retry sweep will re-publish it.
		log.Warn("resume publish failed, sweep will re-enqueue", "err", err)
		return true, nil
	}

	log.Info("job resumed")
	return true, nil
}
