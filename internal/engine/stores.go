// Package engine orchestrates durable job execution: transactional
// submission, processing, suspend/resume, retries, and sweeps.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
)

// ErrJobNotFound is returned when a dequeued job id has no row. This is
// an integrity error, never retried.
var ErrJobNotFound = errors.New("job not found")

// JobStore is the engine's view of the durable job store. All
// transition methods are fenced: they return false (no error) when the
// conditional update matched no row, so a losing worker no-ops.
type JobStore interface {
	// CreateWithOutbox inserts the job and its outbox message in one
	// transaction. When the (workflow_type, correlation_id) pair already
	// exists, neither row is written and the existing job id is returned
	// with inserted=false.
	CreateWithOutbox(ctx context.Context, job *domain.Job, msg *domain.OutboxMessage) (jobID uuid.UUID, inserted bool, err error)

	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Claim transitions pending|retrying → processing for a due job,
	// fencing the attempt with execID and taking a lease.
	Claim(ctx context.Context, id, execID uuid.UUID, lease time.Duration) (*domain.Job, bool, error)
	ExtendLease(ctx context.Context, id, execID uuid.UUID, lease time.Duration) (bool, error)

	MarkCompleted(ctx context.Context, id, execID uuid.UUID, result []byte) (bool, error)
	MarkRetrying(ctx context.Context, id, execID uuid.UUID, scheduledAt time.Time, errKind faults.Kind, lastError string) (bool, error)
	MarkFailed(ctx context.Context, id, execID uuid.UUID, class faults.Class, errKind faults.Kind, lastError string) (bool, error)
	MarkWaiting(ctx context.Context, id, execID uuid.UUID, wait domain.WaitingForEvent, stageIndex int, snapshot []byte) (bool, error)

	// ResumeWaiting matches a parked job by event descriptor and moves it
	// waiting_for_event → retrying (due now) so the normal claim path
	// picks it up. Returns found=false when nothing matches.
	ResumeWaiting(ctx context.Context, eventType, eventKey string) (*domain.Job, bool, error)

	// ExpireWait fails a job whose wait deadline passed, or reschedules
	// it when the timeout policy is retryable. Conditional on the job
	// still being in waiting_for_event.
	ExpireWait(ctx context.Context, id uuid.UUID, retryable bool, lastError string) (bool, error)

	DueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)
	ExpiredWaits(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error)

	AppendExecution(ctx context.Context, entry *domain.ExecutionEntry) error
	CompleteExecution(ctx context.Context, execID uuid.UUID, status string, errKind, errMessage *string) error
	History(ctx context.Context, jobID uuid.UUID) ([]domain.ExecutionEntry, error)
}

// Publisher delivers a job id to the broker destination.
type Publisher interface {
	Publish(ctx context.Context, destination string, jobID uuid.UUID) error
}
