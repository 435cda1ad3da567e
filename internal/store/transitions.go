package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
)

// Claim transitions a due pending|retrying job to processing, fencing
// the attempt with execID and taking a lease. Loses quietly (nil,
// false, nil) when the job is absent, not due, or already owned —
// broker redelivery routinely produces such claims.
func (s *PG) Claim(ctx context.Context, id, execID uuid.UUID, lease time.Duration) (*domain.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status               = 'processing',
			current_execution_id = $2,
			lock_expires_at      = NOW() + ($3 * interval '1 millisecond'),
			started_at           = COALESCE(started_at, NOW()),
			state_version        = state_version + 1,
			updated_at           = NOW()
		WHERE id = $1
		  AND status IN ('pending', 'retrying')
		  AND scheduled_at <= NOW()
		RETURNING `+jobColumns,
		id, execID, lease.Milliseconds())

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim job %s: %w", id, err)
	}
	return job, true, nil
}

func (s *PG) ExtendLease(ctx context.Context, id, execID uuid.UUID, lease time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			lock_expires_at = NOW() + ($3 * interval '1 millisecond')
		WHERE id = $1
		  AND status = 'processing'
		  AND current_execution_id = $2
		  AND lock_expires_at > NOW()`,
		id, execID, lease.Milliseconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PG) MarkCompleted(ctx context.Context, id, execID uuid.UUID, result []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status               = 'completed',
			completed_at         = NOW(),
			result               = $3,
			current_execution_id = NULL,
			lock_expires_at      = NULL,
			state_version        = state_version + 1,
			updated_at           = NOW()
		WHERE id = $1
		  AND status = 'processing'
		  AND current_execution_id = $2`,
		id, execID, result)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRetrying schedules the next attempt. retry_count is incremented
// here, in the same statement, so the retryCount <= maxRetries
// invariant holds even under races.
func (s *PG) MarkRetrying(ctx context.Context, id, execID uuid.UUID, scheduledAt time.Time, errKind faults.Kind, lastError string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status               = 'retrying',
			retry_count          = retry_count + 1,
			scheduled_at         = $3,
			last_error           = $4,
			last_error_kind      = $5,
			error_classification = 'retryable',
			current_execution_id = NULL,
			lock_expires_at      = NULL,
			state_version        = state_version + 1,
			updated_at           = NOW()
		WHERE id = $1
		  AND status = 'processing'
		  AND current_execution_id = $2
		  AND retry_count < max_retries`,
		id, execID, scheduledAt, lastError, string(errKind))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PG) MarkFailed(ctx context.Context, id, execID uuid.UUID, class faults.Class, errKind faults.Kind, lastError string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status               = 'failed',
			failed_at            = NOW(),
			last_error           = $3,
			last_error_kind      = $4,
			error_classification = $5,
			current_execution_id = NULL,
			lock_expires_at      = NULL,
			state_version        = state_version + 1,
			updated_at           = NOW()
		WHERE id = $1
		  AND status = 'processing'
		  AND current_execution_id = $2`,
		id, execID, lastError, string(errKind), string(class))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkWaiting parks the job on its event descriptor and persists the
// resume point (stage index + context snapshot).
func (s *PG) MarkWaiting(ctx context.Context, id, execID uuid.UUID, wait domain.WaitingForEvent, stageIndex int, snapshot []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status               = 'waiting_for_event',
			waiting_event_type   = $3,
			waiting_event_key    = $4,
			waiting_timeout_ms   = $5,
			paused_at            = $6,
			stage_index          = $7,
			context_snapshot     = $8,
			current_execution_id = NULL,
			lock_expires_at      = NULL,
			state_version        = state_version + 1,
			updated_at           = NOW()
		WHERE id = $1
		  AND status = 'processing'
		  AND current_execution_id = $2`,
		id, execID, wait.EventType, wait.EventKey, wait.Timeout.Milliseconds(),
		wait.PausedAt, stageIndex, snapshot)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
