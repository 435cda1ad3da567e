package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

// ResumeWaiting moves the oldest job parked on (eventType, eventKey)
// to retrying/due-now, keeping its stage index and context snapshot so
// the next attempt re-enters the suspended stage. Returns found=false
// when no job matches — repeated event delivery is a no-op.
func (s *PG) ResumeWaiting(ctx context.Context, eventType, eventKey string) (*domain.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status             = 'retrying',
			scheduled_at       = NOW(),
			waiting_event_type = NULL,
			waiting_event_key  = NULL,
			waiting_timeout_ms = NULL,
			paused_at          = NULL,
			state_version      = state_version + 1,
			updated_at         = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'waiting_for_event'
			  AND waiting_event_type = $1
			  AND waiting_event_key  = $2
			ORDER BY paused_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		eventType, eventKey)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resume waiting job: %w", err)
	}
	return job, true, nil
}

// ExpireWait closes out a wait whose deadline passed. Conditional on
// the job still waiting, so a concurrently delivered event wins.
func (s *PG) ExpireWait(ctx context.Context, id uuid.UUID, retryable bool, lastError string) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	if retryable {
		tag, err = s.pool.Exec(ctx, `
			UPDATE jobs SET
				status               = 'retrying',
				scheduled_at         = NOW(),
				last_error           = $2,
				last_error_kind      = 'timeout',
				error_classification = 'retryable',
				waiting_event_type   = NULL,
				waiting_event_key    = NULL,
				waiting_timeout_ms   = NULL,
				paused_at            = NULL,
				state_version        = state_version + 1,
				updated_at           = NOW()
			WHERE id = $1
			  AND status = 'waiting_for_event'`,
			id, lastError)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE jobs SET
				status               = 'failed',
				failed_at            = NOW(),
				last_error           = $2,
				last_error_kind      = 'timeout',
				error_classification = 'permanent',
				waiting_event_type   = NULL,
				waiting_event_key    = NULL,
				waiting_timeout_ms   = NULL,
				paused_at            = NULL,
				state_version        = state_version + 1,
				updated_at           = NOW()
			WHERE id = $1
			  AND status = 'waiting_for_event'`,
			id, lastError)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PG) DueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'retrying'
		  AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2`, now, limit)
}

func (s *PG) ExpiredWaits(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'waiting_for_event'
		  AND paused_at + (waiting_timeout_ms * interval '1 millisecond') < $1
		ORDER BY paused_at ASC
		LIMIT $2`, now, limit)
}

func (s *PG) queryJobs(ctx context.Context, sql string, args ...any) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
