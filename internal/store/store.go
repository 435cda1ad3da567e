// Package store implements the durable job and outbox stores on
// PostgreSQL. All state transitions are conditional updates fenced by
// status and current_execution_id so concurrent workers cannot both
// hold a processing attempt.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

type PG struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

const jobColumns = `
	id, workflow_type, handler_type, correlation_id, payload, status,
	retry_count, max_retries, error_classification, last_error,
	scheduled_at, started_at, completed_at, failed_at,
	waiting_event_type, waiting_event_key, waiting_timeout_ms, paused_at,
	stage_index, context_snapshot, result, metadata,
	created_at, updated_at, current_execution_id, lock_expires_at, state_version`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		handler   string
		eventType *string
		eventKey  *string
		timeoutMS *int64
		pausedAt  *time.Time
	)
	err := row.Scan(
		&job.ID, &job.WorkflowType, &handler, &job.CorrelationID,
		&job.Payload, &status,
		&job.RetryCount, &job.MaxRetries, &job.ErrorClassification, &job.LastError,
		&job.ScheduledAt, &job.StartedAt, &job.CompletedAt, &job.FailedAt,
		&eventType, &eventKey, &timeoutMS, &pausedAt,
		&job.StageIndex, &job.ContextSnapshot, &job.Result, &job.Metadata,
		&job.CreatedAt, &job.UpdatedAt, &job.CurrentExecutionID, &job.LockExpiresAt,
		&job.StateVersion,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.HandlerType = domain.HandlerType(handler)
	if eventType != nil && eventKey != nil && timeoutMS != nil && pausedAt != nil {
		job.WaitingForEvent = &domain.WaitingForEvent{
			EventType: *eventType,
			EventKey:  *eventKey,
			Timeout:   time.Duration(*timeoutMS) * time.Millisecond,
			PausedAt:  *pausedAt,
		}
	}
	return &job, nil
}

// Get returns nil, nil when the job does not exist.
func (s *PG) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// CreateWithOutbox inserts the job and its outbox message atomically.
// A duplicate (workflow_type, correlation_id) pair inserts nothing and
// returns the existing job id — submission is idempotent when callers
// supply a correlation id.
func (s *PG) CreateWithOutbox(ctx context.Context, job *domain.Job, msg *domain.OutboxMessage) (uuid.UUID, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var insertedID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO jobs
			(id, workflow_type, handler_type, correlation_id, payload,
			 status, retry_count, max_retries, scheduled_at, metadata,
			 state_version)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, 0)
		ON CONFLICT (workflow_type, correlation_id)
			WHERE correlation_id <> '' DO NOTHING
		RETURNING id`,
		job.ID, job.WorkflowType, string(job.HandlerType), job.CorrelationID,
		job.Payload, string(job.Status), job.MaxRetries, job.ScheduledAt,
		job.Metadata,
	).Scan(&insertedID)

	if errors.Is(err, pgx.ErrNoRows) {
		var existingID uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT id FROM jobs WHERE workflow_type = $1 AND correlation_id = $2`,
			job.WorkflowType, job.CorrelationID).Scan(&existingID)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("lookup existing job: %w", err)
		}
		return existingID, false, tx.Commit(ctx)
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_messages
			(id, aggregate_id, destination, payload, status)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.AggregateID, msg.Destination, msg.Payload, string(msg.Status))
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert outbox message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, false, fmt.Errorf("commit submit tx: %w", err)
	}
	return insertedID, true, nil
}
