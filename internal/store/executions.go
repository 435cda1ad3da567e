package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

// AppendExecution inserts the history row before the attempt runs, so
// a crash mid-attempt still leaves a trail. The attempt number is
// derived from the existing row count inside the insert, keeping the
// per-job ordering strict without a counter on the job row.
func (s *PG) AppendExecution(ctx context.Context, entry *domain.ExecutionEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_executions
			(id, job_id, attempt, status, worker_id, worker_hostname, started_at)
		SELECT $1, $2, COUNT(*) + 1, $3, $4, $5, $6
		FROM job_executions WHERE job_id = $2`,
		entry.ID, entry.JobID, entry.Status,
		entry.WorkerID, entry.WorkerHostname, entry.StartedAt)
	if err != nil {
		return fmt.Errorf("append execution for job %s: %w", entry.JobID, err)
	}
	return nil
}

// CompleteExecution records the attempt outcome. Idempotent: only the
// first completion of a row wins.
func (s *PG) CompleteExecution(ctx context.Context, execID uuid.UUID, status string, errKind, errMessage *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_executions SET
			status        = $2,
			finished_at   = NOW(),
			duration_ms   = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint,
			error_kind    = $3,
			error_message = $4
		WHERE id = $1
		  AND finished_at IS NULL`,
		execID, status, errKind, errMessage)
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", execID, err)
	}
	return nil
}

func (s *PG) History(ctx context.Context, jobID uuid.UUID) ([]domain.ExecutionEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, attempt, status, worker_id, worker_hostname,
		       started_at, finished_at, duration_ms, error_kind, error_message
		FROM job_executions
		WHERE job_id = $1
		ORDER BY attempt ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load history for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var entries []domain.ExecutionEntry
	for rows.Next() {
		var e domain.ExecutionEntry
		err := rows.Scan(&e.ID, &e.JobID, &e.Attempt, &e.Status,
			&e.WorkerID, &e.WorkerHostname,
			&e.StartedAt, &e.FinishedAt, &e.DurationMS, &e.ErrorKind, &e.ErrorMessage)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
