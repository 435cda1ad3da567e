package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Orphan is a processing job whose lease expired, reclaimed by the
// reaper.
type Orphan struct {
	JobID        uuid.UUID
	ExecID       *uuid.UUID
	WorkflowType string
}

// ReapOrphans moves expired processing jobs to retrying, due now, so
// the retry sweep re-publishes them. The broker entry cannot be relied
// on here: an XAUTOCLAIM redelivery typically loses the claim against
// the still-valid lease and acks the entry long before the lease
// expires, so the reaped job must land in a sweepable state. The CTE
// captures current_execution_id before the UPDATE nulls it.
func (s *PG) ReapOrphans(ctx context.Context, limit int) ([]Orphan, error) {
	rows, err := s.pool.Query(ctx, `
		WITH orphans AS (
			SELECT id, current_execution_id, workflow_type
			FROM jobs
			WHERE status = 'processing' AND lock_expires_at < NOW()
			ORDER BY lock_expires_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs SET
			status               = 'retrying',
			scheduled_at         = clock_timestamp(),
			current_execution_id = NULL,
			lock_expires_at      = NULL,
			state_version        = state_version + 1,
			updated_at           = NOW()
		FROM orphans
		WHERE jobs.id = orphans.id
		RETURNING orphans.id, orphans.current_execution_id, orphans.workflow_type`, limit)
	if err != nil {
		return nil, fmt.Errorf("reap orphans: %w", err)
	}
	defer rows.Close()

	var reclaimed []Orphan
	for rows.Next() {
		var o Orphan
		if err := rows.Scan(&o.JobID, &o.ExecID, &o.WorkflowType); err != nil {
			return nil, err
		}
		reclaimed = append(reclaimed, o)
	}
	return reclaimed, rows.Err()
}

// MarkExecutionOrphaned closes the history row of a reclaimed attempt.
func (s *PG) MarkExecutionOrphaned(ctx context.Context, execID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_executions SET
			status      = 'orphaned',
			finished_at = NOW(),
			duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint
		WHERE id = $1
		  AND finished_at IS NULL`, execID)
	return err
}

// RegisterWorker upserts the worker row. Safe to call on restart.
func (s *PG) RegisterWorker(ctx context.Context, id uuid.UUID, hostname string, destinations []string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workers (id, hostname, destinations)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET hostname       = EXCLUDED.hostname,
			    destinations   = EXCLUDED.destinations,
			    status         = 'active',
			    last_heartbeat = NOW()`,
		id, hostname, destinations)
	return err
}

func (s *PG) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE workers SET last_heartbeat = NOW() WHERE id = $1`, id)
	return err
}

// ReapDeadWorkers marks workers silent for staleAfter as dead. This is
// informational; job recovery rides on lease expiry, not worker status.
func (s *PG) ReapDeadWorkers(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workers SET status = 'dead'
		WHERE status = 'active'
		  AND last_heartbeat < NOW() - ($1 * interval '1 millisecond')`,
		staleAfter.Milliseconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AcquireMaintenanceLock competes for the cluster-wide maintenance
// election. The advisory lock is held on a dedicated connection so it
// auto-releases if the process crashes; the winner must call release
// when stepping down.
func (s *PG) AcquireMaintenanceLock(ctx context.Context, key int64) (release func(), won bool, err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire maintenance conn: %w", err)
	}
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&won)
	if err != nil || !won {
		conn.Release()
		return nil, false, err
	}
	return conn.Release, true, nil
}
