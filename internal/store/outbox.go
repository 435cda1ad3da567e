package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

// PendingOutbox fetches the oldest unpublished outbox messages.
func (s *PG) PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_id, destination, payload, status, attempts,
		       created_at, published_at
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	defer rows.Close()

	var msgs []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		var status string
		var publishedAt *time.Time
		err := rows.Scan(&m.ID, &m.AggregateID, &m.Destination, &m.Payload,
			&status, &m.Attempts, &m.CreatedAt, &publishedAt)
		if err != nil {
			return nil, err
		}
		m.Status = domain.OutboxStatus(status)
		m.PublishedAt = publishedAt
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkOutboxPublished is called only after a broker-acknowledged
// publish. Rows are never deleted; published rows are pruned by an
// external retention job.
func (s *PG) MarkOutboxPublished(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages SET
			status       = 'published',
			published_at = NOW()
		WHERE id = $1
		  AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("mark outbox %s published: %w", id, err)
	}
	return nil
}

// RecordOutboxFailure leaves the message pending for the next scan and
// keeps an attempt count for operators. Publishing is idempotent (the
// consumer side deduplicates by job id), so unlimited retries are safe.
func (s *PG) RecordOutboxFailure(ctx context.Context, id uuid.UUID, publishErr error) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages SET
			attempts   = attempts + 1,
			last_error = $2
		WHERE id = $1`, id, publishErr.Error())
	if err != nil {
		return fmt.Errorf("record outbox %s failure: %w", id, err)
	}
	return nil
}
