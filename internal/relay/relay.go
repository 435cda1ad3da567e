// Package relay moves pending outbox messages to the broker. It is the
// only component that marks outbox rows published, and it does so only
// after a broker-acknowledged publish.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

// Source is the relay's view of the outbox store.
type Source interface {
	PendingOutbox(ctx context.Context, limit int) ([]domain.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id uuid.UUID) error
	RecordOutboxFailure(ctx context.Context, id uuid.UUID, publishErr error) error
}

// Publisher is the broker side of the relay.
type Publisher interface {
	Publish(ctx context.Context, destination string, jobID uuid.UUID) error
}

type Relay struct {
	source Source
	pub    Publisher
	logger *slog.Logger

	BatchSize    int
	PollInterval time.Duration
}

func New(source Source, pub Publisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		source:       source,
		pub:          pub,
		logger:       logger,
		BatchSize:    50,
		PollInterval: 500 * time.Millisecond,
	}
}

// Run polls until ctx is canceled. Failed publishes stay pending for
// the next scan; publishing is idempotent because consumers deduplicate
// by job id, so re-sending an already-sent message is harmless.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ProcessOnce(ctx); err != nil {
				r.logger.Error("relay pass failed", "err", err)
			}
		}
	}
}

// ProcessOnce relays a single batch and reports how many messages were
// published.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	msgs, err := r.source.PendingOutbox(ctx, r.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending outbox: %w", err)
	}

	published := 0
	for _, msg := range msgs {
		qm, err := domain.DecodeQueueMessage(msg.Payload)
		if err != nil {
			// A row we cannot decode will never publish; record the
			// failure so operators see the attempts climbing.
			r.logger.Error("outbox message undecodable",
				"outbox_id", msg.ID, "err", err)
			if recErr := r.source.RecordOutboxFailure(ctx, msg.ID, err); recErr != nil {
				r.logger.Error("record outbox failure failed", "outbox_id", msg.ID, "err", recErr)
			}
			continue
		}

		if err := r.pub.Publish(ctx, msg.Destination, qm.JobID); err != nil {
			r.logger.Warn("outbox publish failed, will rescan",
				"outbox_id", msg.ID,
				"destination", msg.Destination,
				"err", err)
			if recErr := r.source.RecordOutboxFailure(ctx, msg.ID, err); recErr != nil {
				r.logger.Error("record outbox failure failed", "outbox_id", msg.ID, "err", recErr)
			}
			continue
		}

		if err := r.source.MarkOutboxPublished(ctx, msg.ID); err != nil {
			// The message went out but stayed pending; the next scan
			// republishes and the consumer-side dedupe absorbs it.
			r.logger.Error("mark published failed", "outbox_id", msg.ID, "err", err)
			continue
		}

		published++
		r.logger.Info("outbox message published",
			"outbox_id", msg.ID,
			"job_id", qm.JobID,
			"destination", msg.Destination)
	}
	return published, nil
}
