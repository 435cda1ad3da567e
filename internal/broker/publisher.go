// Package broker adapts Redis Streams as the job queue: one stream per
// destination, a consumer group of competing workers, and a DLQ stream
// for permanently failed deliveries. Messages carry only the job id.
package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
)

const (
	streamPrefix = "engine:queue:"
	dlqStream    = "engine:dlq"
	msgField     = "msg"
)

// StreamKey maps a destination to its Redis stream.
func StreamKey(destination string) string {
	return streamPrefix + destination
}

// Publisher writes job ids onto destination streams.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish appends the job id to the destination stream. XADD is
// acknowledged by Redis before returning, which is the broker ack the
// outbox relay requires before marking a message published.
func (p *Publisher) Publish(ctx context.Context, destination string, jobID uuid.UUID) error {
	body := domain.QueueMessage{JobID: jobID}.Encode()
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(destination),
		Values: map[string]any{msgField: string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish job %s to %s: %w", jobID, destination, err)
	}
	return nil
}
