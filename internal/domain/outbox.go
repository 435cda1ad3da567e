package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxMessage is the durability bridge between the job insert and the
// broker. Exactly one is created per job, in the same transaction as the
// job row. Rows are never deleted; published rows are pruned externally.
type OutboxMessage struct {
	ID          uuid.UUID
	AggregateID uuid.UUID // job id
	Destination string
	Payload     json.RawMessage
	Status      OutboxStatus
	Attempts    int
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// DestinationFor derives the broker routing key for a workflow type.
// Deterministic so workers can be partitioned by workflow.
func DestinationFor(workflowType string) string {
	return fmt.Sprintf("jobs.%s", workflowType)
}

// QueueMessage is the broker message body. It carries only the job id;
// workers re-read current job state from the store, which makes broker
// redelivery idempotent at the dispatch level.
type QueueMessage struct {
	JobID uuid.UUID `json:"job_id"`
}

func (m QueueMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}

func DecodeQueueMessage(raw []byte) (QueueMessage, error) {
	var m QueueMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return QueueMessage{}, fmt.Errorf("decode queue message: %w", err)
	}
	if m.JobID == uuid.Nil {
		return QueueMessage{}, fmt.Errorf("queue message has no job_id")
	}
	return m, nil
}
