package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/pipeline"
)

const DefaultMaxRetries = 3

// SubmitRequest describes a new unit of durable work.
type SubmitRequest struct {
	WorkflowType  string
	Payload       json.RawMessage
	CorrelationID string
	MaxRetries    *int
	Metadata      json.RawMessage
}

// Submitter is the sole entry point for creating durable work. It
// persists the job and its broker-publish intent in one transaction;
// callers never publish to the broker directly.
type Submitter struct {
	store    JobStore
	registry *pipeline.Registry
	logger   *slog.Logger
}

func NewSubmitter(store JobStore, registry *pipeline.Registry, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{store: store, registry: registry, logger: logger}
}

// Submit validates the payload against the workflow's typed context and
// atomically inserts the job (status=pending, retryCount=0) together
// with its outbox message. Returns the job id; for a duplicated
// correlation id, the id of the existing job.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	p, err := s.registry.Lookup(req.WorkflowType)
	if err != nil {
		return uuid.Nil, faults.Wrap(faults.KindValidation, err)
	}
	if _, err := p.NewContext(req.Payload); err != nil {
		return uuid.Nil, fmt.Errorf("validate payload: %w", err)
	}

	maxRetries := DefaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return uuid.Nil, faults.New(faults.KindValidation, "maxRetries must be >= 0")
		}
		maxRetries = *req.MaxRetries
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:            uuid.New(),
		WorkflowType:  req.WorkflowType,
		HandlerType:   domain.HandlerPipeline,
		CorrelationID: req.CorrelationID,
		Payload:       req.Payload,
		Status:        domain.StatusPending,
		MaxRetries:    maxRetries,
		ScheduledAt:   now,
		Metadata:      req.Metadata,
	}
	msg := &domain.OutboxMessage{
		ID:          uuid.New(),
		AggregateID: job.ID,
		Destination: domain.DestinationFor(req.WorkflowType),
		Payload:     domain.QueueMessage{JobID: job.ID}.Encode(),
		Status:      domain.OutboxPending,
	}

	jobID, inserted, err := s.store.CreateWithOutbox(ctx, job, msg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("job submitted",
		"job_id", jobID,
		"workflow", req.WorkflowType,
		"correlation_id", req.CorrelationID,
		"inserted", inserted)
	return jobID, nil
}
