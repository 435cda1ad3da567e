package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending         JobStatus = "pending"
	StatusProcessing      JobStatus = "processing"
	StatusRetrying        JobStatus = "retrying"
	StatusWaitingForEvent JobStatus = "waiting_for_event"
	StatusCompleted       JobStatus = "completed"
	StatusFailed          JobStatus = "failed"
)

// HandlerType selects the execution strategy for a job. Only the
// synchronous pipeline strategy is implemented; the column exists so
// delegated execution can be added without a schema change.
type HandlerType string

const (
	HandlerPipeline HandlerType = "pipeline"
)

// WaitingForEvent describes the external signal a suspended job is
// parked on. Timeout is relative to PausedAt; the wait-timeout sweep
// fails the job once it elapses without a matching event.
type WaitingForEvent struct {
	EventType string        `json:"event_type"`
	EventKey  string        `json:"event_key"`
	Timeout   time.Duration `json:"timeout"`
	PausedAt  time.Time     `json:"paused_at"`
}

// Deadline is the instant after which the wait is considered expired.
func (w WaitingForEvent) Deadline() time.Time {
	return w.PausedAt.Add(w.Timeout)
}

// Job is the unit of durable work. Mutated only through the fenced
// store transitions; never deleted by the engine.
type Job struct {
	ID                  uuid.UUID
	WorkflowType        string
	HandlerType         HandlerType
	CorrelationID       string
	Payload             json.RawMessage
	Status              JobStatus
	RetryCount          int
	MaxRetries          int
	ErrorClassification string
	LastError           *string
	ScheduledAt         time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
	WaitingForEvent     *WaitingForEvent
	StageIndex          int
	ContextSnapshot     json.RawMessage
	Result              json.RawMessage
	Metadata            json.RawMessage
	CreatedAt           time.Time
	UpdatedAt           time.Time

	// Fencing fields: exactly one execution may hold processing status.
	CurrentExecutionID *uuid.UUID
	LockExpiresAt      *time.Time
	StateVersion       int
}

// Terminal reports whether the job can never transition again.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// ExecutionEntry is one row of a job's append-only execution history.
// It is written when an attempt starts and completed when the outcome
// is known, so a crash mid-attempt still leaves a trail.
type ExecutionEntry struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	Attempt        int
	Status         string // running | completed | failed | paused | orphaned
	WorkerID       uuid.UUID
	WorkerHostname string
	StartedAt      time.Time
	FinishedAt     *time.Time
	DurationMS     *int64
	ErrorKind      *string
	ErrorMessage   *string
}

const (
	ExecRunning   = "running"
	ExecCompleted = "completed"
	ExecFailed    = "failed"
	ExecPaused    = "paused"
	ExecOrphaned  = "orphaned"
)
