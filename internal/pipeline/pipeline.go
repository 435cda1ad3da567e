// Package pipeline defines workflow pipelines: ordered stages over a
// serializable context, executed with suspend/resume support.
package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// SuspendSignal parks a job until an external event arrives. It is a
// first-class stage outcome, not an error, and never reaches the error
// classifier.
type SuspendSignal struct {
	EventType string
	EventKey  string
	Timeout   time.Duration
}

// Context is a workflow-typed bag of fields threaded through stages.
// The engine treats it opaquely; it only needs to snapshot and restore
// it so a suspended job resumes with the data it paused with.
type Context interface {
	Snapshot() (json.RawMessage, error)
}

// Stage is one named unit of work. Run returns a non-nil SuspendSignal
// to park the job, or an error to fail the attempt; nil, nil continues
// to the next stage.
//
// Resume re-invokes the stage that suspended, not the next one, so a
// stage that performs side effects before suspending must be internally
// idempotent or checkpoint through the context.
type Stage struct {
	Name string
	Run  func(ctx context.Context, pc Context) (*SuspendSignal, error)
}

// Pipeline binds a workflow type to its ordered stages and typed
// context codec. Payloads are validated at the NewContext boundary so
// the engine core stays generic.
type Pipeline interface {
	WorkflowType() string
	Stages() []Stage
	// NewContext builds and validates a context from a submission payload.
	NewContext(payload json.RawMessage) (Context, error)
	// RestoreContext rebuilds a context from a persisted snapshot.
	RestoreContext(snapshot json.RawMessage) (Context, error)
}
