package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// OutcomeKind tags the result of one pipeline run. Suspension is a
// distinct outcome so the type system keeps it away from the error
// classifier.
type OutcomeKind int

const (
	Completed OutcomeKind = iota
	Suspended
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Suspended:
		return "suspended"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the executor's result for one processing attempt.
//
//	Completed: Snapshot holds the final context (the job result).
//	Suspended: Suspend holds the descriptor, StageIndex the stage that
//	           suspended, Snapshot the context to resume with.
//	Failed:    Err holds the stage error, StageIndex the failing stage.
type Outcome struct {
	Kind       OutcomeKind
	StageIndex int
	Snapshot   []byte
	Suspend    *SuspendSignal
	Err        error
}

// Executor runs a pipeline's stages sequentially from a start index,
// snapshotting the context at every boundary the engine may need to
// persist from.
type Executor struct {
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Run drives stages [startIndex..) over pc. startIndex is 0 for a fresh
// attempt, or the persisted stage index for a resumed one — the same
// stage that suspended is re-invoked.
func (e *Executor) Run(ctx context.Context, p Pipeline, pc Context, startIndex int) Outcome {
	stages := p.Stages()
	if startIndex < 0 || startIndex > len(stages) {
		return Outcome{
			Kind:       Failed,
			StageIndex: startIndex,
			Err:        fmt.Errorf("stage index %d out of range for %q (%d stages)", startIndex, p.WorkflowType(), len(stages)),
		}
	}

	for i := startIndex; i < len(stages); i++ {
		stage := stages[i]
		log := e.logger.With("workflow", p.WorkflowType(), "stage", stage.Name, "stage_index", i)

		if err := ctx.Err(); err != nil {
			return Outcome{Kind: Failed, StageIndex: i, Err: err}
		}

		suspend, err := stage.Run(ctx, pc)
		if err != nil {
			log.Warn("stage failed", "err", err)
			return Outcome{Kind: Failed, StageIndex: i, Err: err}
		}

		snapshot, snapErr := pc.Snapshot()
		if snapErr != nil {
			return Outcome{Kind: Failed, StageIndex: i, Err: snapErr}
		}

		if suspend != nil {
			log.Info("stage suspended",
				"event_type", suspend.EventType,
				"event_key", suspend.EventKey,
				"timeout", suspend.Timeout)
			return Outcome{
				Kind:       Suspended,
				StageIndex: i,
				Snapshot:   snapshot,
				Suspend:    suspend,
			}
		}

		log.Debug("stage completed")
	}

	snapshot, err := pc.Snapshot()
	if err != nil {
		return Outcome{Kind: Failed, StageIndex: len(stages), Err: err}
	}
	return Outcome{Kind: Completed, StageIndex: len(stages), Snapshot: snapshot}
}
