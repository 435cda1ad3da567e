package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
)

// TypedStage is a Stage whose Run sees the workflow's concrete context
// type instead of the opaque interface.
type TypedStage[C any] struct {
	Name string
	Run  func(ctx context.Context, c *C) (*SuspendSignal, error)
}

// Typed adapts a strongly typed workflow definition to the Pipeline
// interface. C must round-trip through encoding/json.
type Typed[C any] struct {
	Type      string
	StageList []TypedStage[C]
	// Validate runs after payload decoding; reject bad submissions here
	// with a faults.KindValidation error.
	Validate func(c *C) error
}

type typedContext[C any] struct {
	value *C
}

func (tc *typedContext[C]) Snapshot() (json.RawMessage, error) {
	b, err := json.Marshal(tc.value)
	if err != nil {
		return nil, fmt.Errorf("snapshot context: %w", err)
	}
	return b, nil
}

func (p *Typed[C]) WorkflowType() string { return p.Type }

func (p *Typed[C]) Stages() []Stage {
	stages := make([]Stage, len(p.StageList))
	for i, ts := range p.StageList {
		run := ts.Run
		stages[i] = Stage{
			Name: ts.Name,
			Run: func(ctx context.Context, pc Context) (*SuspendSignal, error) {
				tc, ok := pc.(*typedContext[C])
				if !ok {
					return nil, faults.New(faults.KindConfig,
						"pipeline %q received foreign context %T", p.Type, pc)
				}
				return run(ctx, tc.value)
			},
		}
	}
	return stages
}

func (p *Typed[C]) NewContext(payload json.RawMessage) (Context, error) {
	var c C
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, faults.Wrap(faults.KindValidation,
			fmt.Errorf("decode %q payload: %w", p.Type, err))
	}
	if p.Validate != nil {
		if err := p.Validate(&c); err != nil {
			return nil, err
		}
	}
	return &typedContext[C]{value: &c}, nil
}

func (p *Typed[C]) RestoreContext(snapshot json.RawMessage) (Context, error) {
	var c C
	if err := json.Unmarshal(snapshot, &c); err != nil {
		return nil, fmt.Errorf("restore %q context: %w", p.Type, err)
	}
	return &typedContext[C]{value: &c}, nil
}
