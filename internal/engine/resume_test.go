package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/pipeline"
)

func seedWaitingJob(st *fakeStore, eventType, eventKey string) *domain.Job {
	job := seedJob(st)
	job.Status = domain.StatusWaitingForEvent
	job.StageIndex = 1
	job.ContextSnapshot = json.RawMessage(`{"ran":["fetch"]}`)
	job.WaitingForEvent = &domain.WaitingForEvent{
		EventType: eventType,
		EventKey:  eventKey,
		Timeout:   time.Hour,
		PausedAt:  time.Now().UTC(),
	}
	st.put(job)
	return job
}

func TestDeliverEventResumesWaitingJob(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	trigger := NewResumeTrigger(st, pub, discardLogger())
	job := seedWaitingJob(st, "approval-granted", "invoice-42")

	resumed, err := trigger.DeliverEvent(context.Background(), "approval-granted", "invoice-42")
	require.NoError(t, err)
	assert.True(t, resumed)

	got := st.job(job.ID)
	assert.Equal(t, domain.StatusRetrying, got.Status)
	assert.Nil(t, got.WaitingForEvent)
	assert.False(t, got.ScheduledAt.After(time.Now().UTC()))
	// The resume point survives the transition.
	assert.Equal(t, 1, got.StageIndex)
	assert.NotEmpty(t, got.ContextSnapshot)

	calls := pub.published()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.DestinationFor(testWorkflow), calls[0].Destination)
	assert.Equal(t, job.ID, calls[0].JobID)
}

func TestDeliverEventWithoutWaiterIsNoOp(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	trigger := NewResumeTrigger(st, pub, discardLogger())

	resumed, err := trigger.DeliverEvent(context.Background(), "approval-granted", "invoice-42")
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Empty(t, pub.published())
}

func TestDeliverEventIsIdempotent(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	trigger := NewResumeTrigger(st, pub, discardLogger())
	seedWaitingJob(st, "approval-granted", "invoice-42")

	resumed, err := trigger.DeliverEvent(context.Background(), "approval-granted", "invoice-42")
	require.NoError(t, err)
	assert.True(t, resumed)

	// The second delivery finds no waiter; nothing changes.
	resumed, err = trigger.DeliverEvent(context.Background(), "approval-granted", "invoice-42")
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Len(t, pub.published(), 1)
}

func TestDeliverEventRequiresDescriptor(t *testing.T) {
	trigger := NewResumeTrigger(newFakeStore(), &fakePublisher{}, discardLogger())

	_, err := trigger.DeliverEvent(context.Background(), "", "invoice-42")
	require.Error(t, err)
	_, err = trigger.DeliverEvent(context.Background(), "approval-granted", "")
	require.Error(t, err)
}

func TestDeliverEventSurvivesPublishFailure(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	trigger := NewResumeTrigger(st, pub, discardLogger())
	job := seedWaitingJob(st, "approval-granted", "invoice-42")

	// The state transition already happened; the retry sweep will carry
	// the job the rest of the way.
	resumed, err := trigger.DeliverEvent(context.Background(), "approval-granted", "invoice-42")
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, domain.StatusRetrying, st.job(job.ID).Status)
}

// TestSuspendResumeRoundTrip drives a job through suspend, event
// delivery, and the resumed attempt: the suspended stage is re-invoked
// with the saved context and runs to completion.
func TestSuspendResumeRoundTrip(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}

	approved := false
	gate := pipeline.TypedStage[syncCtx]{
		Name: "await-approval",
		Run: func(ctx context.Context, c *syncCtx) (*pipeline.SuspendSignal, error) {
			c.Ran = append(c.Ran, "await-approval")
			if !approved {
				return &pipeline.SuspendSignal{
					EventType: "approval-granted",
					EventKey:  "invoice-42",
					Timeout:   time.Hour,
				}, nil
			}
			return nil, nil
		},
	}
	proc := newTestProcessor(st, stagesPipeline(recordStage("fetch"), gate, recordStage("apply")))
	trigger := NewResumeTrigger(st, pub, discardLogger())
	job := seedJob(st)

	require.NoError(t, proc.Process(context.Background(), job.ID))
	require.Equal(t, domain.StatusWaitingForEvent, st.job(job.ID).Status)

	approved = true
	resumed, err := trigger.DeliverEvent(context.Background(), "approval-granted", "invoice-42")
	require.NoError(t, err)
	require.True(t, resumed)

	require.NoError(t, proc.Process(context.Background(), job.ID))

	got := st.job(job.ID)
	require.Equal(t, domain.StatusCompleted, got.Status)

	var result syncCtx
	require.NoError(t, json.Unmarshal(got.Result, &result))
	// fetch ran once; the gate ran in both attempts.
	assert.Equal(t, []string{"fetch", "await-approval", "await-approval", "apply"}, result.Ran)

	history, err := st.History(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.ExecPaused, history[0].Status)
	assert.Equal(t, domain.ExecCompleted, history[1].Status)
}
