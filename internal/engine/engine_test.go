package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
)

// fakeStore is an in-memory JobStore with the same fencing semantics as
// the SQL transitions: conditional updates return false without error
// when the guard does not match.
type fakeStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*domain.Job
	outbox map[uuid.UUID]*domain.OutboxMessage
	execs  []*domain.ExecutionEntry

	appendExecErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:   make(map[uuid.UUID]*domain.Job),
		outbox: make(map[uuid.UUID]*domain.OutboxMessage),
	}
}

func (f *fakeStore) put(job *domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
}

func (f *fakeStore) job(id uuid.UUID) *domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (f *fakeStore) CreateWithOutbox(ctx context.Context, job *domain.Job, msg *domain.OutboxMessage) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if job.CorrelationID != "" {
		for _, existing := range f.jobs {
			if existing.WorkflowType == job.WorkflowType && existing.CorrelationID == job.CorrelationID {
				return existing.ID, false, nil
			}
		}
	}

	jc, mc := *job, *msg
	f.jobs[job.ID] = &jc
	f.outbox[msg.ID] = &mc
	return job.ID, true, nil
}

func (f *fakeStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return f.job(id), nil
}

func (f *fakeStore) Claim(ctx context.Context, id, execID uuid.UUID, lease time.Duration) (*domain.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j, ok := f.jobs[id]
	if !ok {
		return nil, false, nil
	}
	if j.Status != domain.StatusPending && j.Status != domain.StatusRetrying {
		return nil, false, nil
	}
	now := time.Now().UTC()
	if j.ScheduledAt.After(now) {
		return nil, false, nil
	}

	j.Status = domain.StatusProcessing
	j.CurrentExecutionID = &execID
	exp := now.Add(lease)
	j.LockExpiresAt = &exp
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.StateVersion++

	cp := *j
	return &cp, true, nil
}

func (f *fakeStore) fenced(j *domain.Job, execID uuid.UUID) bool {
	return j != nil &&
		j.Status == domain.StatusProcessing &&
		j.CurrentExecutionID != nil &&
		*j.CurrentExecutionID == execID
}

func (f *fakeStore) clearFence(j *domain.Job) {
	j.CurrentExecutionID = nil
	j.LockExpiresAt = nil
	j.StateVersion++
}

func (f *fakeStore) ExtendLease(ctx context.Context, id, execID uuid.UUID, lease time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j := f.jobs[id]
	if !f.fenced(j, execID) {
		return false, nil
	}
	exp := time.Now().UTC().Add(lease)
	j.LockExpiresAt = &exp
	return true, nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, id, execID uuid.UUID, result []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j := f.jobs[id]
	if !f.fenced(j, execID) {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = domain.StatusCompleted
	j.CompletedAt = &now
	j.Result = result
	f.clearFence(j)
	return true, nil
}

func (f *fakeStore) MarkRetrying(ctx context.Context, id, execID uuid.UUID, scheduledAt time.Time, errKind faults.Kind, lastError string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j := f.jobs[id]
	if !f.fenced(j, execID) || j.RetryCount >= j.MaxRetries {
		return false, nil
	}
	j.Status = domain.StatusRetrying
	j.RetryCount++
	j.ScheduledAt = scheduledAt
	j.LastError = &lastError
	j.ErrorClassification = string(faults.Retryable)
	f.clearFence(j)
	return true, nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id, execID uuid.UUID, class faults.Class, errKind faults.Kind, lastError string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j := f.jobs[id]
	if !f.fenced(j, execID) {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = domain.StatusFailed
	j.FailedAt = &now
	j.LastError = &lastError
	j.ErrorClassification = string(class)
	f.clearFence(j)
	return true, nil
}

func (f *fakeStore) MarkWaiting(ctx context.Context, id, execID uuid.UUID, wait domain.WaitingForEvent, stageIndex int, snapshot []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j := f.jobs[id]
	if !f.fenced(j, execID) {
		return false, nil
	}
	w := wait
	j.Status = domain.StatusWaitingForEvent
	j.WaitingForEvent = &w
	j.StageIndex = stageIndex
	j.ContextSnapshot = snapshot
	f.clearFence(j)
	return true, nil
}

func (f *fakeStore) ResumeWaiting(ctx context.Context, eventType, eventKey string) (*domain.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var oldest *domain.Job
	for _, j := range f.jobs {
		if j.Status != domain.StatusWaitingForEvent || j.WaitingForEvent == nil {
			continue
		}
		if j.WaitingForEvent.EventType != eventType || j.WaitingForEvent.EventKey != eventKey {
			continue
		}
		if oldest == nil || j.WaitingForEvent.PausedAt.Before(oldest.WaitingForEvent.PausedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, false, nil
	}

	oldest.Status = domain.StatusRetrying
	oldest.ScheduledAt = time.Now().UTC()
	oldest.WaitingForEvent = nil
	oldest.StateVersion++

	cp := *oldest
	return &cp, true, nil
}

func (f *fakeStore) ExpireWait(ctx context.Context, id uuid.UUID, retryable bool, lastError string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	j := f.jobs[id]
	if j == nil || j.Status != domain.StatusWaitingForEvent {
		return false, nil
	}
	now := time.Now().UTC()
	if retryable {
		j.Status = domain.StatusRetrying
		j.ScheduledAt = now
		j.ErrorClassification = string(faults.Retryable)
	} else {
		j.Status = domain.StatusFailed
		j.FailedAt = &now
		j.ErrorClassification = string(faults.Permanent)
	}
	j.LastError = &lastError
	j.WaitingForEvent = nil
	j.StateVersion++
	return true, nil
}

func (f *fakeStore) DueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due []*domain.Job
	for _, j := range f.jobs {
		if j.Status == domain.StatusRetrying && !j.ScheduledAt.After(now) {
			cp := *j
			due = append(due, &cp)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (f *fakeStore) ExpiredWaits(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var expired []*domain.Job
	for _, j := range f.jobs {
		if j.Status == domain.StatusWaitingForEvent && j.WaitingForEvent != nil &&
			j.WaitingForEvent.Deadline().Before(now) {
			cp := *j
			expired = append(expired, &cp)
		}
		if len(expired) == limit {
			break
		}
	}
	return expired, nil
}

func (f *fakeStore) AppendExecution(ctx context.Context, entry *domain.ExecutionEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendExecErr != nil {
		return f.appendExecErr
	}
	cp := *entry
	cp.Attempt = 1
	for _, e := range f.execs {
		if e.JobID == entry.JobID {
			cp.Attempt++
		}
	}
	f.execs = append(f.execs, &cp)
	return nil
}

func (f *fakeStore) CompleteExecution(ctx context.Context, execID uuid.UUID, status string, errKind, errMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.execs {
		if e.ID == execID && e.FinishedAt == nil {
			now := time.Now().UTC()
			dur := now.Sub(e.StartedAt).Milliseconds()
			e.Status = status
			e.FinishedAt = &now
			e.DurationMS = &dur
			e.ErrorKind = errKind
			e.ErrorMessage = errMessage
		}
	}
	return nil
}

func (f *fakeStore) History(ctx context.Context, jobID uuid.UUID) ([]domain.ExecutionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.ExecutionEntry
	for _, e := range f.execs {
		if e.JobID == jobID {
			out = append(out, *e)
		}
	}
	return out, nil
}

type publishCall struct {
	Destination string
	JobID       uuid.UUID
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(ctx context.Context, destination string, jobID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, publishCall{Destination: destination, JobID: jobID})
	return nil
}

func (p *fakePublisher) published() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}
