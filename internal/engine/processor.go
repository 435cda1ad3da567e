package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/faults"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/pipeline"
)

// Processor turns a dequeued job id into exactly one fenced processing
// attempt. It is the only component that moves jobs to terminal states.
type Processor struct {
	store    JobStore
	registry *pipeline.Registry
	executor *pipeline.Executor
	logger   *slog.Logger

	WorkerID uuid.UUID
	Hostname string
	Lease    time.Duration
}

func NewProcessor(
	store JobStore,
	registry *pipeline.Registry,
	executor *pipeline.Executor,
	logger *slog.Logger,
	workerID uuid.UUID,
	hostname string,
	lease time.Duration,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if lease <= 0 {
		lease = 60 * time.Second
	}
	return &Processor{
		store:    store,
		registry: registry,
		executor: executor,
		logger:   logger,
		WorkerID: workerID,
		Hostname: hostname,
		Lease:    lease,
	}
}

// Process runs one attempt for jobID. It returns nil for every expected
// outcome (completed, retry scheduled, suspended, lost claim) and an
// error only for permanent or retry-exhausted failures, so the broker
// layer can apply its dead-letter policy.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) error {
	execID := uuid.New()
	job, claimed, err := p.store.Claim(ctx, jobID, execID, p.Lease)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		return p.explainLostClaim(ctx, jobID)
	}

	log := p.logger.With(
		"job_id", job.ID,
		"workflow", job.WorkflowType,
		"exec_id", execID,
		"retry_count", job.RetryCount)

	entry := &domain.ExecutionEntry{
		ID:             execID,
		JobID:          job.ID,
		Status:         domain.ExecRunning,
		WorkerID:       p.WorkerID,
		WorkerHostname: p.Hostname,
		StartedAt:      time.Now().UTC(),
	}
	if err := p.store.AppendExecution(ctx, entry); err != nil {
		// Without the history row the attempt is unaccounted for; put the
		// job back on the retry schedule rather than running blind.
		log.Error("execution history write failed", "err", err)
		_, _ = p.store.MarkRetrying(ctx, job.ID, execID,
			time.Now().UTC().Add(Backoff(job.RetryCount)),
			faults.KindUnavailable, fmt.Sprintf("execution history write failed: %v", err))
		return nil
	}

	log.Info("job attempt started")

	pl, err := p.registry.Lookup(job.WorkflowType)
	if err != nil {
		return p.failPermanently(ctx, job, execID, faults.Wrap(faults.KindConfig, err), log)
	}

	pc, startIndex, err := p.buildContext(pl, job)
	if err != nil {
		return p.failPermanently(ctx, job, execID, err, log)
	}

	stopLease := make(chan struct{})
	go p.extendLease(ctx, job.ID, execID, stopLease, log)

	outcome := p.executor.Run(ctx, pl, pc, startIndex)
	close(stopLease)

	switch outcome.Kind {
	case pipeline.Completed:
		return p.complete(ctx, job, execID, outcome, log)
	case pipeline.Suspended:
		return p.suspend(ctx, job, execID, outcome, log)
	case pipeline.Failed:
		return p.fail(ctx, job, execID, outcome, log)
	default:
		return fmt.Errorf("unexpected outcome %v for job %s", outcome.Kind, job.ID)
	}
}

// buildContext reconstructs the pipeline context: from the persisted
// suspend snapshot when one exists, otherwise fresh from the payload.
func (p *Processor) buildContext(pl pipeline.Pipeline, job *domain.Job) (pipeline.Context, int, error) {
	if len(job.ContextSnapshot) > 0 {
		pc, err := pl.RestoreContext(job.ContextSnapshot)
		if err != nil {
			return nil, 0, faults.Wrap(faults.KindValidation, err)
		}
		return pc, job.StageIndex, nil
	}
	pc, err := pl.NewContext(job.Payload)
	if err != nil {
		return nil, 0, err
	}
	return pc, 0, nil
}

func (p *Processor) complete(ctx context.Context, job *domain.Job, execID uuid.UUID, outcome pipeline.Outcome, log *slog.Logger) error {
	updated, err := p.store.MarkCompleted(ctx, job.ID, execID, outcome.Snapshot)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !updated {
		log.Warn("stale completion ignored")
		return nil
	}
	p.finishExecution(ctx, execID, domain.ExecCompleted, nil, log)
	log.Info("job completed")
	return nil
}

// defaultWaitTimeout applies when a stage suspends without a timeout;
// a zero timeout would expire on the next sweep pass.
const defaultWaitTimeout = time.Hour

func (p *Processor) suspend(ctx context.Context, job *domain.Job, execID uuid.UUID, outcome pipeline.Outcome, log *slog.Logger) error {
	timeout := outcome.Suspend.Timeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	wait := domain.WaitingForEvent{
		EventType: outcome.Suspend.EventType,
		EventKey:  outcome.Suspend.EventKey,
		Timeout:   timeout,
		PausedAt:  time.Now().UTC(),
	}
	updated, err := p.store.MarkWaiting(ctx, job.ID, execID, wait, outcome.StageIndex, outcome.Snapshot)
	if err != nil {
		return fmt.Errorf("mark waiting: %w", err)
	}
	if !updated {
		log.Warn("stale suspend ignored")
		return nil
	}
	p.finishExecution(ctx, execID, domain.ExecPaused, nil, log)
	log.Info("job suspended",
		"event_type", wait.EventType,
		"event_key", wait.EventKey,
		"timeout", wait.Timeout,
		"stage_index", outcome.StageIndex)
	return nil
}

func (p *Processor) fail(ctx context.Context, job *domain.Job, execID uuid.UUID, outcome pipeline.Outcome, log *slog.Logger) error {
	class := faults.Classify(outcome.Err)
	if class == faults.Retryable && job.RetryCount < job.MaxRetries {
		scheduledAt := time.Now().UTC().Add(Backoff(job.RetryCount))
		updated, err := p.store.MarkRetrying(ctx, job.ID, execID, scheduledAt,
			faults.KindOf(outcome.Err), outcome.Err.Error())
		if err != nil {
			return fmt.Errorf("mark retrying: %w", err)
		}
		if !updated {
			log.Warn("stale retry transition ignored")
			return nil
		}
		p.finishExecution(ctx, execID, domain.ExecFailed, outcome.Err, log)
		log.Warn("job attempt failed, retry scheduled",
			"err", outcome.Err,
			"stage_index", outcome.StageIndex,
			"scheduled_at", scheduledAt,
			"max_retries", job.MaxRetries)
		return nil
	}

	return p.failPermanently(ctx, job, execID, outcome.Err, log)
}

func (p *Processor) failPermanently(ctx context.Context, job *domain.Job, execID uuid.UUID, cause error, log *slog.Logger) error {
	class := faults.Classify(cause)
	updated, err := p.store.MarkFailed(ctx, job.ID, execID, class, faults.KindOf(cause), cause.Error())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if !updated {
		log.Warn("stale failure transition ignored")
		return nil
	}
	p.finishExecution(ctx, execID, domain.ExecFailed, cause, log)
	log.Error("job failed",
		"err", cause,
		"classification", class,
		"retry_count", job.RetryCount)
	return fmt.Errorf("job %s failed (%s): %w", job.ID, class, cause)
}

// explainLostClaim distinguishes a missing row (integrity error, must
// surface) from an ordinary lost race or redelivery (no-op).
func (p *Processor) explainLostClaim(ctx context.Context, jobID uuid.UUID) error {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s after failed claim: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	p.logger.Info("claim lost, skipping",
		"job_id", jobID,
		"status", job.Status,
		"scheduled_at", job.ScheduledAt)
	return nil
}

func (p *Processor) finishExecution(ctx context.Context, execID uuid.UUID, status string, cause error, log *slog.Logger) {
	var errKind, errMsg *string
	if cause != nil {
		k := string(faults.KindOf(cause))
		m := cause.Error()
		errKind, errMsg = &k, &m
	}
	if err := p.store.CompleteExecution(ctx, execID, status, errKind, errMsg); err != nil {
		// Job state is already final; losing the history outcome is
		// logged but not fatal.
		log.Error("execution history completion failed", "err", err)
	}
}

// extendLease refreshes the claim lease at a third of its duration so
// the reaper never reclaims a job that is still actively running.
func (p *Processor) extendLease(ctx context.Context, jobID, execID uuid.UUID, stop <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(p.Lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := p.store.ExtendLease(ctx, jobID, execID, p.Lease)
			if err != nil {
				log.Warn("lease extension failed", "err", err)
				continue
			}
			if !ok {
				log.Warn("lease extension fenced; stopping extender")
				return
			}
		}
	}
}
