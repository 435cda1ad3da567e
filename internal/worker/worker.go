// Package worker runs the competing-consumer pool: dequeue a job id,
// run the processor to completion (success, pause, retry-scheduled, or
// failure), then acknowledge.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/broker"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/engine"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/ratelimit"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/store"
)

type Worker struct {
	ID           uuid.UUID
	Hostname     string
	Destinations []string

	store     *store.PG
	rdb       *redis.Client
	processor *engine.Processor
	pub       enginePublisher
	logger    *slog.Logger

	// Loops is the number of consumer goroutines; sem bounds concurrent
	// pipeline executions across them.
	Loops int
	sem   *semaphore.Weighted

	startDone     chan struct{}
	startDoneOnce sync.Once
}

type enginePublisher interface {
	Publish(ctx context.Context, destination string, jobID uuid.UUID) error
}

func New(
	id uuid.UUID,
	hostname string,
	destinations []string,
	st *store.PG,
	rdb *redis.Client,
	processor *engine.Processor,
	pub enginePublisher,
	logger *slog.Logger,
	loops int,
	maxActive int64,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if loops <= 0 {
		loops = 4
	}
	if maxActive <= 0 {
		maxActive = int64(loops)
	}
	return &Worker{
		ID:           id,
		Hostname:     hostname,
		Destinations: destinations,
		store:        st,
		rdb:          rdb,
		processor:    processor,
		pub:          pub,
		logger:       logger,
		Loops:        loops,
		sem:          semaphore.NewWeighted(maxActive),
		startDone:    make(chan struct{}),
	}
}

// Start runs the consumer loops until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	defer w.startDoneOnce.Do(func() { close(w.startDone) })

	w.logger.Info("worker starting",
		"worker_id", w.ID,
		"destinations", w.Destinations,
		"loops", w.Loops)

	var wg sync.WaitGroup
	for i := 0; i < w.Loops; i++ {
		consumer := broker.NewConsumer(w.rdb, ConsumerGroup,
			consumerName(w.ID, i), w.Destinations, w.logger)
		if err := consumer.EnsureGroups(ctx); err != nil {
			w.logger.Error("consumer group setup failed", "err", err)
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx, w.handle)
		}()
	}
	wg.Wait()
}

// DrainAndWait blocks until the consumer loops exit or the caller's
// deadline hits.
func (w *Worker) DrainAndWait(ctx context.Context) error {
	select {
	case <-w.startDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumerGroup is the shared Redis consumer group name; all workers
// compete within it.
const ConsumerGroup = "engine-workers"

func consumerName(id uuid.UUID, loop int) string {
	return fmt.Sprintf("%s-%d", id, loop)
}

// handle processes one delivery. Returning an error routes the raw
// message to the DLQ stream; every other outcome is recorded durably by
// the processor before we return.
func (w *Worker) handle(ctx context.Context, d broker.Delivery) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		// Shutting down; leave the entry for another worker.
		return broker.ErrDeferDelivery
	}
	defer w.sem.Release(1)

	ok, err := ratelimit.CanClaim(ctx, w.rdb, d.Destination)
	if err != nil {
		w.logger.Warn("concurrency check failed, proceeding", "err", err)
		ok = true
	}
	if !ok {
		// Destination at capacity: push the id back and back off a bit
		// so this loop does not spin on a saturated destination. If the
		// requeue publish fails too, keep the original entry unacked —
		// acking here would leave the job with no broker entry and no
		// sweep covering it.
		w.logger.Info("destination at capacity, requeueing",
			"job_id", d.JobID, "destination", d.Destination)
		time.Sleep(200 * time.Millisecond)
		if err := w.pub.Publish(ctx, d.Destination, d.JobID); err != nil {
			w.logger.Error("requeue failed, deferring delivery",
				"job_id", d.JobID, "err", err)
			return broker.ErrDeferDelivery
		}
		return nil
	}

	// The inflight token is the job id so the maintenance loop can free
	// the slot of a crashed worker when it reaps the job's lease.
	token := d.JobID.String()
	if err := ratelimit.ClaimInflight(ctx, w.rdb, d.Destination, token); err != nil {
		w.logger.Warn("inflight claim failed", "err", err)
	}
	defer func() {
		if err := ratelimit.ReleaseInflight(context.WithoutCancel(ctx), w.rdb, d.Destination, token); err != nil {
			w.logger.Warn("inflight release failed", "err", err)
		}
	}()

	return w.processor.Process(ctx, d.JobID)
}
