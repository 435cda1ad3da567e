package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/domain"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/engine"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/ratelimit"
	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/store"
)

// maintenanceLockKey is the PostgreSQL advisory lock key for the
// maintenance election. One worker per cluster runs the sweeps.
const maintenanceLockKey = int64(0x4B4F4455)

const (
	retrySweepSpec   = "*/5 * * * * *"
	timeoutSweepSpec = "*/10 * * * * *"
	reapSweepSpec    = "*/30 * * * * *"
)

// RunMaintenance competes for the advisory lock and, on the winner,
// schedules the periodic sweeps: retry re-enqueue, wait-timeout expiry,
// orphaned-lease recovery, and dead-worker marking. The lock is held on
// a dedicated connection so it auto-releases if the process crashes;
// losers retry every 10 seconds.
func RunMaintenance(
	ctx context.Context,
	st *store.PG,
	rc *redis.Client,
	sweeper *engine.Sweeper,
	logger *slog.Logger,
) {
	for {
		if ctx.Err() != nil {
			return
		}

		release, won, err := st.AcquireMaintenanceLock(ctx, maintenanceLockKey)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("maintenance election failed", "err", err)
			}
			time.Sleep(5 * time.Second)
			continue
		}
		if !won {
			time.Sleep(10 * time.Second)
			continue
		}

		logger.Info("maintenance: won election")
		runMaintenanceLoop(ctx, st, rc, sweeper, logger)
		release()
	}
}

func runMaintenanceLoop(
	ctx context.Context,
	st *store.PG,
	rc *redis.Client,
	sweeper *engine.Sweeper,
	logger *slog.Logger,
) {
	c := cron.New(cron.WithSeconds())
	if err := sweeper.Schedule(ctx, c, retrySweepSpec, timeoutSweepSpec); err != nil {
		logger.Error("maintenance: sweep scheduling failed", "err", err)
		return
	}
	if _, err := c.AddFunc(reapSweepSpec, func() {
		reapOrphans(ctx, st, rc, logger)
		reapDeadWorkers(ctx, st, logger)
	}); err != nil {
		logger.Error("maintenance: reap scheduling failed", "err", err)
		return
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

// reapOrphans moves expired processing jobs to retrying, due now. The
// stream entry is usually gone by this point (an autoclaim redelivery
// lost the claim and acked it), so the retry sweep is what re-enqueues
// the job; here we unlock the row, close the abandoned history entry,
// and free the inflight slot.
func reapOrphans(ctx context.Context, st *store.PG, rc *redis.Client, logger *slog.Logger) {
	reclaimed, err := st.ReapOrphans(ctx, 500)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("maintenance: orphan reap failed", "err", err)
		}
		return
	}

	for _, o := range reclaimed {
		if o.ExecID != nil {
			if err := st.MarkExecutionOrphaned(ctx, *o.ExecID); err != nil {
				logger.Warn("maintenance: orphan history update failed",
					"exec_id", o.ExecID, "err", err)
			}
			dest := domain.DestinationFor(o.WorkflowType)
			ratelimit.ReleaseInflight(ctx, rc, dest, o.JobID.String()) //nolint:errcheck
		}
		logger.Info("maintenance: requeued orphan",
			"job_id", o.JobID, "exec_id", o.ExecID)
	}
}

func reapDeadWorkers(ctx context.Context, st *store.PG, logger *slog.Logger) {
	n, err := st.ReapDeadWorkers(ctx, 30*time.Second)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("maintenance: dead worker reap failed", "err", err)
		}
		return
	}
	if n > 0 {
		logger.Info("maintenance: marked workers dead", "count", n)
	}
}
