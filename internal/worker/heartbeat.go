package worker

import (
	"context"
	"time"
)

// Register upserts the worker row so execution history and operators
// can attribute attempts. Safe to call on restart.
func (w *Worker) Register(ctx context.Context) error {
	return w.store.RegisterWorker(ctx, w.ID, w.Hostname, w.Destinations)
}

// RunHeartbeat updates last_heartbeat every 5 seconds so the
// maintenance loop can distinguish live workers from crashed ones.
// Run in a goroutine alongside Start.
func (w *Worker) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, w.ID); err != nil && ctx.Err() == nil {
				w.logger.Error("heartbeat failed", "err", err)
			}
		}
	}
}
