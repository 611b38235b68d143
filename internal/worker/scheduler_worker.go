package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Lifecycle is the part of the engine the scheduler drives.
type Lifecycle interface {
	ActivateDue(ctx context.Context, now time.Time, limit int) (int, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// SchedulerWorker queues drafts whose scheduled time has passed and expires
// drafts and queued notifications past their expiry.
type SchedulerWorker struct {
	engine   Lifecycle
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

func NewSchedulerWorker(engine Lifecycle, interval time.Duration, batch int, logger *zap.Logger) *SchedulerWorker {
	return &SchedulerWorker{engine: engine, interval: interval, batch: batch, logger: logger}
}

// Run ticks every interval. Stops cleanly when ctx is cancelled.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("scheduler worker started", zap.Duration("interval", sw.interval))

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("scheduler worker stopping")
			return
		case <-ticker.C:
			sw.poll(ctx, time.Now().UTC())
		}
	}
}

func (sw *SchedulerWorker) poll(ctx context.Context, now time.Time) {
	// Expire first so a notification that is both due and expired is never
	// activated.
	expired, err := sw.engine.ExpireDue(ctx, now, sw.batch)
	if err != nil {
		sw.logger.Error("expiry poll error", zap.Error(err))
	}
	activated, err := sw.engine.ActivateDue(ctx, now, sw.batch)
	if err != nil {
		sw.logger.Error("scheduler poll error", zap.Error(err))
	}
	if expired > 0 || activated > 0 {
		sw.logger.Info("scheduler pass", zap.Int("activated", activated), zap.Int("expired", expired))
	}
}
