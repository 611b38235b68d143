package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper force-closes idle realtime connections; *realtime.Broadcaster
// satisfies it.
type Sweeper interface {
	CleanupInactive(threshold time.Duration) int
}

// SweeperWorker runs inactivity cleanup on a fixed interval.
type SweeperWorker struct {
	sweeper   Sweeper
	interval  time.Duration
	threshold time.Duration
	logger    *zap.Logger
}

func NewSweeperWorker(s Sweeper, interval, threshold time.Duration, logger *zap.Logger) *SweeperWorker {
	return &SweeperWorker{sweeper: s, interval: interval, threshold: threshold, logger: logger}
}

func (sw *SweeperWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("sweeper worker started",
		zap.Duration("interval", sw.interval), zap.Duration("threshold", sw.threshold))

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("sweeper worker stopping")
			return
		case <-ticker.C:
			if n := sw.sweeper.CleanupInactive(sw.threshold); n > 0 {
				sw.logger.Info("closed inactive connections", zap.Int("count", n))
			}
		}
	}
}
