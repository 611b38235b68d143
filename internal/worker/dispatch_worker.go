package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Dispatcher is the part of the engine the dispatch worker drives.
type Dispatcher interface {
	DispatchDue(ctx context.Context) (int, error)
	RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// DepthReporter exposes lane depths; *queue.PriorityQueue satisfies it.
type DepthReporter interface {
	Depths() (high, normal, low int)
}

// DispatchWorker polls the queue store for items whose scheduled time has
// passed (new, deferred by quiet hours, or waiting out a retry backoff) and
// hands them to the worker pool.
//
// Retry times live in the store, not in memory, so they survive restarts.
type DispatchWorker struct {
	engine     Dispatcher
	depths     DepthReporter
	interval   time.Duration
	staleAfter time.Duration
	onDepths   func(high, normal, low int)
	logger     *zap.Logger
}

func NewDispatchWorker(
	engine Dispatcher,
	depths DepthReporter,
	interval, staleAfter time.Duration,
	onDepths func(high, normal, low int),
	logger *zap.Logger,
) *DispatchWorker {
	if onDepths == nil {
		onDepths = func(int, int, int) {}
	}
	return &DispatchWorker{
		engine: engine, depths: depths, interval: interval, staleAfter: staleAfter,
		onDepths: onDepths, logger: logger,
	}
}

// Run ticks every interval and dispatches any due items.
// Stops cleanly when ctx is cancelled.
func (dw *DispatchWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(dw.interval)
	defer ticker.Stop()

	dw.logger.Info("dispatch worker started", zap.Duration("interval", dw.interval))

	for {
		select {
		case <-ctx.Done():
			dw.logger.Info("dispatch worker stopping")
			return
		case <-ticker.C:
			dw.poll(ctx)
		}
	}
}

func (dw *DispatchWorker) poll(ctx context.Context) {
	if dw.staleAfter > 0 {
		if _, err := dw.engine.RequeueStale(ctx, dw.staleAfter); err != nil {
			dw.logger.Error("requeue stale items", zap.Error(err))
		}
	}

	n, err := dw.engine.DispatchDue(ctx)
	if err != nil {
		dw.logger.Error("dispatch poll error", zap.Error(err))
	}
	if n > 0 {
		dw.logger.Debug("dispatched due items", zap.Int("count", n))
	}
	dw.onDepths(dw.depths.Depths())
}
