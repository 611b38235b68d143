package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/provider"
	"github.com/notifyhub/notifyhub/internal/queue"
	"github.com/notifyhub/notifyhub/internal/ratelimiter"
	"github.com/notifyhub/notifyhub/internal/service"
)

// Deliverer is the part of the engine a worker reports into.
type Deliverer interface {
	BeginDelivery(ctx context.Context, itemID string) (*domain.QueueItem, *domain.Notification, error)
	RecordDeliveryAttempt(ctx context.Context, itemID string, sendErr error, retryable bool) (service.Outcome, error)
	ReleaseItem(ctx context.Context, itemID string) error
}

// Worker is a single goroutine that continuously pulls items from the priority
// queue, applies per-channel rate limiting, delivers via the sender, and
// reports the outcome to the engine, which schedules retries.
type Worker struct {
	id      int
	q       *queue.PriorityQueue
	engine  Deliverer
	sender  provider.Sender
	limiter *ratelimiter.ChannelLimiters
	logger  *zap.Logger
	hooks   MetricHooks
}

// NewWorker constructs a worker. Every hook is optional (nil = no-op).
func NewWorker(
	id int,
	q *queue.PriorityQueue,
	engine Deliverer,
	sender provider.Sender,
	limiter *ratelimiter.ChannelLimiters,
	logger *zap.Logger,
	hooks MetricHooks,
) *Worker {
	if hooks.OnSent == nil {
		hooks.OnSent = func(domain.Channel, time.Duration) {}
	}
	if hooks.OnRetried == nil {
		hooks.OnRetried = func(domain.Channel) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(domain.Channel) {}
	}
	return &Worker{
		id: id, q: q, engine: engine, sender: sender,
		limiter: limiter, logger: logger, hooks: hooks,
	}
}

// Run blocks until ctx is cancelled, processing one queue item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		item, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping")
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	start := time.Now()
	log := w.logger.With(
		zap.String("notification_id", item.NotificationID),
		zap.String("queue_item_id", item.QueueItemID),
		zap.String("channel", string(item.Channel)),
	)

	qi, n, err := w.engine.BeginDelivery(ctx, item.QueueItemID)
	if errors.Is(err, service.ErrStaleItem) {
		// Cancelled, expired or deleted between claim and pickup.
		log.Debug("queue item no longer deliverable")
		return
	}
	if err != nil {
		log.Error("failed to begin delivery", zap.Error(err))
		w.release(log, item.QueueItemID)
		return
	}

	// Block here until the per-channel rate limiter grants a token.
	if err := w.limiter.Wait(ctx, qi.Channel); err != nil {
		// ctx cancelled while waiting; the worker is shutting down.
		w.release(log, item.QueueItemID)
		return
	}

	var sendErr error
	recipient, ok := findRecipient(n, qi.RecipientID)
	if ok {
		var resp *provider.SendResponse
		resp, sendErr = w.sender.Send(ctx, provider.Message{
			QueueItemID:  qi.ID,
			Channel:      qi.Channel,
			Recipient:    recipient,
			Notification: n,
		})
		if sendErr == nil && resp != nil {
			log = log.With(zap.String("provider_msg_id", resp.MessageID))
		}
	} else {
		sendErr = provider.Fatal(fmt.Errorf("recipient %s is no longer on the notification", qi.RecipientID))
	}
	elapsed := time.Since(start)

	// Outcomes are recorded even during shutdown so a completed send is never
	// attempted again.
	outcome, err := w.engine.RecordDeliveryAttempt(context.WithoutCancel(ctx), qi.ID, sendErr, provider.IsRetryable(sendErr))
	if err != nil {
		log.Error("failed to record delivery attempt", zap.Error(err), zap.NamedError("send_error", sendErr))
		return
	}

	switch outcome {
	case service.OutcomeDelivered:
		w.hooks.OnSent(qi.Channel, elapsed)
		log.Info("notification delivered", zap.Duration("latency", elapsed))
	case service.OutcomeRetrying:
		w.hooks.OnRetried(qi.Channel)
	case service.OutcomeFailed:
		w.hooks.OnFailed(qi.Channel)
	}
}

func (w *Worker) release(log *zap.Logger, itemID string) {
	if err := w.engine.ReleaseItem(context.Background(), itemID); err != nil {
		log.Warn("failed to release queue item", zap.Error(err))
	}
}

func findRecipient(n *domain.Notification, userID string) (domain.Recipient, bool) {
	for _, r := range n.Recipients {
		if r.UserID == userID {
			return r, true
		}
	}
	return domain.Recipient{}, false
}
