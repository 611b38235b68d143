package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/queue"
	"github.com/notifyhub/notifyhub/internal/retry"
)

// ErrStaleItem is returned by BeginDelivery when the item or its notification
// is no longer deliverable (cancelled, expired, deleted or already final).
// Workers drop the item without recording an attempt.
var ErrStaleItem = errors.New("queue item is no longer deliverable")

// errAlreadyActive aborts an activation that lost the race to another one.
var errAlreadyActive = errors.New("notification already activated")

// Outcome is the result of recording one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
)

// plan is the preference decision for every (recipient, channel) pair.
type plan struct {
	items   []*domain.QueueItem
	pending int      // items that will be attempted, now or after quiet hours
	live    []string // recipients with at least one channel deliverable now
	blocked []domain.Channel
}

// activate moves a draft to queued and creates one queue item per
// (recipient, channel). Suppressed pairs are stored already cancelled with
// the suppression reason, so a notification nobody may receive still goes
// through queued and then settles. Preferences are resolved before the
// notification is locked.
func (e *Engine) activate(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	now := e.now()
	p, err := e.plan(ctx, n, now)
	if err != nil {
		return nil, err
	}

	updated, err := e.notifications.Update(ctx, n.ID, func(n *domain.Notification) error {
		if n.Status != domain.StatusDraft {
			return errAlreadyActive
		}
		if err := n.TransitionTo(domain.StatusQueued, now); err != nil {
			return err
		}
		for _, ch := range p.blocked {
			if ds := n.ChannelStatus(ch); ds != nil {
				ds.State = domain.DeliveryBlocked
			}
		}
		return nil
	})
	if errors.Is(err, errAlreadyActive) {
		return e.notifications.Get(ctx, n.ID)
	}
	if err != nil {
		return nil, err
	}

	if err := e.items.CreateItems(ctx, p.items); err != nil {
		return nil, fmt.Errorf("create queue items: %w", err)
	}

	for _, uid := range p.live {
		e.broadcast.SendNotificationToUser(uid, updated)
	}
	if p.pending == 0 {
		e.logger.Info("every recipient suppressed", zap.String("notification_id", n.ID))
		if err := e.settle(ctx, n.ID, now); err != nil {
			e.logger.Error("settle suppressed notification", zap.String("notification_id", n.ID), zap.Error(err))
		}
		return updated, nil
	}
	if _, err := e.DispatchDue(ctx); err != nil {
		// The poller picks the items up on its next tick.
		e.logger.Warn("immediate dispatch failed", zap.String("notification_id", n.ID), zap.Error(err))
	}
	return updated, nil
}

func (e *Engine) plan(ctx context.Context, n *domain.Notification, now time.Time) (plan, error) {
	policy := n.Metadata.RetryPolicy.WithDefaults(e.retryDefaults)
	deliverable := make(map[domain.Channel]bool, len(n.Channels))

	var p plan
	for _, r := range n.Recipients {
		pref, err := e.preferences.GetOrCreate(ctx, r.UserID, e.defaultPreference(r.UserID))
		if err != nil {
			return plan{}, fmt.Errorf("load preferences for %s: %w", r.UserID, err)
		}
		live := false
		for _, ch := range n.Channels {
			d := e.resolver.Decide(n, pref, ch, now)
			it := &domain.QueueItem{
				ID:             uuid.New().String(),
				NotificationID: n.ID,
				RecipientID:    r.UserID,
				Channel:        ch,
				Priority:       d.Priority,
				Status:         domain.QueuePending,
				MaxAttempts:    policy.MaxAttempts,
				ScheduledAt:    now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			p.items = append(p.items, it)

			switch {
			case d.Deferred():
				e.hooks.suppressed(ch, d.Reason)
				it.ScheduledAt = *d.DeferUntil
				it.Deferred = true
			case d.Deliver:
				live = true
			default:
				e.hooks.suppressed(ch, d.Reason)
				it.Status = domain.QueueCancelled
				it.LastError = string(d.Reason)
				continue
			}
			deliverable[ch] = true
			p.pending++
		}
		if live {
			p.live = append(p.live, r.UserID)
		}
	}
	for _, ch := range n.Channels {
		if !deliverable[ch] {
			p.blocked = append(p.blocked, ch)
		}
	}
	return p, nil
}

func (e *Engine) defaultPreference(userID string) func() *domain.Preference {
	return func() *domain.Preference { return domain.DefaultPreferenceFor(userID, e.now()) }
}

// DispatchDue claims due queue items and hands them to the dispatcher. Items
// that do not fit are released back to pending for the next pass.
func (e *Engine) DispatchDue(ctx context.Context) (int, error) {
	if e.dispatcher == nil {
		return 0, nil
	}
	now := e.now()
	claimed, err := e.items.ClaimDue(ctx, now, e.dispatchBatch)
	if err != nil {
		return 0, fmt.Errorf("claim due items: %w", err)
	}

	for i, it := range claimed {
		err := e.dispatcher.Enqueue(queue.Item{
			QueueItemID:    it.ID,
			NotificationID: it.NotificationID,
			Channel:        it.Channel,
			Priority:       it.Priority,
		})
		if err == nil {
			continue
		}
		rest := make([]string, 0, len(claimed)-i)
		for _, r := range claimed[i:] {
			rest = append(rest, r.ID)
		}
		if rerr := e.items.Release(ctx, rest, now); rerr != nil {
			return i, fmt.Errorf("release %d items after %v: %w", len(rest), err, rerr)
		}
		if errors.Is(err, domain.ErrQueueFull) {
			e.logger.Warn("dispatch queue full, items released", zap.Int("released", len(rest)))
			return i, nil
		}
		return i, err
	}
	return len(claimed), nil
}

// ReleaseItem hands a claimed item back to the poller without counting an
// attempt. Workers call it when they stop mid-delivery.
func (e *Engine) ReleaseItem(ctx context.Context, itemID string) error {
	return e.items.Release(ctx, []string{itemID}, e.now())
}

// RequeueStale recovers items stuck in processing for longer than staleAfter.
func (e *Engine) RequeueStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	now := e.now()
	n, err := e.items.RequeueStale(ctx, now.Add(-staleAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Warn("requeued stale queue items", zap.Int("count", n))
	}
	return n, nil
}

// BeginDelivery loads a claimed item and its notification and marks the
// notification as sending. It returns ErrStaleItem when there is nothing to
// deliver; in that case the item is cancelled.
func (e *Engine) BeginDelivery(ctx context.Context, itemID string) (*domain.QueueItem, *domain.Notification, error) {
	item, err := e.items.Get(ctx, itemID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, ErrStaleItem
	}
	if err != nil {
		return nil, nil, err
	}
	if item.Status != domain.QueueProcessing {
		return nil, nil, ErrStaleItem
	}

	now := e.now()
	n, err := e.notifications.Update(ctx, item.NotificationID, func(n *domain.Notification) error {
		switch {
		case n.Status == domain.StatusDraft, n.Status.IsTerminal():
			return ErrStaleItem
		case n.ExpiresAt != nil && !n.ExpiresAt.After(now) && n.Status == domain.StatusQueued:
			return ErrStaleItem
		case n.Status == domain.StatusQueued:
			return n.TransitionTo(domain.StatusSending, now)
		}
		return nil
	})
	if errors.Is(err, ErrStaleItem) || errors.Is(err, domain.ErrNotFound) {
		e.cancelItem(ctx, itemID, now)
		return nil, nil, ErrStaleItem
	}
	if err != nil {
		return nil, nil, err
	}
	if item.Deferred && item.Attempts == 0 {
		e.announceDeferred(ctx, item, n)
	}
	return item, n, nil
}

// announceDeferred pushes the notification event to a recipient whose every
// channel waited out quiet hours. Of that recipient's deferred items, only
// the first in channel order announces, when it is first picked up.
func (e *Engine) announceDeferred(ctx context.Context, item *domain.QueueItem, n *domain.Notification) {
	siblings, err := e.items.ListByNotification(ctx, item.NotificationID)
	if err != nil {
		e.logger.Warn("list items for deferred push", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	byChannel := make(map[domain.Channel]*domain.QueueItem)
	for _, s := range siblings {
		if s.RecipientID != item.RecipientID {
			continue
		}
		if !s.Deferred && s.Status != domain.QueueCancelled {
			return // pushed when the notification was queued
		}
		if s.Deferred {
			byChannel[s.Channel] = s
		}
	}
	for _, ch := range n.Channels {
		if first, ok := byChannel[ch]; ok {
			if first.ID == item.ID {
				e.broadcast.SendNotificationToUser(item.RecipientID, n)
			}
			return
		}
	}
}

func (e *Engine) cancelItem(ctx context.Context, itemID string, now time.Time) {
	_, err := e.items.Update(ctx, itemID, func(q *domain.QueueItem) error {
		if !q.Status.IsTerminal() {
			q.Status = domain.QueueCancelled
			q.UpdatedAt = now
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("cancel stale queue item", zap.String("queue_item_id", itemID), zap.Error(err))
	}
}

// RecordDeliveryAttempt applies the result of one send. sendErr nil means
// success; otherwise retryable decides between rescheduling with the
// notification's backoff and failing the item for good.
//
// Channel state only moves forward: a channel that reached delivered,
// failed, bounced or blocked is never overwritten by a later attempt. The
// notification becomes sent on its first success and delivered or failed
// once every item is terminal.
func (e *Engine) RecordDeliveryAttempt(ctx context.Context, itemID string, sendErr error, retryable bool) (Outcome, error) {
	item, err := e.items.Get(ctx, itemID)
	if err != nil {
		return "", err
	}
	n, err := e.notifications.Get(ctx, item.NotificationID)
	if err != nil {
		return "", err
	}
	policy := n.Metadata.RetryPolicy.WithDefaults(e.retryDefaults)
	backoff := retry.FromPolicy(policy)
	now := e.now()

	var outcome Outcome
	item, err = e.items.Update(ctx, itemID, func(q *domain.QueueItem) error {
		q.Attempts++
		q.UpdatedAt = now
		switch {
		case sendErr == nil:
			q.Status = domain.QueueCompleted
			q.LastError = ""
			outcome = OutcomeDelivered
		case retryable && q.AttemptsLeft():
			q.Status = domain.QueueRetrying
			q.LastError = sendErr.Error()
			q.ScheduledAt = now.Add(backoff.Next(q.Attempts))
			outcome = OutcomeRetrying
		default:
			q.Status = domain.QueueFailed
			q.LastError = sendErr.Error()
			outcome = OutcomeFailed
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	siblings, err := e.items.ListByNotification(ctx, item.NotificationID)
	if err != nil {
		return outcome, fmt.Errorf("list queue items: %w", err)
	}
	final, settled := finalStatus(siblings)

	_, err = e.notifications.Update(ctx, item.NotificationID, func(n *domain.Notification) error {
		if ds := n.ChannelStatus(item.Channel); ds != nil {
			ds.Attempts++
			ds.LastAttemptAt = &now
			if sendErr != nil {
				ds.LastError = sendErr.Error()
			}
			if !channelFinal(ds.State) {
				switch outcome {
				case OutcomeDelivered:
					ds.State = domain.DeliveryDelivered
				case OutcomeRetrying:
					ds.State = domain.DeliveryRetry
				case OutcomeFailed:
					ds.State = domain.DeliveryFailed
				}
			}
		}
		n.UpdatedAt = now
		if n.Status.IsTerminal() {
			return nil
		}
		if outcome == OutcomeDelivered && (n.Status == domain.StatusQueued || n.Status == domain.StatusSending) {
			if err := n.TransitionTo(domain.StatusSent, now); err != nil {
				return err
			}
		}
		if settled && domain.CanTransition(n.Status, final) {
			return n.TransitionTo(final, now)
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return outcome, err
	}

	fields := []zap.Field{
		zap.String("notification_id", item.NotificationID),
		zap.String("queue_item_id", item.ID),
		zap.String("channel", string(item.Channel)),
		zap.Int("attempt", item.Attempts),
		zap.String("outcome", string(outcome)),
	}
	switch outcome {
	case OutcomeRetrying:
		e.logger.Warn("delivery failed, retry scheduled", append(fields, zap.Time("next_attempt", item.ScheduledAt), zap.Error(sendErr))...)
	case OutcomeFailed:
		e.logger.Error("delivery failed permanently", append(fields, zap.Error(sendErr))...)
	default:
		e.logger.Debug("delivery succeeded", fields...)
	}
	return outcome, nil
}

// finalStatus reports the status a notification settles into once every one
// of its items is terminal: delivered if any item completed, failed if any
// failed, cancelled when every item was suppressed or cancelled.
func finalStatus(items []*domain.QueueItem) (domain.Status, bool) {
	completed, failed := false, false
	for _, it := range items {
		switch it.Status {
		case domain.QueueCompleted:
			completed = true
		case domain.QueueFailed:
			failed = true
		case domain.QueueCancelled:
		default:
			return "", false
		}
	}
	switch {
	case completed:
		return domain.StatusDelivered, true
	case failed:
		return domain.StatusFailed, true
	}
	return domain.StatusCancelled, true
}

// settle applies finalStatus outside of a delivery attempt.
func (e *Engine) settle(ctx context.Context, notificationID string, now time.Time) error {
	items, err := e.items.ListByNotification(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("list queue items: %w", err)
	}
	final, ok := finalStatus(items)
	if !ok {
		return nil
	}
	_, err = e.notifications.Update(ctx, notificationID, func(n *domain.Notification) error {
		if !domain.CanTransition(n.Status, final) {
			return nil
		}
		return n.TransitionTo(final, now)
	})
	return err
}

func channelFinal(s domain.DeliveryState) bool {
	switch s {
	case domain.DeliveryDelivered, domain.DeliveryFailed, domain.DeliveryBounced, domain.DeliveryBlocked:
		return true
	}
	return false
}

// RecordDeliveryReceipt applies a provider callback for one channel. A
// receipt may downgrade delivered to bounced or failed; failed, bounced and
// blocked stay as they are.
func (e *Engine) RecordDeliveryReceipt(ctx context.Context, id string, r domain.DeliveryReceipt) (*domain.Notification, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	now := e.now()
	return e.notifications.Update(ctx, id, func(n *domain.Notification) error {
		ds := n.ChannelStatus(r.Channel)
		if ds == nil {
			return &domain.ValidationError{
				Field:   "channel",
				Message: fmt.Sprintf("channel %q was not requested", r.Channel),
				Err:     domain.ErrInvalidInput,
			}
		}
		if ds.State != domain.DeliveryDelivered && channelFinal(ds.State) {
			return nil
		}
		ds.State = r.State
		if r.Error != "" {
			ds.LastError = r.Error
		}
		n.UpdatedAt = now
		if r.State == domain.DeliveryDelivered && (n.Status == domain.StatusQueued || n.Status == domain.StatusSending) {
			return n.TransitionTo(domain.StatusSent, now)
		}
		return nil
	})
}

// ActivateDue queues drafts whose scheduled time has passed. It returns how
// many were activated.
func (e *Engine) ActivateDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := e.notifications.FindDueScheduled(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("find due notifications: %w", err)
	}
	count := 0
	for _, n := range due {
		if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			continue // ExpireDue handles it
		}
		if _, err := e.activate(ctx, n); err != nil {
			e.logger.Error("activate scheduled notification", zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

// ExpireDue moves drafts and queued notifications past their expiry to
// expired and cancels their outstanding items.
func (e *Engine) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := e.notifications.FindExpired(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("find expired notifications: %w", err)
	}
	count := 0
	for _, n := range expired {
		_, err := e.notifications.Update(ctx, n.ID, func(n *domain.Notification) error {
			return n.TransitionTo(domain.StatusExpired, now)
		})
		if err != nil {
			// Picked up for delivery in the meantime.
			e.logger.Debug("skip expiry", zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		if _, err := e.items.CancelByNotification(ctx, n.ID, now); err != nil {
			e.logger.Error("cancel items of expired notification", zap.String("notification_id", n.ID), zap.Error(err))
		}
		count++
	}
	return count, nil
}
