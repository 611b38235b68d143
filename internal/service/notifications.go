package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/templating"
)

// CreateNotification validates and persists a notification in draft. Unless
// it is scheduled for the future it is activated straight away: queue items
// are created per (recipient, channel) and recipients get a live push.
func (e *Engine) CreateNotification(
	ctx context.Context,
	req domain.CreateNotificationRequest,
	senderID string,
) (*domain.Notification, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	n := buildNotification(req, senderID, now)
	if err := e.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	e.hooks.created(n.Category)

	if n.ScheduledFor != nil && n.ScheduledFor.After(now) {
		e.logger.Debug("notification scheduled",
			zap.String("notification_id", n.ID), zap.Time("scheduled_for", *n.ScheduledFor))
		return n, nil
	}
	return e.activate(ctx, n)
}

func buildNotification(req domain.CreateNotificationRequest, senderID string, now time.Time) *domain.Notification {
	ds := make([]domain.DeliveryStatus, len(req.Channels))
	for i, ch := range req.Channels {
		ds[i] = domain.DeliveryStatus{Channel: ch, State: domain.DeliveryPending}
	}
	return &domain.Notification{
		ID:             uuid.New().String(),
		Type:           req.Type,
		Title:          req.Title,
		Message:        req.Message,
		Recipients:     req.Recipients,
		SenderID:       senderID,
		Channels:       req.Channels,
		Priority:       req.Priority,
		Category:       req.Category,
		Payload:        req.Payload,
		Metadata:       req.Metadata,
		Status:         domain.StatusDraft,
		DeliveryStatus: ds,
		ReadBy:         []domain.ReadReceipt{},
		TemplateID:     req.TemplateID,
		ScheduledFor:   req.ScheduledFor,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// GetNotification returns ErrForbidden when viewerID is set and is neither
// the sender nor a recipient.
func (e *Engine) GetNotification(ctx context.Context, id, viewerID string) (*domain.Notification, error) {
	n, err := e.notifications.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if viewerID != "" && !n.CanView(viewerID) {
		return nil, domain.ErrForbidden
	}
	return n, nil
}

// UpdateNotification edits a notification the viewer sent. Only drafts and
// queued notifications are editable.
func (e *Engine) UpdateNotification(
	ctx context.Context,
	id string,
	req domain.UpdateNotificationRequest,
	viewerID string,
) (*domain.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := e.now()
	n, err := e.notifications.Update(ctx, id, func(n *domain.Notification) error {
		if err := checkSender(n, viewerID); err != nil {
			return err
		}
		if n.Status != domain.StatusDraft && n.Status != domain.StatusQueued {
			return domain.ErrNotEditable
		}
		return req.Apply(n, now)
	})
	if err != nil {
		return nil, err
	}

	if req.Priority != nil {
		e.reprioritize(ctx, n)
	}
	for _, uid := range n.RecipientIDs() {
		e.broadcast.SendNotificationUpdated(uid, n)
	}
	return n, nil
}

// reprioritize moves items that are still waiting to the new priority lane.
// Per-recipient category overrides are not re-evaluated.
func (e *Engine) reprioritize(ctx context.Context, n *domain.Notification) {
	items, err := e.items.ListByNotification(ctx, n.ID)
	if err != nil {
		e.logger.Warn("list queue items for reprioritize", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	for _, it := range items {
		if !it.Status.IsDue() {
			continue
		}
		_, err := e.items.Update(ctx, it.ID, func(q *domain.QueueItem) error {
			if q.Status.IsDue() {
				q.Priority = n.Priority
			}
			return nil
		})
		if err != nil {
			e.logger.Warn("reprioritize queue item", zap.String("queue_item_id", it.ID), zap.Error(err))
		}
	}
}

// CancelNotification stops a draft or queued notification and cancels its
// outstanding queue items. Cancelling twice is a no-op.
func (e *Engine) CancelNotification(ctx context.Context, id, viewerID string) (*domain.Notification, error) {
	now := e.now()
	n, err := e.notifications.Update(ctx, id, func(n *domain.Notification) error {
		if err := checkSender(n, viewerID); err != nil {
			return err
		}
		if err := n.TransitionTo(domain.StatusCancelled, now); err != nil {
			return fmt.Errorf("%w: cannot cancel a %s notification", domain.ErrNotEditable, n.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cancelled, err := e.items.CancelByNotification(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("cancel queue items: %w", err)
	}
	e.logger.Info("notification cancelled",
		zap.String("notification_id", id), zap.Int("queue_items_cancelled", cancelled))

	for _, uid := range n.RecipientIDs() {
		e.broadcast.SendNotificationUpdated(uid, n)
	}
	return n, nil
}

// DeleteNotification removes the record and every queue item belonging to it.
func (e *Engine) DeleteNotification(ctx context.Context, id, viewerID string) error {
	n, err := e.notifications.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := checkSender(n, viewerID); err != nil {
		return err
	}
	// Record first: a worker holding one of the items then finds nothing to
	// deliver.
	if err := e.notifications.Delete(ctx, id); err != nil {
		return err
	}
	if err := e.items.DeleteByNotification(ctx, id); err != nil {
		return fmt.Errorf("delete queue items: %w", err)
	}
	return nil
}

// SearchNotifications returns one page. With a viewer, only notifications
// the viewer sent or receives are considered, and the read filter is
// relative to that viewer.
func (e *Engine) SearchNotifications(
	ctx context.Context,
	f domain.SearchFilter,
	viewerID string,
) ([]*domain.Notification, domain.Page, error) {
	if err := f.Validate(); err != nil {
		return nil, domain.Page{}, err
	}
	f.Normalize()
	return e.notifications.Search(ctx, f, viewerID)
}

// MarkAsRead records a read receipt for (userID, channel), in_app by default.
// Repeating the call is a successful no-op. Only the first mark is pushed to
// the user's connections. A sender who is not a recipient may call it but
// leaves no receipt.
func (e *Engine) MarkAsRead(ctx context.Context, id, userID string, ch domain.Channel) (*domain.Notification, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "is required", Err: domain.ErrInvalidInput}
	}
	if ch == "" {
		ch = domain.ChannelInApp
	}
	if !ch.IsValid() {
		return nil, &domain.ValidationError{Field: "channel", Message: fmt.Sprintf("unknown channel %q", ch), Err: domain.ErrInvalidInput}
	}

	first := false
	n, err := e.notifications.Update(ctx, id, func(n *domain.Notification) error {
		if !n.CanView(userID) {
			return domain.ErrForbidden
		}
		if !n.HasRecipient(userID) {
			return nil
		}
		first = n.AddReadReceipt(userID, ch, e.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if first {
		e.broadcast.SendNotificationRead(userID, n, ch)
	}
	return n, nil
}

// RecordClick records a click-through for a recipient, once per
// (user, channel).
func (e *Engine) RecordClick(ctx context.Context, id, userID string, ch domain.Channel, url string) (*domain.Notification, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "is required", Err: domain.ErrInvalidInput}
	}
	if ch == "" {
		ch = domain.ChannelInApp
	}
	if !ch.IsValid() {
		return nil, &domain.ValidationError{Field: "channel", Message: fmt.Sprintf("unknown channel %q", ch), Err: domain.ErrInvalidInput}
	}
	return e.notifications.Update(ctx, id, func(n *domain.Notification) error {
		if !n.HasRecipient(userID) {
			return domain.ErrForbidden
		}
		n.AddClickReceipt(userID, ch, url, e.now())
		return nil
	})
}

// SendBulkNotifications creates one independent notification per recipient.
// With a template, title and message are expanded per recipient against the
// request data; user_id and name are available as variables unless the data
// already defines them. Every request is validated before anything is
// persisted.
func (e *Engine) SendBulkNotifications(
	ctx context.Context,
	req domain.BulkNotificationRequest,
	senderID string,
) ([]*domain.Notification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var tmpl *domain.Template
	if req.TemplateID != "" {
		t, err := e.templates.Get(ctx, req.TemplateID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && !t.IsActive) {
			return nil, domain.ErrTemplateUnavailable
		}
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		tmpl = t
	}

	reqs := make([]domain.CreateNotificationRequest, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		cr := domain.CreateNotificationRequest{
			Type:         req.Type,
			Title:        req.Title,
			Message:      req.Message,
			Recipients:   []domain.Recipient{r},
			Channels:     req.Channels,
			Priority:     req.Priority,
			Category:     req.Category,
			Payload:      req.Payload,
			Metadata:     req.Metadata,
			ScheduledFor: req.ScheduledFor,
			ExpiresAt:    req.ExpiresAt,
		}
		if tmpl != nil {
			applyTemplate(&cr, tmpl, recipientVars(req.Data, r))
		}
		cr.Normalize()
		if err := cr.Validate(); err != nil {
			return nil, err
		}
		reqs = append(reqs, cr)
	}

	out := make([]*domain.Notification, 0, len(reqs))
	for _, cr := range reqs {
		n, err := e.CreateNotification(ctx, cr, senderID)
		if err != nil {
			return out, fmt.Errorf("bulk recipient %s: %w", cr.Recipients[0].UserID, err)
		}
		out = append(out, n)
	}
	e.logger.Info("bulk send",
		zap.String("sender_id", senderID), zap.String("template_id", req.TemplateID), zap.Int("count", len(out)))
	return out, nil
}

func applyTemplate(cr *domain.CreateNotificationRequest, t *domain.Template, vars map[string]any) {
	cr.TemplateID = t.ID
	cr.Title = templating.Expand(t.Title, vars)
	cr.Message = templating.Expand(t.MessageTemplate, vars)
	if len(cr.Channels) == 0 {
		cr.Channels = t.Channels
	}
	if cr.Priority == "" {
		cr.Priority = t.Priority
	}
	if cr.Type == "" {
		cr.Type = t.Type
	}
	if cr.Category == "" {
		cr.Category = t.Category
	}
}

func recipientVars(data map[string]any, r domain.Recipient) map[string]any {
	vars := make(map[string]any, len(data)+2)
	vars["user_id"] = r.UserID
	if r.Name != "" {
		vars["name"] = r.Name
	}
	for k, v := range data {
		vars[k] = v
	}
	return vars
}

// GetNotificationStats aggregates notifications created inside the timeframe,
// narrowed to those the user sent or receives when userID is set.
func (e *Engine) GetNotificationStats(ctx context.Context, userID, timeframe string) (domain.Stats, error) {
	tf, err := domain.ParseTimeframe(timeframe)
	if err != nil {
		return domain.Stats{}, err
	}
	now := e.now()
	ns, err := e.notifications.CreatedSince(ctx, now.Add(-tf.Duration()), userID)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("load notifications: %w", err)
	}
	return domain.ComputeStats(ns, tf, now), nil
}

// checkSender allows internal callers (empty viewer) and the sender.
func checkSender(n *domain.Notification, viewerID string) error {
	if viewerID == "" || n.SenderID == viewerID {
		return nil
	}
	return domain.ErrForbidden
}
