// Package repository defines the persistence contracts used by the engine
// and workers. Two implementations exist: an in-memory one (memory_*.go)
// used by tests and single-node deployments, and a PostgreSQL one (pg_*.go).
package repository

import (
	"context"
	"time"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// UpdateFunc mutates a record in place. Returning an error aborts the update
// and leaves the stored record unchanged.
type UpdateFunc[T any] func(*T) error

// NotificationStore is the authoritative state for notification lifecycle,
// delivery status and read receipts.
//
// Update is the only way to mutate a stored notification: fn runs under the
// store's per-record serialization, so two concurrent updates of the same
// notification never observe the same prior state.
type NotificationStore interface {
	Create(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, id string) (*domain.Notification, error)
	Update(ctx context.Context, id string, fn UpdateFunc[domain.Notification]) (*domain.Notification, error)
	Delete(ctx context.Context, id string) error

	// Search returns one sorted page. A non-empty viewerID restricts results
	// to notifications the viewer sent or receives.
	Search(ctx context.Context, f domain.SearchFilter, viewerID string) ([]*domain.Notification, domain.Page, error)
	// CreatedSince feeds statistics. A non-empty userID narrows the scope the
	// same way viewerID does for Search.
	CreatedSince(ctx context.Context, since time.Time, userID string) ([]*domain.Notification, error)
	// FindDueScheduled returns drafts whose scheduled time has passed.
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error)
	// FindExpired returns drafts and queued notifications past their expiry.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error)
}

// TemplateStore enforces case-sensitive unique names on Create.
type TemplateStore interface {
	Create(ctx context.Context, t *domain.Template) error
	Get(ctx context.Context, id string) (*domain.Template, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Template, error)
	Update(ctx context.Context, id string, fn UpdateFunc[domain.Template]) (*domain.Template, error)
}

// PreferenceStore holds one preference record per user. Records are created
// lazily from def on first access and never deleted.
type PreferenceStore interface {
	GetOrCreate(ctx context.Context, userID string, def func() *domain.Preference) (*domain.Preference, error)
	Update(ctx context.Context, userID string, def func() *domain.Preference, fn UpdateFunc[domain.Preference]) (*domain.Preference, error)
}

// QueueStore holds delivery work items.
type QueueStore interface {
	CreateItems(ctx context.Context, items []*domain.QueueItem) error
	Get(ctx context.Context, id string) (*domain.QueueItem, error)
	Update(ctx context.Context, id string, fn UpdateFunc[domain.QueueItem]) (*domain.QueueItem, error)
	ListByNotification(ctx context.Context, notificationID string) ([]*domain.QueueItem, error)
	// CancelByNotification cancels every non-terminal item and returns how many changed.
	CancelByNotification(ctx context.Context, notificationID string, now time.Time) (int, error)
	DeleteByNotification(ctx context.Context, notificationID string) error
	// ClaimDue atomically moves up to limit pending or retrying items whose
	// ScheduledAt has passed to processing and returns them, most urgent first.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error)
	// Release puts claimed items back to pending, for when the dispatch queue is full.
	Release(ctx context.Context, ids []string, now time.Time) error
	// RequeueStale returns processing items untouched since before to
	// pending. It recovers work claimed by a node that went away.
	RequeueStale(ctx context.Context, before, now time.Time) (int, error)
	// CountByStatus is used for the queue snapshot.
	CountByStatus(ctx context.Context) (map[domain.QueueStatus]int, error)
}
