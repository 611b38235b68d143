// Package service holds the notification engine: every inbound operation
// and the delivery bookkeeping the workers report into.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/preference"
	"github.com/notifyhub/notifyhub/internal/queue"
	"github.com/notifyhub/notifyhub/internal/repository"
)

// Broadcaster pushes lifecycle events to live connections. A user with no
// open connection is a normal no-op, not an error.
type Broadcaster interface {
	SendNotificationToUser(userID string, n *domain.Notification) int
	SendNotificationUpdated(userID string, n *domain.Notification) int
	SendNotificationRead(userID string, n *domain.Notification, ch domain.Channel) int
}

// Dispatcher accepts claimed queue items for the worker pool.
// *queue.PriorityQueue satisfies it.
type Dispatcher interface {
	Enqueue(item queue.Item) error
}

// Hooks are optional metric callbacks. The service package does not import
// prometheus directly; see metrics.EngineHooks.
type Hooks struct {
	OnCreated    func(domain.Category)
	OnSuppressed func(ch domain.Channel, reason string)
}

func (h Hooks) created(c domain.Category) {
	if h.OnCreated != nil {
		h.OnCreated(c)
	}
}

func (h Hooks) suppressed(ch domain.Channel, reason preference.Reason) {
	if h.OnSuppressed != nil {
		h.OnSuppressed(ch, string(reason))
	}
}

type Stores struct {
	Notifications repository.NotificationStore
	Templates     repository.TemplateStore
	Preferences   repository.PreferenceStore
	Queue         repository.QueueStore
}

type Options struct {
	// RetryDefaults fill whatever a notification's retry policy leaves unset.
	RetryDefaults domain.RetryPolicy
	// DispatchBatch caps how many due items one dispatch pass claims.
	DispatchBatch int
	Hooks         Hooks
	// Now is overridable for tests.
	Now func() time.Time
}

// Engine coordinates the stores, the preference resolver, the dispatch
// queue and the realtime broadcaster. HTTP handlers and workers depend on
// the engine, not on each other.
//
// Every notification mutation runs inside NotificationStore.Update. Pushes,
// queue writes and dispatch happen after Update returns so no lock is held
// across them.
type Engine struct {
	notifications repository.NotificationStore
	templates     repository.TemplateStore
	preferences   repository.PreferenceStore
	items         repository.QueueStore

	resolver   *preference.Resolver
	dispatcher Dispatcher
	broadcast  Broadcaster
	logger     *zap.Logger

	retryDefaults domain.RetryPolicy
	dispatchBatch int
	hooks         Hooks
	now           func() time.Time
}

func NewEngine(
	stores Stores,
	resolver *preference.Resolver,
	dispatcher Dispatcher,
	broadcast Broadcaster,
	logger *zap.Logger,
	opts Options,
) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.DispatchBatch <= 0 {
		opts.DispatchBatch = 100
	}
	if opts.RetryDefaults.MaxAttempts <= 0 {
		opts.RetryDefaults.MaxAttempts = domain.DefaultMaxAttempts
	}
	if opts.RetryDefaults.Strategy == "" {
		opts.RetryDefaults.Strategy = domain.BackoffExponential
	}
	if opts.RetryDefaults.BaseDelay <= 0 {
		opts.RetryDefaults.BaseDelay = 5 * time.Second
	}
	if broadcast == nil {
		broadcast = nopBroadcaster{}
	}
	return &Engine{
		notifications: stores.Notifications,
		templates:     stores.Templates,
		preferences:   stores.Preferences,
		items:         stores.Queue,
		resolver:      resolver,
		dispatcher:    dispatcher,
		broadcast:     broadcast,
		logger:        logger,
		retryDefaults: opts.RetryDefaults,
		dispatchBatch: opts.DispatchBatch,
		hooks:         opts.Hooks,
		now:           opts.Now,
	}
}

// QueueStatusCounts feeds the operational snapshot endpoint.
func (e *Engine) QueueStatusCounts(ctx context.Context) (map[domain.QueueStatus]int, error) {
	return e.items.CountByStatus(ctx)
}

type nopBroadcaster struct{}

func (nopBroadcaster) SendNotificationToUser(string, *domain.Notification) int { return 0 }
func (nopBroadcaster) SendNotificationUpdated(string, *domain.Notification) int { return 0 }
func (nopBroadcaster) SendNotificationRead(string, *domain.Notification, domain.Channel) int {
	return 0
}
