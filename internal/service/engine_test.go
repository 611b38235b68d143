package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/preference"
	"github.com/notifyhub/notifyhub/internal/queue"
	"github.com/notifyhub/notifyhub/internal/repository"
	"github.com/notifyhub/notifyhub/internal/service"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type pushed struct {
	kind   string
	userID string
	id     string
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []pushed
}

func (f *fakeBroadcaster) record(kind, userID, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, pushed{kind, userID, id})
	return 1
}

func (f *fakeBroadcaster) SendNotificationToUser(userID string, n *domain.Notification) int {
	return f.record("notification", userID, n.ID)
}

func (f *fakeBroadcaster) SendNotificationUpdated(userID string, n *domain.Notification) int {
	return f.record("notification_updated", userID, n.ID)
}

func (f *fakeBroadcaster) SendNotificationRead(userID string, n *domain.Notification, _ domain.Channel) int {
	return f.record("notification_read", userID, n.ID)
}

func (f *fakeBroadcaster) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := 0
	for _, e := range f.events {
		if e.kind == kind {
			c++
		}
	}
	return c
}

func (f *fakeBroadcaster) countFor(kind, userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := 0
	for _, e := range f.events {
		if e.kind == kind && e.userID == userID {
			c++
		}
	}
	return c
}

type harness struct {
	engine *service.Engine
	stores service.Stores
	queue  *queue.PriorityQueue
	push   *fakeBroadcaster
	clock  *clock

	mu         sync.Mutex
	created    int
	suppressed map[string]int
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithQueue(t, queue.New())
}

func newHarnessWithQueue(t *testing.T, q *queue.PriorityQueue) *harness {
	t.Helper()
	h := &harness{
		stores: service.Stores{
			Notifications: repository.NewMemoryNotificationStore(),
			Templates:     repository.NewMemoryTemplateStore(),
			Preferences:   repository.NewMemoryPreferenceStore(),
			Queue:         repository.NewMemoryQueueStore(),
		},
		queue:      q,
		push:       &fakeBroadcaster{},
		suppressed: make(map[string]int),
		// Noon UTC on a Wednesday, outside the default quiet hours.
		clock:      &clock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)},
	}
	h.engine = service.NewEngine(
		h.stores,
		preference.NewResolver(domain.PriorityUrgent),
		h.queue,
		h.push,
		zap.NewNop(),
		service.Options{
			RetryDefaults: domain.RetryPolicy{
				MaxAttempts: 3,
				Strategy:    domain.BackoffFixed,
				BaseDelay:   time.Minute,
			},
			Hooks: service.Hooks{
				OnCreated: func(domain.Category) {
					h.mu.Lock()
					h.created++
					h.mu.Unlock()
				},
				OnSuppressed: func(ch domain.Channel, reason string) {
					h.mu.Lock()
					h.suppressed[string(ch)+"/"+reason]++
					h.mu.Unlock()
				},
			},
			Now: h.clock.Now,
		},
	)
	return h
}

func createReq(recipients ...string) domain.CreateNotificationRequest {
	rs := make([]domain.Recipient, len(recipients))
	for i, id := range recipients {
		rs[i] = domain.Recipient{UserID: id, Email: id + "@example.com"}
	}
	return domain.CreateNotificationRequest{
		Title:      "Invoice ready",
		Message:    "Your invoice is ready",
		Recipients: rs,
		Channels:   []domain.Channel{domain.ChannelEmail, domain.ChannelInApp},
		Category:   domain.CategoryBilling,
	}
}

func (h *harness) items(t *testing.T, notificationID string) []*domain.QueueItem {
	t.Helper()
	items, err := h.stores.Queue.ListByNotification(context.Background(), notificationID)
	require.NoError(t, err)
	return items
}

// drain pulls every dispatched item off the in-process queue.
func (h *harness) drain() []queue.Item {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var out []queue.Item
	for {
		it, ok := h.queue.Dequeue(ctx)
		if !ok {
			return out
		}
		out = append(out, it)
	}
}
