package repository

import (
	"context"
	"sync"
	"time"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// MemoryNotificationStore keeps notifications in a map guarded by one lock.
// Records are cloned on the way in and out so callers never share state
// with the store.
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr error
	GetErr    error
}

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{notifications: make(map[string]*domain.Notification)}
}

func (m *MemoryNotificationStore) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n.Clone()
	return nil
}

func (m *MemoryNotificationStore) Get(_ context.Context, id string) (*domain.Notification, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return n.Clone(), nil
}

// Update runs fn on a copy while holding the write lock and swaps the copy in
// only when fn succeeds.
func (m *MemoryNotificationStore) Update(_ context.Context, id string, fn UpdateFunc[domain.Notification]) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := n.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.notifications[id] = next
	return next.Clone(), nil
}

func (m *MemoryNotificationStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.notifications, id)
	return nil
}

func (m *MemoryNotificationStore) Search(_ context.Context, f domain.SearchFilter, viewerID string) ([]*domain.Notification, domain.Page, error) {
	f.Normalize()
	matched := m.collect(func(n *domain.Notification) bool { return f.Matches(n, viewerID) })
	domain.SortNotifications(matched, f.SortBy, f.Order)
	page, p := domain.Paginate(matched, f.Limit, f.Offset)
	return page, p, nil
}

func (m *MemoryNotificationStore) CreatedSince(_ context.Context, since time.Time, userID string) ([]*domain.Notification, error) {
	return m.collect(func(n *domain.Notification) bool {
		return !n.CreatedAt.Before(since) && (userID == "" || n.CanView(userID))
	}), nil
}

func (m *MemoryNotificationStore) FindDueScheduled(_ context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	due := m.collect(func(n *domain.Notification) bool {
		return n.Status == domain.StatusDraft && n.ScheduledFor != nil && !n.ScheduledFor.After(now)
	})
	return head(due, limit), nil
}

func (m *MemoryNotificationStore) FindExpired(_ context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	expired := m.collect(func(n *domain.Notification) bool {
		return (n.Status == domain.StatusDraft || n.Status == domain.StatusQueued) &&
			n.ExpiresAt != nil && !n.ExpiresAt.After(now)
	})
	return head(expired, limit), nil
}

func (m *MemoryNotificationStore) collect(keep func(*domain.Notification) bool) []*domain.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Notification, 0)
	for _, n := range m.notifications {
		if keep(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

func head[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
