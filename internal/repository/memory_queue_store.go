package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/notifyhub/notifyhub/internal/domain"
)

type MemoryQueueStore struct {
	mu    sync.Mutex
	items map[string]*domain.QueueItem
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{items: make(map[string]*domain.QueueItem)}
}

func (m *MemoryQueueStore) CreateItems(_ context.Context, items []*domain.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		c := *it
		m.items[it.ID] = &c
	}
	return nil
}

func (m *MemoryQueueStore) Get(_ context.Context, id string) (*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *it
	return &c, nil
}

func (m *MemoryQueueStore) Update(_ context.Context, id string, fn UpdateFunc[domain.QueueItem]) (*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := *it
	if err := fn(&next); err != nil {
		return nil, err
	}
	m.items[id] = &next
	out := next
	return &out, nil
}

func (m *MemoryQueueStore) ListByNotification(_ context.Context, notificationID string) ([]*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.QueueItem
	for _, it := range m.items {
		if it.NotificationID == notificationID {
			c := *it
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *domain.QueueItem) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *MemoryQueueStore) CancelByNotification(_ context.Context, notificationID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.NotificationID == notificationID && !it.Status.IsTerminal() {
			it.Status = domain.QueueCancelled
			it.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryQueueStore) DeleteByNotification(_ context.Context, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		if it.NotificationID == notificationID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *MemoryQueueStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.QueueItem
	for _, it := range m.items {
		if it.Status.IsDue() && !it.ScheduledAt.After(now) {
			due = append(due, it)
		}
	}
	slices.SortFunc(due, func(a, b *domain.QueueItem) int {
		return cmp.Or(
			cmp.Compare(b.Priority.Rank(), a.Priority.Rank()),
			a.ScheduledAt.Compare(b.ScheduledAt),
			cmp.Compare(a.ID, b.ID),
		)
	})
	due = head(due, limit)

	out := make([]*domain.QueueItem, len(due))
	for i, it := range due {
		it.Status = domain.QueueProcessing
		it.UpdatedAt = now
		c := *it
		out[i] = &c
	}
	return out, nil
}

func (m *MemoryQueueStore) Release(_ context.Context, ids []string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if it, ok := m.items[id]; ok && it.Status == domain.QueueProcessing {
			it.Status = domain.QueuePending
			it.UpdatedAt = now
		}
	}
	return nil
}

func (m *MemoryQueueStore) RequeueStale(_ context.Context, before, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.Status == domain.QueueProcessing && it.UpdatedAt.Before(before) {
			it.Status = domain.QueuePending
			it.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryQueueStore) CountByStatus(_ context.Context) (map[domain.QueueStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.QueueStatus]int)
	for _, it := range m.items {
		out[it.Status]++
	}
	return out, nil
}
