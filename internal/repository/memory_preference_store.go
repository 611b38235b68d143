package repository

import (
	"context"
	"sync"

	"github.com/notifyhub/notifyhub/internal/domain"
)

type MemoryPreferenceStore struct {
	mu    sync.Mutex
	prefs map[string]*domain.Preference
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]*domain.Preference)}
}

func (m *MemoryPreferenceStore) GetOrCreate(_ context.Context, userID string, def func() *domain.Preference) (*domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(userID, def).Clone(), nil
}

func (m *MemoryPreferenceStore) Update(_ context.Context, userID string, def func() *domain.Preference, fn UpdateFunc[domain.Preference]) (*domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.load(userID, def).Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.prefs[userID] = next
	return next.Clone(), nil
}

// load must be called with mu held.
func (m *MemoryPreferenceStore) load(userID string, def func() *domain.Preference) *domain.Preference {
	p, ok := m.prefs[userID]
	if !ok {
		p = def()
		m.prefs[userID] = p
	}
	return p
}
