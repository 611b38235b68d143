package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/notifyhub/notifyhub/internal/domain"
)

type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*domain.Template
	byName    map[string]string
}

func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{
		templates: make(map[string]*domain.Template),
		byName:    make(map[string]string),
	}
}

// Create checks the name and inserts under one lock, so two concurrent
// creates with the same name cannot both succeed.
func (m *MemoryTemplateStore) Create(_ context.Context, t *domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byName[t.Name]; taken {
		return domain.ErrDuplicateName
	}
	m.templates[t.ID] = t.Clone()
	m.byName[t.Name] = t.ID
	return nil
}

func (m *MemoryTemplateStore) Get(_ context.Context, id string) (*domain.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryTemplateStore) List(_ context.Context, activeOnly bool) ([]*domain.Template, error) {
	m.mu.RLock()
	out := make([]*domain.Template, 0, len(m.templates))
	for _, t := range m.templates {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.Template) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Update does not allow renaming; fn must leave Name untouched.
func (m *MemoryTemplateStore) Update(_ context.Context, id string, fn UpdateFunc[domain.Template]) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := t.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Name = t.Name
	m.templates[id] = next
	return next.Clone(), nil
}
