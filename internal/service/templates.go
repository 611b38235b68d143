package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/templating"
)

// CreateTemplate stores a new active template. Names are unique and
// case-sensitive. Variables default to the placeholders found in the title
// and message template.
func (e *Engine) CreateTemplate(ctx context.Context, req domain.CreateTemplateRequest, authorID string) (*domain.Template, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	vars := req.Variables
	if len(vars) == 0 {
		vars = templating.Placeholders(req.Title, req.MessageTemplate)
	}
	now := e.now()
	t := &domain.Template{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Title:           req.Title,
		MessageTemplate: req.MessageTemplate,
		Type:            req.Type,
		Category:        req.Category,
		Channels:        req.Channels,
		Priority:        req.Priority,
		Variables:       vars,
		IsActive:        true,
		CreatedBy:       authorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.templates.Create(ctx, t); err != nil {
		return nil, err
	}
	e.logger.Info("template created", zap.String("template_id", t.ID), zap.String("name", t.Name))
	return t, nil
}

func (e *Engine) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	return e.templates.Get(ctx, id)
}

func (e *Engine) ListTemplates(ctx context.Context, activeOnly bool) ([]*domain.Template, error) {
	ts, err := e.templates.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return ts, nil
}

// SetTemplateActive toggles whether bulk sends may use the template.
func (e *Engine) SetTemplateActive(ctx context.Context, id string, active bool) (*domain.Template, error) {
	now := e.now()
	return e.templates.Update(ctx, id, func(t *domain.Template) error {
		t.IsActive = active
		t.UpdatedAt = now
		return nil
	})
}
