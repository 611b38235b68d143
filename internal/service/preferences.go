package service

import (
	"context"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// GetUserPreferences returns the user's preferences, creating the default
// record on first access.
func (e *Engine) GetUserPreferences(ctx context.Context, userID string) (*domain.Preference, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "is required", Err: domain.ErrInvalidInput}
	}
	return e.preferences.GetOrCreate(ctx, userID, e.defaultPreference(userID))
}

// UpdateUserPreferences merges the supplied fields over the stored record.
func (e *Engine) UpdateUserPreferences(ctx context.Context, userID string, u domain.PreferenceUpdate) (*domain.Preference, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "is required", Err: domain.ErrInvalidInput}
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	now := e.now()
	return e.preferences.Update(ctx, userID, e.defaultPreference(userID), func(p *domain.Preference) error {
		p.Apply(u, now)
		return nil
	})
}
