package domain

import (
	"slices"
	"time"
)

// Template is a reusable message skeleton consumed by bulk sends.
// Names are unique across all templates and compared case-sensitively.
type Template struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Title           string    `json:"title"`
	MessageTemplate string    `json:"message_template"`
	Type            Type      `json:"type"`
	Category        Category  `json:"category"`
	Channels        []Channel `json:"channels"`
	Priority        Priority  `json:"priority"`
	Variables       []string  `json:"variables"`
	IsActive        bool      `json:"is_active"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (t *Template) Clone() *Template {
	c := *t
	c.Channels = slices.Clone(t.Channels)
	c.Variables = slices.Clone(t.Variables)
	return &c
}
