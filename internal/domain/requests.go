package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// CreateNotificationRequest is the payload for creating a single notification
// addressed to one or more recipients.
type CreateNotificationRequest struct {
	Type         Type           `json:"type" validate:"omitempty,oneof=info success warning error alert reminder promotion"`
	Title        string         `json:"title" validate:"required"`
	Message      string         `json:"message" validate:"required"`
	Recipients   []Recipient    `json:"recipients" validate:"required,min=1,dive"`
	Channels     []Channel      `json:"channels" validate:"required,min=1,dive,oneof=email sms push in_app"`
	Priority     Priority       `json:"priority" validate:"omitempty,oneof=low normal high urgent critical"`
	Category     Category       `json:"category" validate:"omitempty,oneof=system account security billing social marketing update"`
	Payload      map[string]any `json:"payload,omitempty"`
	Metadata     Metadata       `json:"metadata"`
	TemplateID   string         `json:"template_id,omitempty"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}

// Normalize trims text fields, drops duplicate channels and recipients, and
// fills enum defaults.
func (r *CreateNotificationRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Message = strings.TrimSpace(r.Message)
	r.Channels = uniqueChannels(r.Channels)
	r.Recipients = uniqueRecipients(r.Recipients)
	if r.Type == "" {
		r.Type = TypeInfo
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if r.Category == "" {
		r.Category = CategorySystem
	}
}

// Validate checks required fields and enum values. Call Normalize first.
func (r CreateNotificationRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	return checkWindow(r.ScheduledFor, r.ExpiresAt)
}

func checkWindow(scheduledFor, expiresAt *time.Time) error {
	if scheduledFor != nil && expiresAt != nil && !expiresAt.After(*scheduledFor) {
		return invalid("expires_at", "must be after scheduled_for")
	}
	return nil
}

// UpdateNotificationRequest edits a notification that has not been picked up
// for delivery yet. Nil fields are left untouched.
type UpdateNotificationRequest struct {
	Title        *string        `json:"title,omitempty"`
	Message      *string        `json:"message,omitempty"`
	Type         *Type          `json:"type,omitempty"`
	Priority     *Priority      `json:"priority,omitempty"`
	Category     *Category      `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}

func (r UpdateNotificationRequest) Validate() error {
	if r.Title != nil && strings.TrimSpace(*r.Title) == "" {
		return &ValidationError{Field: "title", Message: "must not be empty", Err: ErrMissingFields}
	}
	if r.Message != nil && strings.TrimSpace(*r.Message) == "" {
		return &ValidationError{Field: "message", Message: "must not be empty", Err: ErrMissingFields}
	}
	if r.Type != nil && !r.Type.IsValid() {
		return invalid("type", fmt.Sprintf("unknown type %q", *r.Type))
	}
	if r.Priority != nil && !r.Priority.IsValid() {
		return invalid("priority", fmt.Sprintf("unknown priority %q", *r.Priority))
	}
	if r.Category != nil && !r.Category.IsValid() {
		return invalid("category", fmt.Sprintf("unknown category %q", *r.Category))
	}
	return nil
}

// Apply writes the supplied fields into n and re-checks the schedule window.
func (r UpdateNotificationRequest) Apply(n *Notification, now time.Time) error {
	scheduledFor, expiresAt := n.ScheduledFor, n.ExpiresAt
	if r.ScheduledFor != nil {
		scheduledFor = r.ScheduledFor
	}
	if r.ExpiresAt != nil {
		expiresAt = r.ExpiresAt
	}
	if err := checkWindow(scheduledFor, expiresAt); err != nil {
		return err
	}
	if r.Title != nil {
		n.Title = strings.TrimSpace(*r.Title)
	}
	if r.Message != nil {
		n.Message = strings.TrimSpace(*r.Message)
	}
	if r.Type != nil {
		n.Type = *r.Type
	}
	if r.Priority != nil {
		n.Priority = *r.Priority
	}
	if r.Category != nil {
		n.Category = *r.Category
	}
	if r.Payload != nil {
		n.Payload = r.Payload
	}
	if r.Tags != nil {
		n.Metadata.Tags = slices.Clone(r.Tags)
	}
	n.ScheduledFor, n.ExpiresAt = scheduledFor, expiresAt
	n.UpdatedAt = now
	return nil
}

// BulkNotificationRequest fans out one independent notification per recipient.
// With TemplateID set, title and message come from the template expanded
// against Data.
type BulkNotificationRequest struct {
	TemplateID   string         `json:"template_id,omitempty"`
	Recipients   []Recipient    `json:"recipients" validate:"required,min=1,dive"`
	Title        string         `json:"title,omitempty"`
	Message      string         `json:"message,omitempty"`
	Channels     []Channel      `json:"channels,omitempty" validate:"omitempty,dive,oneof=email sms push in_app"`
	Type         Type           `json:"type,omitempty" validate:"omitempty,oneof=info success warning error alert reminder promotion"`
	Priority     Priority       `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent critical"`
	Category     Category       `json:"category,omitempty" validate:"omitempty,oneof=system account security billing social marketing update"`
	Data         map[string]any `json:"data,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Metadata     Metadata       `json:"metadata"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}

func (r BulkNotificationRequest) Validate() error {
	return validateStruct(r)
}

// CreateTemplateRequest defines a new reusable template.
type CreateTemplateRequest struct {
	Name            string    `json:"name" validate:"required"`
	Title           string    `json:"title" validate:"required"`
	MessageTemplate string    `json:"message_template" validate:"required"`
	Type            Type      `json:"type,omitempty" validate:"omitempty,oneof=info success warning error alert reminder promotion"`
	Category        Category  `json:"category,omitempty" validate:"omitempty,oneof=system account security billing social marketing update"`
	Channels        []Channel `json:"channels,omitempty" validate:"omitempty,dive,oneof=email sms push in_app"`
	Priority        Priority  `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent critical"`
	Variables       []string  `json:"variables,omitempty"`
}

func (r *CreateTemplateRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Title = strings.TrimSpace(r.Title)
	r.MessageTemplate = strings.TrimSpace(r.MessageTemplate)
	r.Channels = uniqueChannels(r.Channels)
	if r.Type == "" {
		r.Type = TypeInfo
	}
	if r.Category == "" {
		r.Category = CategorySystem
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
}

func (r CreateTemplateRequest) Validate() error {
	return validateStruct(r)
}

// DeliveryReceipt is a provider callback reporting the final outcome of a
// channel delivery.
type DeliveryReceipt struct {
	Channel Channel       `json:"channel" validate:"required,oneof=email sms push in_app"`
	State   DeliveryState `json:"state" validate:"required,oneof=delivered bounced blocked failed"`
	Error   string        `json:"error,omitempty"`
}

func (r DeliveryReceipt) Validate() error {
	return validateStruct(r)
}

func uniqueChannels(in []Channel) []Channel {
	if in == nil {
		return nil
	}
	out := make([]Channel, 0, len(in))
	for _, ch := range in {
		ch = Channel(strings.TrimSpace(string(ch)))
		if !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func uniqueRecipients(in []Recipient) []Recipient {
	if in == nil {
		return nil
	}
	out := make([]Recipient, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r.UserID = strings.TrimSpace(r.UserID)
		if _, dup := seen[r.UserID]; dup && r.UserID != "" {
			continue
		}
		seen[r.UserID] = struct{}{}
		out = append(out, r)
	}
	return out
}
