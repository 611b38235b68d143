// Package realtime tracks live client connections and pushes notification
// lifecycle events to them.
package realtime

import (
	"time"

	"github.com/notifyhub/notifyhub/internal/domain"
)

type EventType string

const (
	EventNotification            EventType = "notification"
	EventNotificationRead        EventType = "notification_read"
	EventNotificationUpdated     EventType = "notification_updated"
	EventTyping                  EventType = "typing"
	EventUserPresence            EventType = "user_presence"
	EventSystemNotification      EventType = "system_notification"
	EventMaintenanceNotification EventType = "maintenance_notification"

	// Acks sent only to the connection that triggered them.
	EventConnected     EventType = "connected"
	EventAuthenticated EventType = "authenticated"
	EventError         EventType = "error"
)

// Event is the frame written to clients.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	RoomID    string    `json:"room_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationSummary is the slice of a notification pushed to recipients.
// Delivery bookkeeping and other recipients stay server side.
type NotificationSummary struct {
	ID        string          `json:"id"`
	Type      domain.Type     `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Priority  domain.Priority `json:"priority"`
	Category  domain.Category `json:"category"`
	Status    domain.Status   `json:"status"`
	SenderID  string          `json:"sender_id,omitempty"`
	Payload   map[string]any  `json:"payload,omitempty"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func summarize(n *domain.Notification) NotificationSummary {
	return NotificationSummary{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Priority:  n.Priority,
		Category:  n.Category,
		Status:    n.Status,
		SenderID:  n.SenderID,
		Payload:   n.Payload,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

type ReadData struct {
	NotificationID string         `json:"notification_id"`
	Channel        domain.Channel `json:"channel"`
	IsRead         bool           `json:"is_read"`
}

type PresenceData struct {
	Online bool `json:"online"`
}

type TypingData struct {
	Typing bool `json:"typing"`
}

// SystemMessage is the body of system and maintenance broadcasts.
type SystemMessage struct {
	Title   string     `json:"title" validate:"required"`
	Message string     `json:"message" validate:"required"`
	Level   string     `json:"level,omitempty" validate:"omitempty,oneof=info warning critical"`
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}
