package domain

import "time"

// QueueStatus tracks a single delivery work item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
	QueueRetrying   QueueStatus = "retrying"
)

// IsTerminal reports whether the item will never be attempted again.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueCompleted || s == QueueFailed || s == QueueCancelled
}

// IsDue reports whether an item in this status may be picked up by the poller.
func (s QueueStatus) IsDue() bool {
	return s == QueuePending || s == QueueRetrying
}

// DefaultMaxAttempts applies when neither the notification nor config set one.
const DefaultMaxAttempts = 3

// QueueItem is one unit of delivery work per (notification, recipient, channel).
// Priority is the effective priority for this recipient after preference
// overrides and decides which dispatch lane the item uses. Deferred marks an
// item held back until the recipient's quiet hours end; a suppressed pair is
// stored cancelled with the suppression reason in LastError.
type QueueItem struct {
	ID             string      `json:"id"`
	NotificationID string      `json:"notification_id"`
	RecipientID    string      `json:"recipient_id"`
	Channel        Channel     `json:"channel"`
	Priority       Priority    `json:"priority"`
	Status         QueueStatus `json:"status"`
	Attempts       int         `json:"attempts"`
	MaxAttempts    int         `json:"max_attempts"`
	ScheduledAt    time.Time   `json:"scheduled_at"`
	Deferred       bool        `json:"deferred,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// AttemptsLeft reports whether another attempt is allowed after the current one.
func (q *QueueItem) AttemptsLeft() bool {
	return q.Attempts < q.MaxAttempts
}

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

func (s BackoffStrategy) IsValid() bool {
	switch s {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		return true
	}
	return false
}

// RetryPolicy is carried in notification metadata. Zero fields fall back to
// the process defaults.
type RetryPolicy struct {
	MaxAttempts int             `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=20"`
	Strategy    BackoffStrategy `json:"strategy,omitempty" validate:"omitempty,oneof=fixed linear exponential"`
	BaseDelay   time.Duration   `json:"base_delay,omitempty"`
	MaxDelay    time.Duration   `json:"max_delay,omitempty"`
}

// WithDefaults fills zero fields of p from def.
func (p *RetryPolicy) WithDefaults(def RetryPolicy) RetryPolicy {
	if p == nil {
		return def
	}
	out := *p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.Strategy == "" {
		out.Strategy = def.Strategy
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = def.BaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = def.MaxDelay
	}
	return out
}
