package domain

import (
	"math"
	"slices"
	"time"
)

// Channel is a delivery channel for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// AllChannels lists every supported channel in a stable order.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}

func (c Channel) IsValid() bool {
	return slices.Contains(AllChannels, c)
}

// Priority is ordered: low < normal < high < urgent < critical.
// Comparisons must go through Rank, never through the string value.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityUrgent:   3,
	PriorityCritical: 4,
}

func (p Priority) IsValid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Rank returns the ordinal of p, or -1 for an unknown priority.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether p ranks at or above other.
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() >= other.Rank()
}

// Type is the presentational kind of a notification.
type Type string

const (
	TypeInfo      Type = "info"
	TypeSuccess   Type = "success"
	TypeWarning   Type = "warning"
	TypeError     Type = "error"
	TypeAlert     Type = "alert"
	TypeReminder  Type = "reminder"
	TypePromotion Type = "promotion"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError, TypeAlert, TypeReminder, TypePromotion:
		return true
	}
	return false
}

// Category groups notifications for preference purposes.
type Category string

const (
	CategorySystem    Category = "system"
	CategoryAccount   Category = "account"
	CategorySecurity  Category = "security"
	CategoryBilling   Category = "billing"
	CategorySocial    Category = "social"
	CategoryMarketing Category = "marketing"
	CategoryUpdate    Category = "update"
)

var AllCategories = []Category{
	CategorySystem, CategoryAccount, CategorySecurity, CategoryBilling,
	CategorySocial, CategoryMarketing, CategoryUpdate,
}

func (c Category) IsValid() bool {
	return slices.Contains(AllCategories, c)
}

// Status tracks the lifecycle of a notification.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var AllStatuses = []Status{
	StatusDraft, StatusQueued, StatusSending, StatusSent,
	StatusDelivered, StatusFailed, StatusCancelled, StatusExpired,
}

func (s Status) IsValid() bool {
	return slices.Contains(AllStatuses, s)
}

var transitions = map[Status][]Status{
	StatusDraft:   {StatusQueued, StatusCancelled, StatusExpired},
	StatusQueued:  {StatusSending, StatusSent, StatusDelivered, StatusFailed, StatusCancelled, StatusExpired},
	StatusSending: {StatusSent, StatusDelivered, StatusFailed},
	StatusSent:    {StatusDelivered},
}

// CanTransition reports whether the lifecycle allows moving from -> to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// DeliveryState is the per-channel delivery outcome.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
	DeliveryBounced   DeliveryState = "bounced"
	DeliveryBlocked   DeliveryState = "blocked"
	DeliveryRetry     DeliveryState = "retry"
)

func (s DeliveryState) IsValid() bool {
	switch s {
	case DeliveryPending, DeliveryDelivered, DeliveryFailed, DeliveryBounced, DeliveryBlocked, DeliveryRetry:
		return true
	}
	return false
}

// Recipient is an opaque user identifier plus optional contact attributes.
type Recipient struct {
	UserID      string `json:"user_id" validate:"required"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	Name        string `json:"name,omitempty"`
}

// DeliveryStatus records the outcome for one requested channel.
type DeliveryStatus struct {
	Channel       Channel       `json:"channel"`
	State         DeliveryState `json:"state"`
	Attempts      int           `json:"attempts"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// ReadReceipt is unique per (UserID, Channel).
type ReadReceipt struct {
	UserID  string    `json:"user_id"`
	Channel Channel   `json:"channel"`
	ReadAt  time.Time `json:"read_at"`
}

// ClickReceipt is unique per (UserID, Channel).
type ClickReceipt struct {
	UserID    string    `json:"user_id"`
	Channel   Channel   `json:"channel"`
	URL       string    `json:"url,omitempty"`
	ClickedAt time.Time `json:"clicked_at"`
}

// RelatedEntity links a notification to an object in another system.
type RelatedEntity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Metadata carries provenance and delivery policy.
type Metadata struct {
	Source          string          `json:"source,omitempty"`
	SourceID        string          `json:"source_id,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	RelatedEntities []RelatedEntity `json:"related_entities,omitempty"`
	RetryPolicy     *RetryPolicy    `json:"retry_policy,omitempty"`
}

// Analytics is derived from delivery statuses and receipts; see Notification.Analytics.
type Analytics struct {
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Read         int `json:"read"`
	Clicked      int `json:"clicked"`
	Failed       int `json:"failed"`
	Bounced      int `json:"bounced"`
	OpenRate     int `json:"open_rate"`
	ClickRate    int `json:"click_rate"`
	DeliveryRate int `json:"delivery_rate"`
}

// Notification is the core domain entity.
type Notification struct {
	ID             string           `json:"id"`
	Type           Type             `json:"type"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Recipients     []Recipient      `json:"recipients"`
	SenderID       string           `json:"sender_id,omitempty"`
	Channels       []Channel        `json:"channels"`
	Priority       Priority         `json:"priority"`
	Category       Category         `json:"category"`
	Payload        map[string]any   `json:"payload,omitempty"`
	Metadata       Metadata         `json:"metadata"`
	Status         Status           `json:"status"`
	DeliveryStatus []DeliveryStatus `json:"delivery_status"`
	ReadBy         []ReadReceipt    `json:"read_by"`
	ClickedBy      []ClickReceipt   `json:"clicked_by,omitempty"`
	IsRead         bool             `json:"is_read"`
	TemplateID     string           `json:"template_id,omitempty"`
	ScheduledFor   *time.Time       `json:"scheduled_for,omitempty"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so stores never hand out shared slices or maps.
func (n *Notification) Clone() *Notification {
	c := *n
	c.Recipients = slices.Clone(n.Recipients)
	c.Channels = slices.Clone(n.Channels)
	c.DeliveryStatus = slices.Clone(n.DeliveryStatus)
	c.ReadBy = slices.Clone(n.ReadBy)
	c.ClickedBy = slices.Clone(n.ClickedBy)
	c.Metadata.Tags = slices.Clone(n.Metadata.Tags)
	c.Metadata.RelatedEntities = slices.Clone(n.Metadata.RelatedEntities)
	if n.Metadata.RetryPolicy != nil {
		rp := *n.Metadata.RetryPolicy
		c.Metadata.RetryPolicy = &rp
	}
	if n.Payload != nil {
		c.Payload = make(map[string]any, len(n.Payload))
		for k, v := range n.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// HasRecipient reports whether userID is one of the recipients.
func (n *Notification) HasRecipient(userID string) bool {
	for _, r := range n.Recipients {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// CanView reports whether userID is the sender or a recipient.
func (n *Notification) CanView(userID string) bool {
	return n.SenderID == userID || n.HasRecipient(userID)
}

// RecipientIDs returns the recipient user IDs in order.
func (n *Notification) RecipientIDs() []string {
	ids := make([]string, len(n.Recipients))
	for i, r := range n.Recipients {
		ids[i] = r.UserID
	}
	return ids
}

// TransitionTo moves the notification to the next lifecycle status.
func (n *Notification) TransitionTo(to Status, now time.Time) error {
	if n.Status == to {
		return nil
	}
	if !CanTransition(n.Status, to) {
		return ErrInvalidTransition
	}
	n.Status = to
	n.UpdatedAt = now
	return nil
}

// ChannelStatus returns a pointer into DeliveryStatus for ch, or nil.
func (n *Notification) ChannelStatus(ch Channel) *DeliveryStatus {
	for i := range n.DeliveryStatus {
		if n.DeliveryStatus[i].Channel == ch {
			return &n.DeliveryStatus[i]
		}
	}
	return nil
}

// HasReadReceipt reports whether userID already read on ch.
func (n *Notification) HasReadReceipt(userID string, ch Channel) bool {
	for _, r := range n.ReadBy {
		if r.UserID == userID && r.Channel == ch {
			return true
		}
	}
	return false
}

// AddReadReceipt inserts a receipt for (userID, ch) unless one exists and
// recomputes IsRead. It returns false for a duplicate.
func (n *Notification) AddReadReceipt(userID string, ch Channel, at time.Time) bool {
	if n.HasReadReceipt(userID, ch) {
		return false
	}
	n.ReadBy = append(n.ReadBy, ReadReceipt{UserID: userID, Channel: ch, ReadAt: at})
	n.IsRead = n.allRecipientsRead()
	n.UpdatedAt = at
	return true
}

// AddClickReceipt inserts a click for (userID, ch) unless one exists.
func (n *Notification) AddClickReceipt(userID string, ch Channel, url string, at time.Time) bool {
	for _, c := range n.ClickedBy {
		if c.UserID == userID && c.Channel == ch {
			return false
		}
	}
	n.ClickedBy = append(n.ClickedBy, ClickReceipt{UserID: userID, Channel: ch, URL: url, ClickedAt: at})
	n.UpdatedAt = at
	return true
}

// ReadByUser reports whether userID has at least one read receipt.
func (n *Notification) ReadByUser(userID string) bool {
	for _, r := range n.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func (n *Notification) allRecipientsRead() bool {
	if len(n.Recipients) == 0 {
		return false
	}
	for _, r := range n.Recipients {
		if !n.ReadByUser(r.UserID) {
			return false
		}
	}
	return true
}

func (n *Notification) uniqueReaders() int {
	seen := make(map[string]struct{}, len(n.ReadBy))
	for _, r := range n.ReadBy {
		seen[r.UserID] = struct{}{}
	}
	return len(seen)
}

func (n *Notification) uniqueClickers() int {
	seen := make(map[string]struct{}, len(n.ClickedBy))
	for _, c := range n.ClickedBy {
		seen[c.UserID] = struct{}{}
	}
	return len(seen)
}

// Analytics derives counters from the delivery statuses and receipt sets.
//
//	sent          channels with at least one attempt
//	delivery rate delivered / sent
//	open rate     distinct readers / recipients
//	click rate    distinct clickers / distinct readers
func (n *Notification) Analytics() Analytics {
	var a Analytics
	for _, ds := range n.DeliveryStatus {
		if ds.Attempts > 0 {
			a.Sent++
		}
		switch ds.State {
		case DeliveryDelivered:
			a.Delivered++
		case DeliveryFailed:
			a.Failed++
		case DeliveryBounced:
			a.Bounced++
		}
	}
	a.Read = len(n.ReadBy)
	a.Clicked = len(n.ClickedBy)

	readers := n.uniqueReaders()
	a.DeliveryRate = Percent(a.Delivered, a.Sent)
	a.OpenRate = Percent(readers, len(n.Recipients))
	a.ClickRate = Percent(n.uniqueClickers(), readers)
	return a
}

// Percent returns round(100*num/den), or 0 when den is 0.
func Percent(num, den int) int {
	if den == 0 {
		return 0
	}
	return int(math.Round(float64(num) * 100 / float64(den)))
}
