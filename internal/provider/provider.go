// Package provider holds the channel senders the delivery workers call.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// Message is one delivery: a notification addressed to a single recipient
// on a single channel.
type Message struct {
	QueueItemID  string
	Channel      domain.Channel
	Recipient    domain.Recipient
	Notification *domain.Notification
}

// SendResponse is what a provider acknowledges with.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Sender delivers a message on one channel. Errors are retryable unless
// wrapped with Fatal.
type Sender interface {
	Send(ctx context.Context, msg Message) (*SendResponse, error)
}

// SendError classifies a failed send.
type SendError struct {
	Err       error
	Retryable bool
}

func (e *SendError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s send error: %v", kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func Retryable(err error) error { return &SendError{Err: err, Retryable: true} }

func Fatal(err error) error { return &SendError{Err: err, Retryable: false} }

// IsRetryable reports whether another attempt may succeed. Unclassified
// errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// ErrNoSender is returned, wrapped as fatal, when no sender is registered
// for a channel.
var ErrNoSender = errors.New("no sender registered for channel")

// Mux routes messages to the sender registered for their channel.
type Mux struct {
	senders map[domain.Channel]Sender
}

func NewMux() *Mux {
	return &Mux{senders: make(map[domain.Channel]Sender)}
}

// Handle registers s for the given channels, replacing any previous sender.
func (m *Mux) Handle(s Sender, channels ...domain.Channel) *Mux {
	for _, ch := range channels {
		m.senders[ch] = s
	}
	return m
}

func (m *Mux) Send(ctx context.Context, msg Message) (*SendResponse, error) {
	s, ok := m.senders[msg.Channel]
	if !ok {
		return nil, Fatal(fmt.Errorf("%w: %s", ErrNoSender, msg.Channel))
	}
	return s.Send(ctx, msg)
}

// InboxSender delivers in_app messages. The notification record is already
// durable and live clients are reached through the realtime broadcaster, so
// delivery succeeds as soon as the record exists.
type InboxSender struct{}

func (InboxSender) Send(_ context.Context, msg Message) (*SendResponse, error) {
	if msg.Notification == nil {
		return nil, Fatal(errors.New("inbox message without notification"))
	}
	return &SendResponse{MessageID: msg.Notification.ID + ":" + msg.Recipient.UserID, Status: "stored"}, nil
}

var (
	_ Sender = (*Mux)(nil)
	_ Sender = InboxSender{}
)
