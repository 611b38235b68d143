package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// WebhookRequest is the JSON body posted to the external provider.
type WebhookRequest struct {
	MessageID      string         `json:"messageId"`
	NotificationID string         `json:"notificationId"`
	Channel        string         `json:"channel"`
	To             string         `json:"to"`
	Name           string         `json:"name,omitempty"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Priority       string         `json:"priority"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// WebhookSender delivers by POSTing to an HTTP endpoint. The base URL is
// injected from config so tests can point it at httptest.
//
// 2xx is success. 408, 429, 5xx and transport errors are retryable; any
// other status is fatal.
type WebhookSender struct {
	baseURL    string
	httpClient *http.Client
}

func NewWebhookSender(baseURL string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *WebhookSender) Send(ctx context.Context, msg Message) (*SendResponse, error) {
	if msg.Notification == nil {
		return nil, Fatal(errors.New("webhook message without notification"))
	}
	to, err := address(msg.Channel, msg.Recipient)
	if err != nil {
		return nil, Fatal(err)
	}
	n := msg.Notification
	body, err := json.Marshal(WebhookRequest{
		MessageID:      msg.QueueItemID,
		NotificationID: n.ID,
		Channel:        string(msg.Channel),
		To:             to,
		Name:           msg.Recipient.Name,
		Title:          n.Title,
		Content:        n.Message,
		Priority:       string(n.Priority),
		Payload:        n.Payload,
	})
	if err != nil {
		return nil, Fatal(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, Fatal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.QueueItemID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, Retryable(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, Retryable(fmt.Errorf("unexpected provider status: %d", resp.StatusCode))
	default:
		return nil, Fatal(fmt.Errorf("unexpected provider status: %d", resp.StatusCode))
	}

	sendResp := SendResponse{MessageID: msg.QueueItemID, Status: "accepted"}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil && len(bytes.TrimSpace(raw)) > 0 {
		// The acknowledgement body is informational; a malformed one does
		// not undo a 2xx.
		_ = json.Unmarshal(raw, &sendResp)
	}
	return &sendResp, nil
}

// address picks the contact attribute the channel needs.
func address(ch domain.Channel, r domain.Recipient) (string, error) {
	var to string
	switch ch {
	case domain.ChannelEmail:
		to = r.Email
	case domain.ChannelSMS:
		to = r.Phone
	case domain.ChannelPush:
		to = r.DeviceToken
	default:
		to = r.UserID
	}
	if to == "" {
		return "", fmt.Errorf("recipient %s has no address for channel %s", r.UserID, ch)
	}
	return to, nil
}

var _ Sender = (*WebhookSender)(nil)
