package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/provider"
)

func message(ch domain.Channel) provider.Message {
	return provider.Message{
		QueueItemID: "q1",
		Channel:     ch,
		Recipient:   domain.Recipient{UserID: "u1", Email: "u1@example.com"},
		Notification: &domain.Notification{
			ID:       "n1",
			Title:    "Hello",
			Message:  "World",
			Priority: domain.PriorityHigh,
		},
	}
}

func TestWebhookSender_Success(t *testing.T) {
	var got provider.WebhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "q1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"messageId":"prov-1","status":"queued"}`))
	}))
	defer srv.Close()

	s := provider.NewWebhookSender(srv.URL, time.Second)
	resp, err := s.Send(context.Background(), message(domain.ChannelEmail))
	require.NoError(t, err)
	assert.Equal(t, "prov-1", resp.MessageID)
	assert.Equal(t, "u1@example.com", got.To)
	assert.Equal(t, "email", got.Channel)
	assert.Equal(t, "high", got.Priority)
}

func TestWebhookSender_Classification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := provider.NewWebhookSender(srv.URL, time.Second).Send(context.Background(), message(domain.ChannelEmail))
			require.Error(t, err)
			assert.Equal(t, tc.retryable, provider.IsRetryable(err))
		})
	}
}

func TestWebhookSender_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := provider.NewWebhookSender(url, time.Second).Send(context.Background(), message(domain.ChannelEmail))
	require.Error(t, err)
	assert.True(t, provider.IsRetryable(err))
}

func TestWebhookSender_MissingAddressIsFatal(t *testing.T) {
	s := provider.NewWebhookSender("http://unused.invalid", time.Second)
	_, err := s.Send(context.Background(), message(domain.ChannelSMS))
	require.Error(t, err)
	assert.False(t, provider.IsRetryable(err))
}

func TestMux(t *testing.T) {
	m := provider.NewMux().Handle(provider.InboxSender{}, domain.ChannelInApp)

	resp, err := m.Send(context.Background(), message(domain.ChannelInApp))
	require.NoError(t, err)
	assert.Equal(t, "stored", resp.Status)

	_, err = m.Send(context.Background(), message(domain.ChannelPush))
	require.ErrorIs(t, err, provider.ErrNoSender)
	assert.False(t, provider.IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, provider.IsRetryable(nil))
	assert.True(t, provider.IsRetryable(errors.New("unclassified")))
	assert.True(t, provider.IsRetryable(provider.Retryable(errors.New("x"))))
	assert.False(t, provider.IsRetryable(provider.Fatal(errors.New("x"))))
}
