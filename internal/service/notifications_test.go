package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/service"
)

func TestCreateNotification_QueuedImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n, err := h.engine.CreateNotification(ctx, createReq("u1"), "sender")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusQueued, n.Status)
	require.Len(t, n.DeliveryStatus, 2)
	for i, ch := range n.Channels {
		assert.Equal(t, ch, n.DeliveryStatus[i].Channel)
		assert.Equal(t, domain.DeliveryPending, n.DeliveryStatus[i].State)
		assert.Zero(t, n.DeliveryStatus[i].Attempts)
	}
	assert.Equal(t, domain.Analytics{}, n.Analytics())

	assert.Len(t, h.items(t, n.ID), 2, "one item per recipient and channel")
	assert.Len(t, h.drain(), 2, "due items are dispatched right away")
	assert.Equal(t, 1, h.push.count("notification"))
}

// SMS is off by default, so a fresh user cannot receive it; the create
// still queues with its item recorded as suppressed.
func TestCreateNotification_SMSOnlyForNewUser(t *testing.T) {
	h := newHarness(t)
	req := createReq("u1")
	req.Channels = []domain.Channel{domain.ChannelSMS}

	n, err := h.engine.CreateNotification(context.Background(), req, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, n.Status)

	items := h.items(t, n.ID)
	require.Len(t, items, 1)
	assert.Equal(t, domain.ChannelSMS, items[0].Channel)
	assert.Equal(t, domain.QueueCancelled, items[0].Status)
}

func TestCreateNotification_DeliveryStatusMatchesChannels(t *testing.T) {
	h := newHarness(t)
	sets := [][]domain.Channel{
		{domain.ChannelInApp},
		{domain.ChannelEmail, domain.ChannelPush},
		{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush, domain.ChannelInApp},
		{domain.ChannelPush, domain.ChannelPush, domain.ChannelEmail},
	}
	for _, chans := range sets {
		req := createReq("u1", "u2")
		req.Channels = chans
		n, err := h.engine.CreateNotification(context.Background(), req, "")
		require.NoError(t, err)

		got := make([]domain.Channel, len(n.DeliveryStatus))
		for i, ds := range n.DeliveryStatus {
			got[i] = ds.Channel
		}
		assert.ElementsMatch(t, n.Channels, got)
		assert.Subset(t, chans, got)
	}
}

func TestCreateNotification_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	later := h.clock.Now().Add(time.Hour)

	cases := []struct {
		name   string
		mutate func(r *domain.CreateNotificationRequest)
		want   error
	}{
		{"missing title", func(r *domain.CreateNotificationRequest) { r.Title = " " }, domain.ErrMissingFields},
		{"missing message", func(r *domain.CreateNotificationRequest) { r.Message = "" }, domain.ErrMissingFields},
		{"no recipients", func(r *domain.CreateNotificationRequest) { r.Recipients = nil }, domain.ErrMissingFields},
		{"no channels", func(r *domain.CreateNotificationRequest) { r.Channels = nil }, domain.ErrNoChannels},
		{"unknown channel", func(r *domain.CreateNotificationRequest) { r.Channels = []domain.Channel{"fax"} }, domain.ErrInvalidInput},
		{"unknown priority", func(r *domain.CreateNotificationRequest) { r.Priority = "meh" }, domain.ErrInvalidInput},
		{"expiry not after schedule", func(r *domain.CreateNotificationRequest) {
			r.ScheduledFor, r.ExpiresAt = &later, &later
		}, domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := createReq("u1")
			tc.mutate(&req)
			_, err := h.engine.CreateNotification(ctx, req, "")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateNotification_ScheduledStaysDraftUntilActivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	at := h.clock.Now().Add(time.Hour)
	req := createReq("u1")
	req.ScheduledFor = &at
	n, err := h.engine.CreateNotification(ctx, req, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, n.Status)
	assert.Empty(t, h.items(t, n.ID))
	assert.Zero(t, h.push.count("notification"))

	activated, err := h.engine.ActivateDue(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, activated)

	h.clock.Advance(time.Hour)
	activated, err = h.engine.ActivateDue(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, activated)

	got, err := h.engine.GetNotification(ctx, n.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Len(t, h.items(t, n.ID), 2)
	assert.Equal(t, 1, h.push.count("notification"))
}

func TestCreateNotification_PastScheduleQueuesNow(t *testing.T) {
	h := newHarness(t)
	past := h.clock.Now().Add(-time.Minute)
	req := createReq("u1")
	req.ScheduledFor = &past

	n, err := h.engine.CreateNotification(context.Background(), req, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, n.Status)
}

func TestGetNotification_Access(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n, err := h.engine.CreateNotification(ctx, createReq("u1"), "sender")
	require.NoError(t, err)

	for _, viewer := range []string{"", "sender", "u1"} {
		_, err := h.engine.GetNotification(ctx, n.ID, viewer)
		assert.NoError(t, err, viewer)
	}
	_, err = h.engine.GetNotification(ctx, n.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.engine.GetNotification(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkAsRead_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n, err := h.engine.CreateNotification(ctx, createReq("u1", "u2"), "sender")
	require.NoError(t, err)

	for range 2 {
		got, err := h.engine.MarkAsRead(ctx, n.ID, "u1", "")
		require.NoError(t, err)
		assert.Len(t, got.ReadBy, 1)
		assert.Equal(t, 1, got.Analytics().Read)
		assert.False(t, got.IsRead, "u2 has not read yet")
	}
	assert.Equal(t, 1, h.push.count("notification_read"))

	got, err := h.engine.MarkAsRead(ctx, n.ID, "u1", domain.ChannelEmail)
	require.NoError(t, err)
	assert.Len(t, got.ReadBy, 2, "another channel is another receipt")
	assert.False(t, got.IsRead)

	got, err = h.engine.MarkAsRead(ctx, n.ID, "u2", "")
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.Equal(t, 100, got.Analytics().OpenRate)

	_, err = h.engine.MarkAsRead(ctx, n.ID, "stranger", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.engine.MarkAsRead(ctx, "missing", "u1", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.engine.MarkAsRead(ctx, n.ID, "u1", "fax")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err = h.engine.MarkAsRead(ctx, n.ID, "sender", "")
	require.NoError(t, err)
	assert.Len(t, got.ReadBy, 3, "the sender leaves no receipt")
}

func TestMarkAsRead_IsReadNeedsEveryRecipient(t *testing.T) {
	for _, size := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("%d recipients", size), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			ids := make([]string, size)
			for i := range ids {
				ids[i] = fmt.Sprintf("u%d", i)
			}
			n, err := h.engine.CreateNotification(ctx, createReq(ids...), "")
			require.NoError(t, err)

			for i, id := range ids {
				got, err := h.engine.MarkAsRead(ctx, n.ID, id, "")
				require.NoError(t, err)
				assert.Equal(t, i == size-1, got.IsRead, "after %d of %d reads", i+1, size)
			}
		})
	}
}

func TestMarkAsRead_Concurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n, err := h.engine.CreateNotification(ctx, createReq("u1"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.MarkAsRead(ctx, n.ID, "u1", domain.ChannelInApp)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := h.engine.GetNotification(ctx, n.ID, "")
	require.NoError(t, err)
	assert.Len(t, got.ReadBy, 1)
	assert.Equal(t, 1, got.Analytics().Read)
	assert.Equal(t, 1, h.push.count("notification_read"))
}

func TestRecordClick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n, err := h.engine.CreateNotification(ctx, createReq("u1", "u2"), "sender")
	require.NoError(t, err)

	_, err = h.engine.MarkAsRead(ctx, n.ID, "u1", "")
	require.NoError(t, err)
	for range 2 {
		_, err = h.engine.RecordClick(ctx, n.ID, "u1", "", "https://example.com/invoice")
		require.NoError(t, err)
	}
	got, err := h.engine.GetNotification(ctx, n.ID, "")
	require.NoError(t, err)
	a := got.Analytics()
	assert.Equal(t, 1, a.Clicked)
	assert.Equal(t, 100, a.ClickRate)
	assert.Equal(t, 50, a.OpenRate)

	_, err = h.engine.RecordClick(ctx, n.ID, "sender", "", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUpdateNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n, err := h.engine.CreateNotification(ctx, createReq("u1"), "sender")
	require.NoError(t, err)

	title := "Updated"
	urgent := domain.PriorityUrgent
	got, err := h.engine.UpdateNotification(ctx, n.ID, domain.UpdateNotificationRequest{Title: &title, Priority: &urgent}, "sender")
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Title)
	assert.Equal(t, domain.PriorityUrgent, got.Priority)
	assert.Equal(t, 1, h.push.count("notification_updated"))

	_, err = h.engine.UpdateNotification(ctx, n.ID, domain.UpdateNotificationRequest{Title: &title}, "u1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	empty := ""
	_, err = h.engine.UpdateNotification(ctx, n.ID, domain.UpdateNotificationRequest{Title: &empty}, "sender")
	assert.ErrorIs(t, err, domain.ErrMissingFields)

	_, err = h.engine.CancelNotification(ctx, n.ID, "sender")
	require.NoError(t, err)
	_, err = h.engine.UpdateNotification(ctx, n.ID, domain.UpdateNotificationRequest{Title: &title}, "sender")
	assert.ErrorIs(t, err, domain.ErrNotEditable)
}

func TestCancelNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n, err := h.engine.CreateNotification(ctx, createReq("u1"), "sender")
	require.NoError(t, err)

	_, err = h.engine.CancelNotification(ctx, n.ID, "u1")
	require.ErrorIs(t, err, domain.ErrForbidden)

	got, err := h.engine.CancelNotification(ctx, n.ID, "sender")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	for _, it := range h.items(t, n.ID) {
		assert.Equal(t, domain.QueueCancelled, it.Status)
	}

	_, err = h.engine.CancelNotification(ctx, n.ID, "sender")
	assert.NoError(t, err, "cancelling twice is a no-op")

	// Items already handed to the workers are dropped on pickup.
	for _, it := range h.drain() {
		_, _, err := h.engine.BeginDelivery(ctx, it.QueueItemID)
		assert.ErrorIs(t, err, service.ErrStaleItem)
	}
}

func TestDeleteNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n, err := h.engine.CreateNotification(ctx, createReq("u1"), "sender")
	require.NoError(t, err)

	require.ErrorIs(t, h.engine.DeleteNotification(ctx, n.ID, "u1"), domain.ErrForbidden)
	require.NoError(t, h.engine.DeleteNotification(ctx, n.ID, "sender"))

	_, err = h.engine.GetNotification(ctx, n.ID, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.items(t, n.ID))
	assert.ErrorIs(t, h.engine.DeleteNotification(ctx, n.ID, ""), domain.ErrNotFound)
}

func TestSearchNotifications(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	prios := []domain.Priority{domain.PriorityLow, domain.PriorityCritical, domain.PriorityNormal, domain.PriorityUrgent, domain.PriorityHigh}
	for i := range 25 {
		req := createReq("u1")
		req.Priority = prios[i%len(prios)]
		_, err := h.engine.CreateNotification(ctx, req, "")
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	for _, tc := range []struct{ limit, offset int }{{10, 0}, {10, 20}, {10, 30}, {0, 0}, {500, 5}} {
		page, p, err := h.engine.SearchNotifications(ctx, domain.SearchFilter{Limit: tc.limit, Offset: tc.offset}, "u1")
		require.NoError(t, err)
		limit := tc.limit
		if limit <= 0 {
			limit = domain.DefaultPageSize
		}
		limit = min(limit, domain.MaxPageSize)
		assert.Len(t, page, min(limit, max(0, 25-tc.offset)))
		assert.Equal(t, tc.offset+limit < 25, p.HasMore)
		assert.Equal(t, 25, p.Total)
	}

	page, _, err := h.engine.SearchNotifications(ctx, domain.SearchFilter{SortBy: domain.SortByPriority, Order: domain.OrderDesc, Limit: 100}, "")
	require.NoError(t, err)
	for i := 1; i < len(page); i++ {
		assert.GreaterOrEqual(t, page[i-1].Priority.Rank(), page[i].Priority.Rank())
	}

	_, _, err = h.engine.SearchNotifications(ctx, domain.SearchFilter{}, "stranger")
	require.NoError(t, err)
	_, _, err = h.engine.SearchNotifications(ctx, domain.SearchFilter{SortBy: "title"}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGetNotificationStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n, err := h.engine.CreateNotification(ctx, createReq("u1", "u2"), "")
	require.NoError(t, err)
	_, err = h.engine.CreateNotification(ctx, createReq("u3"), "")
	require.NoError(t, err)
	_, err = h.engine.MarkAsRead(ctx, n.ID, "u1", "")
	require.NoError(t, err)

	s, err := h.engine.GetNotificationStats(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.Last30d, s.Timeframe)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.ByStatus[domain.StatusQueued])
	assert.Equal(t, 2, s.ByCategory[domain.CategoryBilling])
	assert.Zero(t, s.DeliveryRate, "nothing attempted yet")

	s, err = h.engine.GetNotificationStats(ctx, "u3", "last_24h")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)

	_, err = h.engine.GetNotificationStats(ctx, "", "last_year")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
