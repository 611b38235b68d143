package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestUserPreferences_LazyDefaultAndMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.engine.GetUserPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.Enabled)
	assert.False(t, p.ChannelEnabled(domain.ChannelSMS))

	h.clock.Advance(time.Minute)
	p, err = h.engine.UpdateUserPreferences(ctx, "u1", domain.PreferenceUpdate{
		Channels: map[domain.Channel]bool{domain.ChannelSMS: true},
	})
	require.NoError(t, err)
	assert.True(t, p.ChannelEnabled(domain.ChannelSMS))
	assert.True(t, p.ChannelEnabled(domain.ChannelEmail))
	assert.Equal(t, h.clock.Now(), p.UpdatedAt)

	_, err = h.engine.UpdateUserPreferences(ctx, "u1", domain.PreferenceUpdate{
		QuietHours: &domain.QuietHoursUpdate{Start: ptr("9pm")},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.engine.GetUserPreferences(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPreferences_AllSuppressedSettlesCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := createReq("u1", "u2")
	req.Channels = []domain.Channel{domain.ChannelSMS}

	n, err := h.engine.CreateNotification(ctx, req, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, n.Status, "create always queues")
	assert.Equal(t, domain.DeliveryBlocked, n.ChannelStatus(domain.ChannelSMS).State)

	items := h.items(t, n.ID)
	require.Len(t, items, 2, "one item per recipient and channel")
	for _, it := range items {
		assert.Equal(t, domain.QueueCancelled, it.Status)
		assert.Equal(t, "channel_disabled", it.LastError)
		assert.Zero(t, it.Attempts)
	}
	assert.Empty(t, h.drain())
	assert.Zero(t, h.push.count("notification"))
	assert.Equal(t, 2, h.suppressed["sms/channel_disabled"])

	assert.Equal(t, domain.StatusCancelled, h.notification(t, n.ID).Status, "settles once every item is terminal")
}

func TestPreferences_PartialSuppression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.UpdateUserPreferences(ctx, "u2", domain.PreferenceUpdate{
		Categories: map[domain.Category]domain.CategoryPreference{domain.CategoryBilling: {Enabled: false}},
	})
	require.NoError(t, err)

	n, err := h.engine.CreateNotification(ctx, createReq("u1", "u2"), "")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusQueued, n.Status)
	for _, ds := range n.DeliveryStatus {
		assert.Equal(t, domain.DeliveryPending, ds.State, "u1 still receives every channel")
	}
	items := h.items(t, n.ID)
	require.Len(t, items, 4)
	for _, it := range items {
		if it.RecipientID == "u2" {
			assert.Equal(t, domain.QueueCancelled, it.Status)
			assert.Equal(t, "category_disabled", it.LastError)
		} else {
			assert.Equal(t, domain.QueuePending, it.Status)
		}
	}
	dispatched := h.drain()
	require.Len(t, dispatched, 2)
	assert.Equal(t, 1, h.push.count("notification"))
	assert.Equal(t, 1, h.suppressed["email/category_disabled"])

	for _, it := range dispatched {
		_, _, err := h.engine.BeginDelivery(ctx, it.QueueItemID)
		require.NoError(t, err)
		_, err = h.engine.RecordDeliveryAttempt(ctx, it.QueueItemID, nil, false)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.StatusDelivered, h.notification(t, n.ID).Status, "suppressed items count as terminal")
}

func TestPreferences_QuietHoursDefer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.UpdateUserPreferences(ctx, "u1", domain.PreferenceUpdate{
		QuietHours: &domain.QuietHoursUpdate{Enabled: ptr(true), Start: ptr("11:00"), End: ptr("13:00"), Timezone: ptr("UTC")},
	})
	require.NoError(t, err)

	n, err := h.engine.CreateNotification(ctx, createReq("u1", "u2"), "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, n.Status)
	live := h.drain()
	require.Len(t, live, 2, "only u2 is due now")
	assert.Equal(t, 1, h.push.count("notification"), "u2 is told right away")

	windowEnd := time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC)
	for _, it := range h.items(t, n.ID) {
		if it.RecipientID != "u1" {
			continue
		}
		assert.Equal(t, domain.QueuePending, it.Status)
		assert.True(t, it.Deferred)
		assert.Equal(t, windowEnd, it.ScheduledAt)
	}

	h.clock.Advance(2 * time.Hour)
	dispatched, err := h.engine.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dispatched)

	for _, it := range append(live, h.drain()...) {
		_, _, err := h.engine.BeginDelivery(ctx, it.QueueItemID)
		require.NoError(t, err)
		_, err = h.engine.RecordDeliveryAttempt(ctx, it.QueueItemID, nil, false)
		require.NoError(t, err)
	}

	assert.Equal(t, domain.StatusDelivered, h.notification(t, n.ID).Status)
	assert.Equal(t, 2, h.push.count("notification"), "u1 is told once after quiet hours")
	assert.Equal(t, 1, h.push.countFor("notification", "u1"))
}

func TestPreferences_UrgentBypassesQuietHours(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.UpdateUserPreferences(ctx, "u1", domain.PreferenceUpdate{
		QuietHours: &domain.QuietHoursUpdate{Enabled: ptr(true), Start: ptr("11:00"), End: ptr("13:00")},
	})
	require.NoError(t, err)

	req := createReq("u1")
	req.Priority = domain.PriorityUrgent
	_, err = h.engine.CreateNotification(ctx, req, "")
	require.NoError(t, err)
	items := h.drain()
	require.Len(t, items, 2)
	assert.Equal(t, domain.PriorityUrgent, items[0].Priority)
}
