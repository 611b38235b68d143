package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/internal/domain"
)

func templateReq(name string) domain.CreateTemplateRequest {
	return domain.CreateTemplateRequest{
		Name:            name,
		Title:           "Hi {{name}}",
		MessageTemplate: "Your order {{order}} shipped. {{footer}}",
		Channels:        []domain.Channel{domain.ChannelEmail},
		Priority:        domain.PriorityHigh,
		Category:        domain.CategoryUpdate,
	}
}

func TestCreateTemplate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tmpl, err := h.engine.CreateTemplate(ctx, templateReq("shipped"), "author")
	require.NoError(t, err)
	assert.True(t, tmpl.IsActive)
	assert.Equal(t, []string{"name", "order", "footer"}, tmpl.Variables)
	assert.Equal(t, "author", tmpl.CreatedBy)

	_, err = h.engine.CreateTemplate(ctx, templateReq("shipped"), "author")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
	_, err = h.engine.CreateTemplate(ctx, templateReq("Shipped"), "author")
	assert.NoError(t, err, "names are case-sensitive")

	bad := templateReq("x")
	bad.MessageTemplate = ""
	_, err = h.engine.CreateTemplate(ctx, bad, "author")
	assert.ErrorIs(t, err, domain.ErrMissingFields)

	got, err := h.engine.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "shipped", got.Name)

	_, err = h.engine.SetTemplateActive(ctx, tmpl.ID, false)
	require.NoError(t, err)
	active, err := h.engine.ListTemplates(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSendBulk_WithoutTemplate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ns, err := h.engine.SendBulkNotifications(ctx, domain.BulkNotificationRequest{
		Recipients: []domain.Recipient{{UserID: "u1"}, {UserID: "u2"}},
		Title:      "Maintenance",
		Message:    "Tonight at 2am",
		Channels:   []domain.Channel{domain.ChannelInApp},
	}, "ops")
	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.NotEqual(t, ns[0].ID, ns[1].ID)
	for i, n := range ns {
		require.Len(t, n.Recipients, 1)
		assert.Equal(t, []string{"u1", "u2"}[i], n.Recipients[0].UserID)
		assert.Equal(t, "ops", n.SenderID)
		assert.Equal(t, domain.StatusQueued, n.Status)
	}
	assert.Equal(t, 2, h.created)
}

func TestSendBulk_WithTemplate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tmpl, err := h.engine.CreateTemplate(ctx, templateReq("shipped"), "author")
	require.NoError(t, err)

	ns, err := h.engine.SendBulkNotifications(ctx, domain.BulkNotificationRequest{
		TemplateID: tmpl.ID,
		Recipients: []domain.Recipient{{UserID: "u1", Name: "Ada", Email: "ada@example.com"}, {UserID: "u2"}},
		Data:       map[string]any{"order": 42},
	}, "")
	require.NoError(t, err)
	require.Len(t, ns, 2)

	assert.Equal(t, "Hi Ada", ns[0].Title)
	assert.Equal(t, "Your order 42 shipped. {{footer}}", ns[0].Message)
	assert.Equal(t, "Hi {{name}}", ns[1].Title, "unknown placeholders stay verbatim")
	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, ns[0].Channels)
	assert.Equal(t, domain.PriorityHigh, ns[0].Priority)
	assert.Equal(t, domain.CategoryUpdate, ns[0].Category)
	assert.Equal(t, tmpl.ID, ns[0].TemplateID)
}

func TestSendBulk_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.SendBulkNotifications(ctx, domain.BulkNotificationRequest{Title: "t", Message: "m"}, "")
	assert.ErrorIs(t, err, domain.ErrMissingFields)

	_, err = h.engine.SendBulkNotifications(ctx, domain.BulkNotificationRequest{
		TemplateID: "missing",
		Recipients: []domain.Recipient{{UserID: "u1"}},
	}, "")
	assert.ErrorIs(t, err, domain.ErrTemplateUnavailable)

	tmpl, err := h.engine.CreateTemplate(ctx, templateReq("off"), "author")
	require.NoError(t, err)
	_, err = h.engine.SetTemplateActive(ctx, tmpl.ID, false)
	require.NoError(t, err)
	_, err = h.engine.SendBulkNotifications(ctx, domain.BulkNotificationRequest{
		TemplateID: tmpl.ID,
		Recipients: []domain.Recipient{{UserID: "u1"}},
	}, "")
	assert.ErrorIs(t, err, domain.ErrTemplateUnavailable)

	_, err = h.engine.SendBulkNotifications(ctx, domain.BulkNotificationRequest{
		Recipients: []domain.Recipient{{UserID: "u1"}, {UserID: "u2"}},
		Title:      "no channels",
		Message:    "m",
	}, "")
	assert.ErrorIs(t, err, domain.ErrNoChannels)
	assert.Zero(t, h.created, "nothing is persisted when any recipient fails validation")
}
