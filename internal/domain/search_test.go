package domain_test

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/internal/domain"
)

func seed(total int) []*domain.Notification {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	prios := []domain.Priority{
		domain.PriorityNormal, domain.PriorityCritical, domain.PriorityLow,
		domain.PriorityUrgent, domain.PriorityHigh,
	}
	ns := make([]*domain.Notification, total)
	for i := range ns {
		ns[i] = &domain.Notification{
			ID:         fmt.Sprintf("n%03d", i),
			Title:      fmt.Sprintf("title %d", i),
			Priority:   prios[i%len(prios)],
			Recipients: []domain.Recipient{{UserID: "u1"}},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
	}
	return ns
}

func TestPaginate(t *testing.T) {
	for _, total := range []int{0, 1, 7, 20, 45} {
		for _, limit := range []int{1, 5, 20} {
			for _, offset := range []int{0, 3, 20, 50} {
				page, p := domain.Paginate(seed(total), limit, offset)
				want := min(limit, max(0, total-offset))
				assert.Len(t, page, want, "T=%d L=%d O=%d", total, limit, offset)
				assert.Equal(t, offset+limit < total, p.HasMore, "T=%d L=%d O=%d", total, limit, offset)
				assert.Equal(t, total, p.Total)
			}
		}
	}
}

func TestPaginate_HugeOffset(t *testing.T) {
	page, p := domain.Paginate(seed(5), domain.MaxPageSize, math.MaxInt)
	assert.Empty(t, page)
	assert.False(t, p.HasMore)
	assert.Equal(t, math.MaxInt, p.Offset)

	page, p = domain.Paginate(seed(5), math.MaxInt, 1)
	assert.Len(t, page, 4)
	assert.False(t, p.HasMore)
}

func TestSearchFilter_NormalizeClampsOffset(t *testing.T) {
	f := domain.SearchFilter{Offset: math.MaxInt}
	f.Normalize()
	assert.Equal(t, domain.MaxOffset, f.Offset)
	assert.Less(t, int64(f.Offset+f.Limit), int64(math.MaxInt32))
}

func TestSearchFilter_Normalize(t *testing.T) {
	f := domain.SearchFilter{Limit: 1000, Offset: -4}
	f.Normalize()
	assert.Equal(t, domain.MaxPageSize, f.Limit)
	assert.Equal(t, 0, f.Offset)
	assert.Equal(t, domain.SortByCreatedAt, f.SortBy)
	assert.Equal(t, domain.OrderDesc, f.Order)

	f = domain.SearchFilter{}
	f.Normalize()
	assert.Equal(t, domain.DefaultPageSize, f.Limit)
}

func TestSortNotifications_PriorityIsOrdinal(t *testing.T) {
	ns := seed(23)
	domain.SortNotifications(ns, domain.SortByPriority, domain.OrderDesc)
	for i := 1; i < len(ns); i++ {
		require.GreaterOrEqual(t, ns[i-1].Priority.Rank(), ns[i].Priority.Rank())
	}
	assert.Equal(t, domain.PriorityCritical, ns[0].Priority)
	assert.Equal(t, domain.PriorityLow, ns[len(ns)-1].Priority)

	domain.SortNotifications(ns, domain.SortByPriority, domain.OrderAsc)
	assert.Equal(t, domain.PriorityLow, ns[0].Priority)
}

func TestSortNotifications_CreatedAt(t *testing.T) {
	ns := seed(5)
	domain.SortNotifications(ns, domain.SortByCreatedAt, domain.OrderDesc)
	assert.Equal(t, "n004", ns[0].ID)
	assert.Equal(t, "n000", ns[4].ID)
}

func TestSearchFilter_Matches(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := &domain.Notification{
		Type:       domain.TypeAlert,
		Title:      "Disk almost FULL",
		Message:    "volume /data at 95%",
		Recipients: []domain.Recipient{{UserID: "r1"}, {UserID: "r2"}},
		SenderID:   "s1",
		Channels:   []domain.Channel{domain.ChannelEmail, domain.ChannelPush},
		Priority:   domain.PriorityHigh,
		Category:   domain.CategorySystem,
		Status:     domain.StatusQueued,
		Metadata:   domain.Metadata{Source: "monitor", Tags: []string{"ops", "storage"}},
		CreatedAt:  created,
	}
	n.AddReadReceipt("r1", domain.ChannelEmail, created)

	yes, no := true, false
	before, after := created.Add(-time.Hour), created.Add(time.Hour)

	cases := []struct {
		name   string
		filter domain.SearchFilter
		viewer string
		want   bool
	}{
		{"empty filter", domain.SearchFilter{}, "", true},
		{"type hit", domain.SearchFilter{Types: []domain.Type{domain.TypeAlert, domain.TypeInfo}}, "", true},
		{"type miss", domain.SearchFilter{Types: []domain.Type{domain.TypeInfo}}, "", false},
		{"category miss", domain.SearchFilter{Categories: []domain.Category{domain.CategoryBilling}}, "", false},
		{"priority hit", domain.SearchFilter{Priorities: []domain.Priority{domain.PriorityHigh}}, "", true},
		{"status miss", domain.SearchFilter{Statuses: []domain.Status{domain.StatusSent}}, "", false},
		{"channel intersect", domain.SearchFilter{Channels: []domain.Channel{domain.ChannelSMS, domain.ChannelPush}}, "", true},
		{"channel disjoint", domain.SearchFilter{Channels: []domain.Channel{domain.ChannelSMS}}, "", false},
		{"sender", domain.SearchFilter{SenderID: "s2"}, "", false},
		{"inside range", domain.SearchFilter{From: &before, To: &after}, "", true},
		{"after range", domain.SearchFilter{To: &before}, "", false},
		{"tag intersect", domain.SearchFilter{Tags: []string{"storage", "x"}}, "", true},
		{"source miss", domain.SearchFilter{Source: "billing"}, "", false},
		{"text in title", domain.SearchFilter{Query: "full"}, "", true},
		{"text in tag", domain.SearchFilter{Query: "OPS"}, "", true},
		{"text miss", domain.SearchFilter{Query: "cpu"}, "", false},
		{"viewer recipient read", domain.SearchFilter{Read: &yes}, "r1", true},
		{"viewer recipient unread", domain.SearchFilter{Read: &no}, "r2", true},
		{"viewer unrelated", domain.SearchFilter{}, "x", false},
		{"viewer sender", domain.SearchFilter{}, "s1", true},
		{"aggregate unread", domain.SearchFilter{Read: &no}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(n, tc.viewer))
		})
	}
}

func TestSearchFilter_Validate(t *testing.T) {
	require.NoError(t, domain.SearchFilter{}.Validate())
	require.ErrorIs(t, domain.SearchFilter{SortBy: "title"}.Validate(), domain.ErrInvalidInput)
	require.ErrorIs(t, domain.SearchFilter{Priorities: []domain.Priority{"p0"}}.Validate(), domain.ErrInvalidInput)
}

func TestComputeStats(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	a := &domain.Notification{
		Status:     domain.StatusDelivered,
		Category:   domain.CategoryAccount,
		Priority:   domain.PriorityHigh,
		Channels:   []domain.Channel{domain.ChannelEmail, domain.ChannelPush},
		Recipients: []domain.Recipient{{UserID: "u1"}, {UserID: "u2"}},
		DeliveryStatus: []domain.DeliveryStatus{
			{Channel: domain.ChannelEmail, State: domain.DeliveryDelivered, Attempts: 1},
			{Channel: domain.ChannelPush, State: domain.DeliveryFailed, Attempts: 3},
		},
	}
	a.AddReadReceipt("u1", domain.ChannelEmail, now)
	b := &domain.Notification{
		Status:     domain.StatusQueued,
		Category:   domain.CategoryAccount,
		Priority:   domain.PriorityLow,
		Channels:   []domain.Channel{domain.ChannelEmail},
		Recipients: []domain.Recipient{{UserID: "u1"}},
		DeliveryStatus: []domain.DeliveryStatus{
			{Channel: domain.ChannelEmail, State: domain.DeliveryPending},
		},
	}

	s := domain.ComputeStats([]*domain.Notification{a, b}, domain.Last7d, now)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.ByStatus[domain.StatusDelivered])
	assert.Equal(t, 2, s.ByCategory[domain.CategoryAccount])
	assert.Equal(t, 2, s.ByChannel[domain.ChannelEmail])
	assert.Equal(t, 1, s.ByPriority[domain.PriorityLow])
	assert.Equal(t, 50, s.DeliveryRate)
	assert.Equal(t, 33, s.ReadRate)
	assert.Equal(t, now.Add(-7*24*time.Hour), s.From)

	empty := domain.ComputeStats(nil, domain.Last30d, now)
	assert.Zero(t, empty.DeliveryRate)
	assert.Zero(t, empty.ReadRate)
}

func TestParseTimeframe(t *testing.T) {
	tf, err := domain.ParseTimeframe("")
	require.NoError(t, err)
	assert.Equal(t, domain.Last30d, tf)

	tf, err = domain.ParseTimeframe("last_24h")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, tf.Duration())

	_, err = domain.ParseTimeframe("yesterday")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
