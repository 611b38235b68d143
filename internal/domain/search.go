package domain

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByPriority  SortField = "priority"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// MaxOffset keeps offset+limit inside int32 for every backend.
	MaxOffset = math.MaxInt32 - MaxPageSize
)

// SearchFilter holds the optional, ANDed predicates for listing notifications.
// Read is evaluated relative to the viewer when one is given, otherwise
// against the aggregate IsRead flag.
type SearchFilter struct {
	Types      []Type
	Categories []Category
	Priorities []Priority
	Statuses   []Status
	Channels   []Channel
	SenderID   string
	From       *time.Time
	To         *time.Time
	Read       *bool
	Tags       []string
	Source     string
	Query      string

	SortBy SortField
	Order  SortOrder
	Limit  int
	Offset int
}

// Normalize applies paging and sorting defaults.
func (f *SearchFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	f.Offset = min(max(f.Offset, 0), MaxOffset)
	if f.SortBy == "" {
		f.SortBy = SortByCreatedAt
	}
	if f.Order == "" {
		f.Order = OrderDesc
	}
	f.Query = strings.TrimSpace(f.Query)
}

func (f SearchFilter) Validate() error {
	for _, t := range f.Types {
		if !t.IsValid() {
			return invalid("type", fmt.Sprintf("unknown type %q", t))
		}
	}
	for _, c := range f.Categories {
		if !c.IsValid() {
			return invalid("category", fmt.Sprintf("unknown category %q", c))
		}
	}
	for _, p := range f.Priorities {
		if !p.IsValid() {
			return invalid("priority", fmt.Sprintf("unknown priority %q", p))
		}
	}
	for _, s := range f.Statuses {
		if !s.IsValid() {
			return invalid("status", fmt.Sprintf("unknown status %q", s))
		}
	}
	for _, ch := range f.Channels {
		if !ch.IsValid() {
			return invalid("channel", fmt.Sprintf("unknown channel %q", ch))
		}
	}
	switch f.SortBy {
	case "", SortByCreatedAt, SortByUpdatedAt, SortByPriority:
	default:
		return invalid("sort_by", fmt.Sprintf("unknown sort field %q", f.SortBy))
	}
	switch f.Order {
	case "", OrderAsc, OrderDesc:
	default:
		return invalid("order", fmt.Sprintf("unknown order %q", f.Order))
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return invalid("to", "must not be before from")
	}
	return nil
}

// Matches reports whether n satisfies every predicate in f. A non-empty
// viewerID additionally restricts results to notifications the viewer sent
// or receives.
func (f SearchFilter) Matches(n *Notification, viewerID string) bool {
	if viewerID != "" && !n.CanView(viewerID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, n.Type) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, n.Category) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, n.Priority) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, n.Status) {
		return false
	}
	if len(f.Channels) > 0 && !intersects(f.Channels, n.Channels) {
		return false
	}
	if f.SenderID != "" && n.SenderID != f.SenderID {
		return false
	}
	if f.From != nil && n.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && n.CreatedAt.After(*f.To) {
		return false
	}
	if f.Read != nil {
		read := n.IsRead
		if viewerID != "" {
			read = n.ReadByUser(viewerID)
		}
		if read != *f.Read {
			return false
		}
	}
	if len(f.Tags) > 0 && !intersects(f.Tags, n.Metadata.Tags) {
		return false
	}
	if f.Source != "" && n.Metadata.Source != f.Source {
		return false
	}
	if f.Query != "" && !matchesText(n, f.Query) {
		return false
	}
	return true
}

func intersects[T comparable](want, have []T) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

func matchesText(n *Notification, q string) bool {
	q = strings.ToLower(q)
	if strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.Message), q) {
		return true
	}
	for _, t := range n.Metadata.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// SortNotifications orders ns in place. Priority uses the ordinal rank, and
// ties fall back to creation time then ID so pages are stable.
func SortNotifications(ns []*Notification, by SortField, order SortOrder) {
	slices.SortStableFunc(ns, func(a, b *Notification) int {
		var c int
		switch by {
		case SortByPriority:
			c = cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
		case SortByUpdatedAt:
			c = a.UpdatedAt.Compare(b.UpdatedAt)
		}
		if c == 0 {
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if order == OrderAsc {
			return c
		}
		return -c
	})
}

// Page describes one slice of a search result.
type Page struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPage reports whether rows remain past the window without computing
// offset+limit, which can overflow for caller-supplied offsets.
func NewPage(total, limit, offset int) Page {
	return Page{Total: total, Limit: limit, Offset: offset, HasMore: offset < total-limit}
}

// Paginate cuts the window [offset, offset+limit) out of an already sorted
// result set.
func Paginate(ns []*Notification, limit, offset int) ([]*Notification, Page) {
	total := len(ns)
	page := NewPage(total, limit, offset)
	if offset >= total {
		return []*Notification{}, page
	}
	if limit >= total-offset {
		return ns[offset:], page
	}
	return ns[offset : offset+limit], page
}
