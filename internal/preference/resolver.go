// Package preference decides whether and when a recipient should receive a
// notification on a given channel.
package preference

import (
	"slices"
	"time"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// Reason explains a Decision. It is also the label used for suppression metrics.
type Reason string

const (
	ReasonDeliver          Reason = "deliver"
	ReasonUserDisabled     Reason = "user_disabled"
	ReasonCategoryDisabled Reason = "category_disabled"
	ReasonChannelDisabled  Reason = "channel_disabled"
	ReasonFrequencyNever   Reason = "frequency_never"
	ReasonQuietHours       Reason = "quiet_hours"
)

// Decision is the outcome for one (recipient, channel) pair.
//
// A quiet-hours hit is not a drop: Deliver is false and DeferUntil holds the
// instant the window closes. Every other negative decision is final.
type Decision struct {
	Deliver    bool
	Reason     Reason
	DeferUntil *time.Time
	// Priority is the notification priority after category overrides.
	Priority domain.Priority
}

// Deferred reports whether the delivery should be retried once quiet hours end.
func (d Decision) Deferred() bool {
	return d.DeferUntil != nil
}

// Resolver applies a user's preferences to a notification.
type Resolver struct {
	// bypass is the lowest priority that ignores quiet hours. Empty means
	// quiet hours apply uniformly.
	bypass domain.Priority
}

func NewResolver(quietHoursBypass domain.Priority) *Resolver {
	if quietHoursBypass != "" && !quietHoursBypass.IsValid() {
		quietHoursBypass = ""
	}
	return &Resolver{bypass: quietHoursBypass}
}

// Decide evaluates, in order: master flag, category, channel, frequency,
// then quiet hours.
func (r *Resolver) Decide(n *domain.Notification, pref *domain.Preference, ch domain.Channel, now time.Time) Decision {
	prio := EffectivePriority(n, pref)
	d := Decision{Priority: prio}

	switch {
	case !pref.Enabled:
		d.Reason = ReasonUserDisabled
		return d
	case !pref.CategoryEnabled(n.Category):
		d.Reason = ReasonCategoryDisabled
		return d
	case !pref.ChannelEnabled(ch):
		d.Reason = ReasonChannelDisabled
		return d
	case pref.Frequency == domain.FrequencyNever:
		d.Reason = ReasonFrequencyNever
		return d
	}

	if r.bypass == "" || !prio.AtLeast(r.bypass) {
		if inside, end := InQuietHours(pref.QuietHours, now); inside {
			d.Reason = ReasonQuietHours
			d.DeferUntil = &end
			return d
		}
	}

	d.Deliver = true
	d.Reason = ReasonDeliver
	return d
}

// ShouldDeliver is Decide reduced to a yes/no for delivery right now.
func (r *Resolver) ShouldDeliver(n *domain.Notification, pref *domain.Preference, ch domain.Channel, now time.Time) bool {
	return r.Decide(n, pref, ch, now).Deliver
}

// EffectivePriority applies the user's per-category override, if any.
func EffectivePriority(n *domain.Notification, pref *domain.Preference) domain.Priority {
	if cp, ok := pref.Categories[n.Category]; ok && cp.Priority != nil && cp.Priority.IsValid() {
		return *cp.Priority
	}
	return n.Priority
}

// InQuietHours reports whether now falls inside the window and, if so, when
// the window ends. Only the time of day in the window's timezone matters.
// A window with Start > End runs through midnight; Start == End is empty.
// When Days is set, the window must have opened on one of those weekdays.
func InQuietHours(qh domain.QuietHours, now time.Time) (bool, time.Time) {
	if !qh.Enabled {
		return false, time.Time{}
	}
	start, err := domain.ParseClock(qh.Start)
	if err != nil {
		return false, time.Time{}
	}
	end, err := domain.ParseClock(qh.End)
	if err != nil || start == end {
		return false, time.Time{}
	}

	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil || qh.Timezone == "" {
		loc = time.UTC
	}
	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()

	// opened is the calendar day the current window started on.
	opened := local
	var inside bool
	if start < end {
		inside = m >= start && m < end
	} else {
		inside = m >= start || m < end
		if inside && m < end {
			opened = local.AddDate(0, 0, -1)
		}
	}
	if !inside {
		return false, time.Time{}
	}
	if len(qh.Days) > 0 && !slices.Contains(qh.Days, opened.Weekday()) {
		return false, time.Time{}
	}

	endDay := opened
	if start > end {
		endDay = opened.AddDate(0, 0, 1)
	}
	until := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), end/60, end%60, 0, 0, loc)
	return true, until
}
