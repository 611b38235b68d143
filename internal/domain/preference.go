package domain

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

// Frequency is the delivery cadence a user opted into.
type Frequency string

const (
	FrequencyImmediate    Frequency = "immediate"
	FrequencyDailyDigest  Frequency = "daily_digest"
	FrequencyWeeklyDigest Frequency = "weekly_digest"
	FrequencyNever        Frequency = "never"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyImmediate, FrequencyDailyDigest, FrequencyWeeklyDigest, FrequencyNever:
		return true
	}
	return false
}

// CategoryPreference enables a category and optionally overrides the
// priority notifications in it are delivered with.
type CategoryPreference struct {
	Enabled  bool      `json:"enabled"`
	Priority *Priority `json:"priority,omitempty"`
}

// QuietHours is a daily time-of-day window. Start and End are "HH:MM" in
// Timezone. Start > End wraps midnight. Empty Days means every day.
type QuietHours struct {
	Enabled  bool           `json:"enabled"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Timezone string         `json:"timezone"`
	Days     []time.Weekday `json:"days,omitempty"`
}

// Preference holds one user's delivery settings.
type Preference struct {
	UserID     string                          `json:"user_id"`
	Enabled    bool                            `json:"enabled"`
	Channels   map[Channel]bool                `json:"channels"`
	Categories map[Category]CategoryPreference `json:"categories"`
	QuietHours QuietHours                      `json:"quiet_hours"`
	Frequency  Frequency                       `json:"frequency"`
	Language   string                          `json:"language"`
	CreatedAt  time.Time                       `json:"created_at"`
	UpdatedAt  time.Time                       `json:"updated_at"`
}

// DefaultPreferenceFor is the single source of default settings for a user
// seen for the first time.
func DefaultPreferenceFor(userID string, now time.Time) *Preference {
	cats := make(map[Category]CategoryPreference, len(AllCategories))
	for _, c := range AllCategories {
		cats[c] = CategoryPreference{Enabled: true}
	}
	return &Preference{
		UserID:  userID,
		Enabled: true,
		Channels: map[Channel]bool{
			ChannelEmail: true,
			ChannelSMS:   false,
			ChannelPush:  true,
			ChannelInApp: true,
		},
		Categories: cats,
		QuietHours: QuietHours{
			Enabled:  false,
			Start:    "22:00",
			End:      "08:00",
			Timezone: "UTC",
		},
		Frequency: FrequencyImmediate,
		Language:  "en",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Preference) Clone() *Preference {
	c := *p
	c.Channels = maps.Clone(p.Channels)
	c.Categories = maps.Clone(p.Categories)
	c.QuietHours.Days = slices.Clone(p.QuietHours.Days)
	return &c
}

// ChannelEnabled treats a channel missing from the map as disabled.
func (p *Preference) ChannelEnabled(ch Channel) bool {
	return p.Channels[ch]
}

// CategoryEnabled treats a category missing from the map as enabled.
func (p *Preference) CategoryEnabled(c Category) bool {
	cp, ok := p.Categories[c]
	return !ok || cp.Enabled
}

// PreferenceUpdate carries the fields a caller wants to change. Nil fields
// are left untouched; map entries are merged key by key.
type PreferenceUpdate struct {
	Enabled    *bool                           `json:"enabled,omitempty"`
	Channels   map[Channel]bool                `json:"channels,omitempty"`
	Categories map[Category]CategoryPreference `json:"categories,omitempty"`
	QuietHours *QuietHoursUpdate               `json:"quiet_hours,omitempty"`
	Frequency  *Frequency                      `json:"frequency,omitempty"`
	Language   *string                         `json:"language,omitempty"`
}

type QuietHoursUpdate struct {
	Enabled  *bool          `json:"enabled,omitempty"`
	Start    *string        `json:"start,omitempty"`
	End      *string        `json:"end,omitempty"`
	Timezone *string        `json:"timezone,omitempty"`
	Days     []time.Weekday `json:"days,omitempty"`
}

func (u PreferenceUpdate) Validate() error {
	for ch := range u.Channels {
		if !ch.IsValid() {
			return invalid("channels", fmt.Sprintf("unknown channel %q", ch))
		}
	}
	for c, cp := range u.Categories {
		if !c.IsValid() {
			return invalid("categories", fmt.Sprintf("unknown category %q", c))
		}
		if cp.Priority != nil && !cp.Priority.IsValid() {
			return invalid("categories", fmt.Sprintf("unknown priority %q", *cp.Priority))
		}
	}
	if u.Frequency != nil && !u.Frequency.IsValid() {
		return invalid("frequency", fmt.Sprintf("unknown frequency %q", *u.Frequency))
	}
	if qh := u.QuietHours; qh != nil {
		if qh.Start != nil {
			if _, err := ParseClock(*qh.Start); err != nil {
				return invalid("quiet_hours.start", err.Error())
			}
		}
		if qh.End != nil {
			if _, err := ParseClock(*qh.End); err != nil {
				return invalid("quiet_hours.end", err.Error())
			}
		}
		if qh.Timezone != nil {
			if _, err := time.LoadLocation(*qh.Timezone); err != nil {
				return invalid("quiet_hours.timezone", fmt.Sprintf("unknown timezone %q", *qh.Timezone))
			}
		}
		for _, d := range qh.Days {
			if d < time.Sunday || d > time.Saturday {
				return invalid("quiet_hours.days", fmt.Sprintf("weekday %d out of range", d))
			}
		}
	}
	return nil
}

// Apply merges u into p and stamps UpdatedAt. Call Validate first.
func (p *Preference) Apply(u PreferenceUpdate, now time.Time) {
	if u.Enabled != nil {
		p.Enabled = *u.Enabled
	}
	if p.Channels == nil {
		p.Channels = make(map[Channel]bool, len(u.Channels))
	}
	maps.Copy(p.Channels, u.Channels)
	if p.Categories == nil {
		p.Categories = make(map[Category]CategoryPreference, len(u.Categories))
	}
	maps.Copy(p.Categories, u.Categories)
	if qh := u.QuietHours; qh != nil {
		if qh.Enabled != nil {
			p.QuietHours.Enabled = *qh.Enabled
		}
		if qh.Start != nil {
			p.QuietHours.Start = *qh.Start
		}
		if qh.End != nil {
			p.QuietHours.End = *qh.End
		}
		if qh.Timezone != nil {
			p.QuietHours.Timezone = *qh.Timezone
		}
		if qh.Days != nil {
			p.QuietHours.Days = slices.Clone(qh.Days)
		}
	}
	if u.Frequency != nil {
		p.Frequency = *u.Frequency
	}
	if u.Language != nil {
		p.Language = *u.Language
	}
	p.UpdatedAt = now
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("time %q is not HH:MM", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
