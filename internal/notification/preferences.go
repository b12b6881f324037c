package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/stanstork/notification-api/internal/models"
)

// ChannelSet is the set of channels a notification may go out on.
type ChannelSet struct {
	InApp bool
	Email bool
}

func (s ChannelSet) Allows(ch models.DeliveryChannel) bool {
	switch ch {
	case models.DeliveryChannelInApp:
		return s.InApp
	case models.DeliveryChannelEmail:
		return s.Email
	}
	return false
}

func (s ChannelSet) Empty() bool { return !s.InApp && !s.Email }

// Resolver decides which channels a recipient accepts for a notification type.
type Resolver struct {
	enforceQuietHours bool
	now               func() time.Time
}

type ResolverOption func(*Resolver)

// WithQuietHours makes a recipient's quiet hours window suppress every channel.
func WithQuietHours(enforce bool) ResolverOption {
	return func(r *Resolver) { r.enforceQuietHours = enforce }
}

func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Channels returns the enabled channels. A nil prefs means no stored record
// and enables everything.
func (r *Resolver) Channels(prefs *models.Preferences, t models.NotificationType) ChannelSet {
	if prefs == nil {
		return ChannelSet{InApp: true, Email: true}
	}
	if !prefs.Types.Allows(t) {
		return ChannelSet{}
	}
	if r.enforceQuietHours && prefs.QuietHours != nil {
		// A window that cannot be parsed never silences anything.
		if quiet, err := InQuietHours(*prefs.QuietHours, r.now()); err == nil && quiet {
			return ChannelSet{}
		}
	}
	return ChannelSet{InApp: prefs.Channels.InApp, Email: prefs.Channels.Email}
}

// InQuietHours reports whether at falls inside the [start, end) window,
// evaluated in the window's timezone. Windows may wrap midnight; an empty
// window (start == end) never matches.
func InQuietHours(q models.QuietHours, at time.Time) (bool, error) {
	start, err := clockMinutes(q.Start)
	if err != nil {
		return false, err
	}
	end, err := clockMinutes(q.End)
	if err != nil {
		return false, err
	}
	loc := time.UTC
	if tz := strings.TrimSpace(q.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return false, fmt.Errorf("invalid quiet hours timezone %q: %w", tz, err)
		}
	}

	local := at.In(loc)
	now := local.Hour()*60 + local.Minute()
	switch {
	case start == end:
		return false, nil
	case start < end:
		return now >= start && now < end, nil
	default:
		return now >= start || now < end, nil
	}
}

func clockMinutes(hhmm string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, fmt.Errorf("invalid quiet hours time %q: %w", hhmm, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
