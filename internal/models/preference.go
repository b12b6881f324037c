package models

type DigestCadence string

const (
	DigestCadenceNone   DigestCadence = "none"
	DigestCadenceDaily  DigestCadence = "daily"
	DigestCadenceWeekly DigestCadence = "weekly"
)

func (d DigestCadence) Valid() bool {
	switch d {
	case DigestCadenceNone, DigestCadenceDaily, DigestCadenceWeekly:
		return true
	}
	return false
}

type ChannelPreferences struct {
	InApp bool `json:"inApp"`
	Email bool `json:"email"`
}

type TypePreferences struct {
	Social        bool `json:"social"`
	Collaboration bool `json:"collaboration"`
	System        bool `json:"system"`
}

// Allows reports whether notifications of type t are enabled.
func (p TypePreferences) Allows(t NotificationType) bool {
	switch t {
	case NotificationTypeSocial:
		return p.Social
	case NotificationTypeCollaboration:
		return p.Collaboration
	default:
		return p.System
	}
}

type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

type Preferences struct {
	UserID        string             `json:"userId" db:"user_id"`
	Channels      ChannelPreferences `json:"channels" db:"channels_json"`
	Types         TypePreferences    `json:"types" db:"types_json"`
	DigestCadence DigestCadence      `json:"digestCadence" db:"digest_cadence"`
	QuietHours    *QuietHours        `json:"quietHours,omitempty" db:"quiet_hours"`
}

// DefaultPreferences is what a user without a stored record gets: every
// channel and type enabled, daily digest.
func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:        userID,
		Channels:      ChannelPreferences{InApp: true, Email: true},
		Types:         TypePreferences{Social: true, Collaboration: true, System: true},
		DigestCadence: DigestCadenceDaily,
	}
}

// PreferencesUpdate is the write form of Preferences. Channels and Types are
// required; nil means the caller left them out.
type PreferencesUpdate struct {
	UserID        string              `json:"userId"`
	Channels      *ChannelPreferences `json:"channels"`
	Types         *TypePreferences    `json:"types"`
	DigestCadence DigestCadence       `json:"digestCadence"`
	QuietHours    *QuietHours         `json:"quietHours"`
}

// AsUpdate returns p as a complete update.
func (p Preferences) AsUpdate() PreferencesUpdate {
	channels, types := p.Channels, p.Types
	return PreferencesUpdate{
		UserID:        p.UserID,
		Channels:      &channels,
		Types:         &types,
		DigestCadence: p.DigestCadence,
		QuietHours:    p.QuietHours,
	}
}
