package notification

import (
	"testing"
	"time"

	"github.com/stanstork/notification-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Channels(t *testing.T) {
	r := NewResolver()

	all := r.Channels(nil, models.NotificationTypeSocial)
	assert.True(t, all.InApp)
	assert.True(t, all.Email)

	prefs := models.DefaultPreferences("u1")
	prefs.Channels.Email = false
	set := r.Channels(&prefs, models.NotificationTypeSocial)
	assert.True(t, set.Allows(models.DeliveryChannelInApp))
	assert.False(t, set.Allows(models.DeliveryChannelEmail))

	prefs.Types.Collaboration = false
	assert.True(t, r.Channels(&prefs, models.NotificationTypeCollaboration).Empty())
	assert.False(t, r.Channels(&prefs, models.NotificationTypeSystem).Empty())
}

func TestResolver_QuietHours(t *testing.T) {
	at := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	prefs := models.DefaultPreferences("u1")
	prefs.QuietHours = &models.QuietHours{Start: "22:00", End: "07:00", Timezone: "UTC"}

	ignoring := NewResolver(WithResolverClock(func() time.Time { return at }))
	assert.False(t, ignoring.Channels(&prefs, models.NotificationTypeSocial).Empty())

	enforcing := NewResolver(WithQuietHours(true), WithResolverClock(func() time.Time { return at }))
	assert.True(t, enforcing.Channels(&prefs, models.NotificationTypeSocial).Empty())

	prefs.QuietHours = &models.QuietHours{Start: "bogus", End: "07:00"}
	assert.False(t, enforcing.Channels(&prefs, models.NotificationTypeSocial).Empty())
}

func TestInQuietHours(t *testing.T) {
	tests := []struct {
		name  string
		q     models.QuietHours
		at    time.Time
		quiet bool
	}{
		{"inside same-day window", models.QuietHours{Start: "09:00", End: "17:00"}, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), true},
		{"end is exclusive", models.QuietHours{Start: "09:00", End: "17:00"}, time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC), false},
		{"wraps midnight late", models.QuietHours{Start: "22:00", End: "07:00"}, time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC), true},
		{"wraps midnight early", models.QuietHours{Start: "22:00", End: "07:00"}, time.Date(2024, 1, 1, 6, 59, 0, 0, time.UTC), true},
		{"outside wrapped window", models.QuietHours{Start: "22:00", End: "07:00"}, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), false},
		{"empty window", models.QuietHours{Start: "08:00", End: "08:00"}, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), false},
		// 20:00 UTC is 05:00 in Tokyo.
		{"timezone applied", models.QuietHours{Start: "22:00", End: "07:00", Timezone: "Asia/Tokyo"}, time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quiet, err := InQuietHours(tt.q, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.quiet, quiet)
		})
	}

	_, err := InQuietHours(models.QuietHours{Start: "22:00", End: "07:00", Timezone: "Mars/Olympus"}, time.Now())
	assert.Error(t, err)
	_, err = InQuietHours(models.QuietHours{Start: "25:00", End: "07:00"}, time.Now())
	assert.Error(t, err)
}
