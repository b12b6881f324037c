package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/apperror"
	"github.com/stanstork/notification-api/internal/migration"
	"github.com/stanstork/notification-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock advances one second on every reading so that rows created in
// sequence get strictly increasing timestamps.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	clock := newSteppingClock()

	db, err := Open(ctx, DriverSQLite, ":memory:", WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migration.Run(ctx, db.DB, DriverSQLite, zerolog.Nop()))
	return db
}

func createNotification(t *testing.T, repo NotificationRepository, recipient, verb string) models.Notification {
	t.Helper()
	n, err := repo.Create(context.Background(), CreateNotificationParams{
		RecipientID: recipient,
		Type:        models.NotificationTypeSocial,
		Title:       "New " + verb + " notification",
		Body:        "User u1 performed " + verb + " on post1",
		Data: models.NotificationData{
			ActorID:  "u1",
			Verb:     verb,
			ObjectID: "post1",
			Context:  models.EventContext{RecipientID: recipient},
		},
		Priority: models.PriorityDefault,
	})
	require.NoError(t, err)
	return n
}

func TestNotificationRepository_Create(t *testing.T) {
	db := openTestDB(t)
	repo := NewNotificationRepository(db)

	n := createNotification(t, repo, "u2", "social.comment")

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "u2", n.RecipientID)
	assert.Equal(t, models.NotificationTypeSocial, n.Type)
	assert.Equal(t, []string{}, n.AggregatedFrom)
	assert.False(t, n.IsRead)
	assert.False(t, n.IsArchived)
	assert.Equal(t, models.PriorityDefault, n.Priority)
	assert.Equal(t, time.UTC, n.CreatedAt.Location())
	assert.JSONEq(t, `{"actorId":"u1","verb":"social.comment","objectId":"post1","context":{"recipientId":"u2"}}`, string(n.Data))

	got, err := repo.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.True(t, n.CreatedAt.Equal(got.CreatedAt))
}

func TestNotificationRepository_ListOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewNotificationRepository(db)

	first := createNotification(t, repo, "u2", "social.comment")
	second := createNotification(t, repo, "u2", "social.like")
	third := createNotification(t, repo, "u2", "collab.invite")
	createNotification(t, repo, "someone-else", "social.comment")

	list, err := repo.List(ctx, ListNotificationsParams{RecipientID: "u2"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	_, err = repo.MarkRead(ctx, second.ID)
	require.NoError(t, err)

	unread := false
	list, err = repo.List(ctx, ListNotificationsParams{RecipientID: "u2", IsRead: &unread})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, third.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	read := true
	list, err = repo.List(ctx, ListNotificationsParams{RecipientID: "u2", IsRead: &read})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	list, err = repo.List(ctx, ListNotificationsParams{RecipientID: "u2", Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, third.ID, list[0].ID)
}

func TestNotificationRepository_ListIsRepeatable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewNotificationRepository(db)

	for _, verb := range []string{"social.comment", "social.like", "system.maintenance"} {
		createNotification(t, repo, "u2", verb)
	}

	params := ListNotificationsParams{RecipientID: "u2", Limit: 10}
	a, err := repo.List(ctx, params)
	require.NoError(t, err)
	b, err := repo.List(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNotificationRepository_ListEmpty(t *testing.T) {
	db := openTestDB(t)
	repo := NewNotificationRepository(db)

	list, err := repo.List(context.Background(), ListNotificationsParams{RecipientID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestNotificationRepository_MarkReadNotFound(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewNotificationRepository(db)

	for _, id := range []string{"not-a-uuid", "7d2b8e47-2f35-4d0b-9d0e-3b1c6e4d9a10"} {
		_, err := repo.MarkRead(ctx, id)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindNotFound), "id %s", id)
	}
}

func TestNotificationRepository_MarkAllReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewNotificationRepository(db)

	createNotification(t, repo, "u2", "social.comment")
	createNotification(t, repo, "u2", "social.like")
	other := createNotification(t, repo, "u3", "social.like")

	count, err := repo.MarkAllRead(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	count, err = repo.MarkAllRead(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	list, err := repo.List(ctx, ListNotificationsParams{RecipientID: "u2"})
	require.NoError(t, err)
	for _, n := range list {
		assert.True(t, n.IsRead)
	}

	untouched, err := repo.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, untouched.IsRead)
}

func TestNotificationRepository_CreateOnce(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewNotificationRepository(db)

	params := CreateNotificationParams{
		RecipientID: "u2",
		Type:        models.NotificationTypeCollaboration,
		Title:       "New collab invite notification",
		Body:        "User u1 performed collab.invite on doc1",
		Data:        models.NotificationData{ActorID: "u1", Verb: "collab.invite", ObjectID: "doc1"},
	}

	first, created, err := repo.CreateOnce(ctx, "k1", params)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.CreateOnce(ctx, "k1", params)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other, created, err := repo.CreateOnce(ctx, "k2", params)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`).Scan(&rows))
	assert.Equal(t, 2, rows)

	// An empty key never dedupes.
	_, created, err = repo.CreateOnce(ctx, "", params)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = repo.CreateOnce(ctx, "", params)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDeliveryRepository_RecordAccumulatesAttempts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	notifications := NewNotificationRepository(db)
	deliveries := NewDeliveryRepository(db)

	n := createNotification(t, notifications, "u2", "social.comment")

	boom := "connection refused"
	failed, err := deliveries.Record(ctx, RecordDeliveryParams{
		NotificationID: n.ID,
		Channel:        models.DeliveryChannelEmail,
		Status:         models.DeliveryStateFailed,
		Attempts:       1,
		LastError:      &boom,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, boom, *failed.LastError)
	assert.Nil(t, failed.ProviderID)

	messageID := "<abc@example.com>"
	sent, err := deliveries.Record(ctx, RecordDeliveryParams{
		NotificationID: n.ID,
		Channel:        models.DeliveryChannelEmail,
		Status:         models.DeliveryStateSent,
		Attempts:       1,
		ProviderID:     &messageID,
	})
	require.NoError(t, err)
	assert.Equal(t, failed.ID, sent.ID)
	assert.Equal(t, 2, sent.Attempts)
	assert.Equal(t, models.DeliveryStateSent, sent.Status)
	require.NotNil(t, sent.ProviderID)
	assert.Equal(t, messageID, *sent.ProviderID)
	assert.Nil(t, sent.LastError)

	_, err = deliveries.Record(ctx, RecordDeliveryParams{
		NotificationID: n.ID,
		Channel:        models.DeliveryChannelInApp,
		Status:         models.DeliveryStateDelivered,
		Attempts:       1,
	})
	require.NoError(t, err)

	list, err := notifications.List(ctx, ListNotificationsParams{RecipientID: "u2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Deliveries, 2)
	assert.Equal(t, models.DeliveryChannelEmail, list[0].Deliveries[0].Channel)
	assert.Equal(t, models.DeliveryChannelInApp, list[0].Deliveries[1].Channel)
}

func TestDeliveryRepository_PendingDoesNotDowngrade(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	notifications := NewNotificationRepository(db)
	deliveries := NewDeliveryRepository(db)

	n := createNotification(t, notifications, "u2", "social.comment")

	messageID := "<late@example.com>"
	_, err := deliveries.Record(ctx, RecordDeliveryParams{
		NotificationID: n.ID,
		Channel:        models.DeliveryChannelEmail,
		Status:         models.DeliveryStateSent,
		Attempts:       2,
		ProviderID:     &messageID,
	})
	require.NoError(t, err)

	after, err := deliveries.Record(ctx, RecordDeliveryParams{
		NotificationID: n.ID,
		Channel:        models.DeliveryChannelEmail,
		Status:         models.DeliveryStatePending,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStateSent, after.Status)
	assert.Equal(t, 2, after.Attempts)
	require.NotNil(t, after.ProviderID)
	assert.Equal(t, messageID, *after.ProviderID)
}

func TestDeliveryRepository_RejectsSkipped(t *testing.T) {
	db := openTestDB(t)
	deliveries := NewDeliveryRepository(db)

	_, err := deliveries.Record(context.Background(), RecordDeliveryParams{
		NotificationID: "7d2b8e47-2f35-4d0b-9d0e-3b1c6e4d9a10",
		Channel:        models.DeliveryChannelEmail,
		Status:         models.DeliveryStateSkipped,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestPreferenceRepository_DefaultsAreNotPersisted(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewPreferenceRepository(db)

	prefs, err := repo.Get(ctx, "u9")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPreferences("u9"), prefs)
	assert.Equal(t, models.DigestCadenceDaily, prefs.DigestCadence)
	assert.True(t, prefs.Channels.InApp)
	assert.True(t, prefs.Channels.Email)
	assert.True(t, prefs.Types.Social && prefs.Types.Collaboration && prefs.Types.System)

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM preferences WHERE user_id = ?`, "u9").Scan(&rows))
	assert.Zero(t, rows)

	_, found, err := repo.Find(ctx, "u9")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPreferenceRepository_UpsertReplacesAndClearsQuietHours(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewPreferenceRepository(db)

	withQuiet := models.Preferences{
		UserID:        "u2",
		Channels:      models.ChannelPreferences{InApp: true, Email: false},
		Types:         models.TypePreferences{Social: false, Collaboration: true, System: true},
		DigestCadence: models.DigestCadenceWeekly,
		QuietHours:    &models.QuietHours{Start: "22:00", End: "07:00", Timezone: "Europe/Berlin"},
	}
	stored, err := repo.Upsert(ctx, withQuiet)
	require.NoError(t, err)
	assert.Equal(t, withQuiet, stored)

	got, err := repo.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, withQuiet, got)

	cleared := withQuiet
	cleared.QuietHours = nil
	cleared.DigestCadence = models.DigestCadenceNone
	stored, err = repo.Upsert(ctx, cleared)
	require.NoError(t, err)
	assert.Nil(t, stored.QuietHours)
	assert.Equal(t, models.DigestCadenceNone, stored.DigestCadence)

	got, err = repo.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, cleared, got)

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM preferences`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestPreferenceRepository_UpsertRequiresUser(t *testing.T) {
	db := openTestDB(t)
	repo := NewPreferenceRepository(db)

	_, err := repo.Upsert(context.Background(), models.Preferences{UserID: "  "})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestRebind(t *testing.T) {
	sqlite := &DB{driver: DriverSQLite}
	pg := &DB{driver: DriverPostgres}

	query := `SELECT 1 WHERE a = $1 AND b IN ($2, $10) AND c = '$'`
	assert.Equal(t, `SELECT 1 WHERE a = ?1 AND b IN (?2, ?10) AND c = '$'`, sqlite.rebind(query))
	assert.Equal(t, query, pg.rebind(query))
}

func TestNotificationRepository_Postgres(t *testing.T) {
	url := os.Getenv("NOTIFY_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("NOTIFY_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, DriverPostgres, url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migration.Run(ctx, db.DB, DriverPostgres, zerolog.Nop()))

	repo := NewNotificationRepository(db)
	recipient := "pg-" + time.Now().Format("150405.000000")
	n := createNotification(t, repo, recipient, "social.mention")

	list, err := repo.List(ctx, ListNotificationsParams{RecipientID: recipient})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, n.ID, list[0].ID)

	prefs := NewPreferenceRepository(db)
	stored, err := prefs.Upsert(ctx, models.DefaultPreferences(recipient))
	require.NoError(t, err)
	assert.Equal(t, recipient, stored.UserID)
}
