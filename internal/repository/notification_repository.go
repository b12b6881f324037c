package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stanstork/notification-api/internal/apperror"
	"github.com/stanstork/notification-api/internal/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	// CreateOnce persists the notification unless dedupeKey was already
	// claimed, in which case it returns the notification created first and
	// created=false.
	CreateOnce(ctx context.Context, dedupeKey string, params CreateNotificationParams) (n models.Notification, created bool, err error)
	Get(ctx context.Context, id string) (models.Notification, error)
	List(ctx context.Context, params ListNotificationsParams) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string) (models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

type notificationRepository struct {
	db         *DB
	deliveries DeliveryRepository
}

type CreateNotificationParams struct {
	RecipientID    string
	Type           models.NotificationType
	Title          string
	Body           string
	Data           models.NotificationData
	AggregatedFrom []string
	Priority       int
}

type ListNotificationsParams struct {
	RecipientID string
	IsRead      *bool
	Limit       int
}

func NewNotificationRepository(db *DB) NotificationRepository {
	return &notificationRepository{db: db, deliveries: NewDeliveryRepository(db)}
}

const notificationColumns = `id, recipient_id, type, title, body, data_json, aggregated_from, priority, is_read, is_archived, created_at, updated_at`

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	notif, err := r.insert(ctx, r.db.DB, params)
	if err != nil {
		return models.Notification{}, apperror.Dependency("notifications.create", err)
	}
	return notif, nil
}

func (r *notificationRepository) CreateOnce(ctx context.Context, dedupeKey string, params CreateNotificationParams) (models.Notification, bool, error) {
	const op = "notifications.create_once"
	if strings.TrimSpace(dedupeKey) == "" {
		n, err := r.Create(ctx, params)
		return n, err == nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Notification{}, false, apperror.Dependency(op, errors.Wrap(err, "begin transaction"))
	}
	defer tx.Rollback()

	notif, err := r.insert(ctx, tx, params)
	if err != nil {
		return models.Notification{}, false, apperror.Dependency(op, err)
	}

	const claim = `
		INSERT INTO processed_events (dedupe_key, notification_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (dedupe_key) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, r.db.rebind(claim), dedupeKey, notif.ID, notif.CreatedAt)
	if err != nil {
		return models.Notification{}, false, apperror.Dependency(op, errors.Wrap(err, "claim dedupe key"))
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return models.Notification{}, false, apperror.Dependency(op, errors.Wrap(err, "claim dedupe key"))
	}

	if claimed == 0 {
		// Release the connection before reading the original row.
		if err := tx.Rollback(); err != nil {
			return models.Notification{}, false, apperror.Dependency(op, errors.Wrap(err, "rollback duplicate"))
		}
		var existingID string
		const lookup = `SELECT notification_id FROM processed_events WHERE dedupe_key = $1`
		if err := r.db.QueryRowContext(ctx, r.db.rebind(lookup), dedupeKey).Scan(&existingID); err != nil {
			return models.Notification{}, false, apperror.Dependency(op, errors.Wrap(err, "lookup dedupe key"))
		}
		existing, err := r.Get(ctx, existingID)
		return existing, false, err
	}

	if err := tx.Commit(); err != nil {
		return models.Notification{}, false, apperror.Dependency(op, errors.Wrap(err, "commit"))
	}
	return notif, true, nil
}

func (r *notificationRepository) insert(ctx context.Context, q queryer, params CreateNotificationParams) (models.Notification, error) {
	const query = `
		INSERT INTO notifications (id, recipient_id, type, title, body, data_json, aggregated_from, priority, is_read, is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + notificationColumns

	data, err := json.Marshal(params.Data)
	if err != nil {
		return models.Notification{}, errors.Wrap(err, "marshal data_json")
	}
	aggregated := params.AggregatedFrom
	if aggregated == nil {
		aggregated = []string{}
	}
	aggregatedRaw, err := json.Marshal(aggregated)
	if err != nil {
		return models.Notification{}, errors.Wrap(err, "marshal aggregated_from")
	}
	priority := params.Priority
	if priority == 0 {
		priority = models.PriorityDefault
	}

	now := r.db.timestamp()
	row := q.QueryRowContext(ctx, r.db.rebind(query),
		uuid.NewString(),
		strings.TrimSpace(params.RecipientID),
		string(params.Type),
		params.Title,
		params.Body,
		string(data),
		string(aggregatedRaw),
		priority,
		false,
		false,
		now,
		now,
	)
	notif, err := scanNotification(row)
	if err != nil {
		return models.Notification{}, errors.Wrap(err, "insert notification")
	}
	return notif, nil
}

func (r *notificationRepository) Get(ctx context.Context, id string) (models.Notification, error) {
	const op = "notifications.get"
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return models.Notification{}, apperror.NotFound(op, err)
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	notif, err := scanNotification(r.db.QueryRowContext(ctx, r.db.rebind(query), strings.TrimSpace(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Notification{}, apperror.NotFound(op, err)
		}
		return models.Notification{}, apperror.Dependency(op, err)
	}
	return notif, nil
}

func (r *notificationRepository) List(ctx context.Context, params ListNotificationsParams) ([]models.Notification, error) {
	const op = "notifications.list"
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = $1`
	args := []interface{}{strings.TrimSpace(params.RecipientID)}
	if params.IsRead != nil {
		args = append(args, *params.IsRead)
		query += ` AND is_read = $2`
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + placeholders(len(args), 1)

	notifications, err := r.queryNotifications(ctx, query, args...)
	if err != nil {
		return nil, apperror.Dependency(op, err)
	}
	if len(notifications) == 0 {
		return notifications, nil
	}

	ids := make([]string, len(notifications))
	for i, n := range notifications {
		ids[i] = n.ID
	}
	deliveries, err := r.deliveries.ListByNotifications(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range notifications {
		notifications[i].Deliveries = deliveries[notifications[i].ID]
	}
	return notifications, nil
}

// queryNotifications fully drains and closes rows before returning, so the
// caller may issue further queries on a single-connection pool.
func (r *notificationRepository) queryNotifications(ctx context.Context, query string, args ...interface{}) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id string) (models.Notification, error) {
	const op = "notifications.mark_read"
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return models.Notification{}, apperror.NotFound(op, err)
	}

	query := `
		UPDATE notifications
		SET is_read = $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + notificationColumns
	notif, err := scanNotification(r.db.QueryRowContext(ctx, r.db.rebind(query), true, r.db.timestamp(), strings.TrimSpace(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Notification{}, apperror.NotFound(op, err)
		}
		return models.Notification{}, apperror.Dependency(op, err)
	}
	return notif, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	const op = "notifications.mark_all_read"
	const query = `
		UPDATE notifications
		SET is_read = $1, updated_at = $2
		WHERE recipient_id = $3 AND is_read = $4
	`
	res, err := r.db.ExecContext(ctx, r.db.rebind(query), true, r.db.timestamp(), strings.TrimSpace(recipientID), false)
	if err != nil {
		return 0, apperror.Dependency(op, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, apperror.Dependency(op, err)
	}
	return count, nil
}

func scanNotification(scanner rowScanner) (models.Notification, error) {
	var (
		notif         models.Notification
		notifType     string
		dataRaw       []byte
		aggregatedRaw []byte
	)

	if err := scanner.Scan(
		&notif.ID,
		&notif.RecipientID,
		&notifType,
		&notif.Title,
		&notif.Body,
		&dataRaw,
		&aggregatedRaw,
		&notif.Priority,
		&notif.IsRead,
		&notif.IsArchived,
		scanTime(&notif.CreatedAt),
		scanTime(&notif.UpdatedAt),
	); err != nil {
		return models.Notification{}, err
	}

	notif.Type = models.NotificationType(notifType)
	if len(dataRaw) > 0 {
		notif.Data = json.RawMessage(dataRaw)
	} else {
		notif.Data = json.RawMessage(`{}`)
	}
	notif.AggregatedFrom = []string{}
	if len(aggregatedRaw) > 0 {
		if err := json.Unmarshal(aggregatedRaw, &notif.AggregatedFrom); err != nil {
			return models.Notification{}, errors.Wrap(err, "decode aggregated_from")
		}
	}
	return notif, nil
}
