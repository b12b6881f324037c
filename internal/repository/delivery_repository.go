package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stanstork/notification-api/internal/apperror"
	"github.com/stanstork/notification-api/internal/models"
)

type DeliveryRepository interface {
	Record(ctx context.Context, params RecordDeliveryParams) (models.DeliveryStatus, error)
	ListByNotifications(ctx context.Context, notificationIDs []string) (map[string][]models.DeliveryStatus, error)
}

type deliveryRepository struct {
	db *DB
}

// RecordDeliveryParams describes one or more attempts on a channel. Attempts
// is added to the stored counter; use 0 for a record that only marks a
// delivery as queued.
type RecordDeliveryParams struct {
	NotificationID string
	Channel        models.DeliveryChannel
	Status         models.DeliveryState
	Attempts       int
	ProviderID     *string
	LastError      *string
}

func NewDeliveryRepository(db *DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

const deliveryColumns = `id, notification_id, channel, status, attempts, provider_id, last_error, created_at, updated_at`

func (r *deliveryRepository) Record(ctx context.Context, params RecordDeliveryParams) (models.DeliveryStatus, error) {
	const op = "deliveries.record"
	if strings.TrimSpace(params.NotificationID) == "" {
		return models.DeliveryStatus{}, apperror.Validation(op, "notification id is required")
	}
	switch params.Status {
	case models.DeliveryStatePending, models.DeliveryStateSent, models.DeliveryStateFailed, models.DeliveryStateDelivered:
	default:
		return models.DeliveryStatus{}, apperror.Validation(op, "unsupported delivery status "+string(params.Status))
	}

	// A pending record never replaces an outcome that is already stored;
	// durable workers may finish before the dispatcher writes pending.
	query := `
		INSERT INTO notification_deliveries (id, notification_id, channel, status, attempts, provider_id, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (notification_id, channel) DO UPDATE SET
			status = CASE WHEN excluded.status = 'pending' THEN notification_deliveries.status ELSE excluded.status END,
			attempts = notification_deliveries.attempts + excluded.attempts,
			provider_id = COALESCE(excluded.provider_id, notification_deliveries.provider_id),
			last_error = CASE WHEN excluded.status = 'pending' THEN notification_deliveries.last_error ELSE excluded.last_error END,
			updated_at = excluded.updated_at
		RETURNING ` + deliveryColumns

	row := r.db.QueryRowContext(ctx, r.db.rebind(query),
		uuid.NewString(),
		params.NotificationID,
		string(params.Channel),
		string(params.Status),
		params.Attempts,
		nullableString(params.ProviderID),
		nullableString(params.LastError),
		r.db.timestamp(),
	)
	status, err := scanDelivery(row)
	if err != nil {
		return models.DeliveryStatus{}, apperror.Dependency(op, errors.Wrap(err, "upsert delivery"))
	}
	return status, nil
}

func (r *deliveryRepository) ListByNotifications(ctx context.Context, notificationIDs []string) (map[string][]models.DeliveryStatus, error) {
	const op = "deliveries.list"
	result := make(map[string][]models.DeliveryStatus, len(notificationIDs))
	if len(notificationIDs) == 0 {
		return result, nil
	}

	args := make([]interface{}, len(notificationIDs))
	for i, id := range notificationIDs {
		args[i] = id
	}
	query := `SELECT ` + deliveryColumns + ` FROM notification_deliveries WHERE notification_id IN (` +
		placeholders(1, len(args)) + `) ORDER BY created_at ASC, channel ASC`

	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, apperror.Dependency(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		status, err := scanDelivery(rows)
		if err != nil {
			return nil, apperror.Dependency(op, err)
		}
		result[status.NotificationID] = append(result[status.NotificationID], status)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Dependency(op, err)
	}
	return result, nil
}

func scanDelivery(scanner rowScanner) (models.DeliveryStatus, error) {
	var (
		status     models.DeliveryStatus
		channel    string
		state      string
		providerID sql.NullString
		lastError  sql.NullString
	)
	if err := scanner.Scan(
		&status.ID,
		&status.NotificationID,
		&channel,
		&state,
		&status.Attempts,
		&providerID,
		&lastError,
		scanTime(&status.CreatedAt),
		scanTime(&status.UpdatedAt),
	); err != nil {
		return models.DeliveryStatus{}, err
	}
	status.Channel = models.DeliveryChannel(channel)
	status.Status = models.DeliveryState(state)
	if providerID.Valid {
		v := providerID.String
		status.ProviderID = &v
	}
	if lastError.Valid {
		v := lastError.String
		status.LastError = &v
	}
	return status, nil
}
