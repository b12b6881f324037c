package activities

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stanstork/notification-api/internal/models"
	"github.com/stanstork/notification-api/internal/notification"
	"github.com/stanstork/notification-api/internal/repository"
	"github.com/stanstork/notification-api/internal/temporal"
	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"
)

type Activities struct {
	Mailer     notification.Mailer
	Deliveries repository.DeliveryRepository
}

// SendEmailActivity makes one send attempt. A failed attempt is returned as
// an error so the workflow retry policy applies; an unconfigured transport
// is not retried.
func (a *Activities) SendEmailActivity(ctx context.Context, params temporal.EmailDeliveryParams) (*temporal.SendEmailResult, error) {
	logger := activity.GetLogger(ctx)
	info := activity.GetInfo(ctx)
	logger.Info("Sending notification email", "notificationID", params.Notification.ID, "attempt", info.Attempt)

	outcome := a.Mailer.Send(ctx, params.Notification, params.RecipientEmail)
	switch outcome.Status {
	case models.DeliveryStateSent, models.DeliveryStateDelivered:
		return &temporal.SendEmailResult{MessageID: outcome.MessageID, Attempt: info.Attempt}, nil
	case models.DeliveryStateSkipped:
		return &temporal.SendEmailResult{Skipped: true, Attempt: info.Attempt}, nil
	}

	if outcome.Error == notification.ErrEmailNotConfigured.Error() {
		return nil, sdktemporal.NewNonRetryableApplicationError(outcome.Error, "EmailNotConfigured", nil)
	}
	logger.Warn("Email attempt failed", "notificationID", params.Notification.ID, "attempt", info.Attempt, "error", outcome.Error)
	return nil, sdktemporal.NewApplicationError(outcome.Error, "EmailSendFailed")
}

func (a *Activities) RecordDeliveryActivity(ctx context.Context, params temporal.RecordDeliveryParams) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Recording email delivery", "notificationID", params.NotificationID, "status", string(params.Status))

	record := repository.RecordDeliveryParams{
		NotificationID: params.NotificationID,
		Channel:        models.DeliveryChannelEmail,
		Status:         params.Status,
		Attempts:       params.Attempts,
	}
	if params.ProviderID != "" {
		record.ProviderID = &params.ProviderID
	}
	if params.LastError != "" {
		record.LastError = &params.LastError
	}
	if _, err := a.Deliveries.Record(ctx, record); err != nil {
		return errors.Wrap(err, "failed to record email delivery")
	}
	return nil
}
