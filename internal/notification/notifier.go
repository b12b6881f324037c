package notification

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/models"
)

// Dispatch says whether a notifier runs inside the event request or on a
// background goroutine.
type Dispatch int

const (
	DispatchSync Dispatch = iota
	DispatchAsync
)

// Delivery is everything a channel needs to deliver one notification.
type Delivery struct {
	Notification   models.Notification
	RecipientEmail string
}

// Notifier delivers a notification over one channel. Notify must not panic
// and reports failure through the returned outcome.
type Notifier interface {
	Channel() models.DeliveryChannel
	Dispatch() Dispatch
	Notify(ctx context.Context, d Delivery) models.DeliveryOutcome
}

func logNotifyError(logger zerolog.Logger, outcome models.DeliveryOutcome, channel models.DeliveryChannel, notif models.Notification) {
	if outcome.Status != models.DeliveryStateFailed {
		return
	}
	logger.Warn().
		Str("error", outcome.Error).
		Str("notification_id", notif.ID).
		Str("recipient_id", notif.RecipientID).
		Str("channel", string(channel)).
		Msg("failed to deliver notification")
}
