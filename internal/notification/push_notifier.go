package notification

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/models"
	"github.com/stanstork/notification-api/internal/realtime"
)

// PushNotifier delivers the in-app copy through the realtime registry (or
// the cross-instance relay in front of it).
type PushNotifier struct {
	publisher realtime.Publisher
	logger    zerolog.Logger
}

// NewPushNotifier publishes through publisher, usually a *realtime.Registry
// or *realtime.RedisRelay.
func NewPushNotifier(publisher realtime.Publisher, logger zerolog.Logger) *PushNotifier {
	return &PushNotifier{
		publisher: publisher,
		logger:    logger.With().Str("notifier", "push").Logger(),
	}
}

func (n *PushNotifier) Channel() models.DeliveryChannel { return models.DeliveryChannelInApp }

func (n *PushNotifier) Dispatch() Dispatch { return DispatchSync }

func (n *PushNotifier) Notify(ctx context.Context, d Delivery) models.DeliveryOutcome {
	delivered, err := n.publisher.Publish(ctx, d.Notification.RecipientID, d.Notification)
	if err != nil {
		return models.Failed(err)
	}
	if relay, ok := n.publisher.(realtime.Relayer); ok && relay.Relayed() {
		// Only the receiving instances know whether a socket took it.
		if delivered == 0 {
			return models.Skipped("no subscribed instances")
		}
		return models.DeliveryOutcome{Status: models.DeliveryStatePending}
	}
	if delivered == 0 {
		return models.Skipped("no live connections")
	}
	n.logger.Debug().
		Str("notification_id", d.Notification.ID).
		Str("recipient_id", d.Notification.RecipientID).
		Int("connections", delivered).
		Msg("pushed notification")
	return models.DeliveryOutcome{Status: models.DeliveryStateDelivered}
}

func (n *PushNotifier) String() string {
	return "PushNotifier"
}
