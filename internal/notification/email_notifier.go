package notification

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/models"
)

// EmailNotifier sends one email per notification through a Mailer. It runs
// off the request path.
type EmailNotifier struct {
	mailer Mailer
	logger zerolog.Logger
}

func NewEmailNotifier(mailer Mailer, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		mailer: mailer,
		logger: logger.With().Str("notifier", "email").Logger(),
	}
}

func (n *EmailNotifier) Channel() models.DeliveryChannel { return models.DeliveryChannelEmail }

func (n *EmailNotifier) Dispatch() Dispatch { return DispatchAsync }

func (n *EmailNotifier) Notify(ctx context.Context, d Delivery) models.DeliveryOutcome {
	email := strings.TrimSpace(d.RecipientEmail)
	if email == "" {
		n.logger.Debug().Str("notification_id", d.Notification.ID).Msg("no recipient email, skipping")
		return models.Skipped("no recipient email")
	}
	return n.mailer.Send(ctx, d.Notification, email)
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}
