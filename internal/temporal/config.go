package temporal

import (
	"time"

	"github.com/stanstork/notification-api/internal/models"
)

// TaskQueueName is the default task queue for notification delivery workflows.
const TaskQueueName = "NOTIFICATION_DELIVERY"

// EmailWorkflowIDPrefix prefixes the notification id to form the workflow id,
// so a notification has at most one running email delivery.
const EmailWorkflowIDPrefix = "notification-email-"

// DeliverEmailWorkflowName is the registered name of workflows.DeliverEmailWorkflow.
const DeliverEmailWorkflowName = "DeliverEmailWorkflow"

const (
	DefaultActivityTimeout = 30 * time.Second
	DefaultMaxAttempts     = 5
)

// EmailDeliveryParams is the input of the email delivery workflow.
type EmailDeliveryParams struct {
	Notification   models.Notification
	RecipientEmail string
	MaxAttempts    int32
}

// SendEmailResult is returned by SendEmailActivity on success.
type SendEmailResult struct {
	MessageID string
	Skipped   bool
	Attempt   int32
}

// RecordDeliveryParams is the input of RecordDeliveryActivity.
type RecordDeliveryParams struct {
	NotificationID string
	Status         models.DeliveryState
	Attempts       int
	ProviderID     string
	LastError      string
}
