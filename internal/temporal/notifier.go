package temporal

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/models"
	"github.com/stanstork/notification-api/internal/notification"
	"go.temporal.io/sdk/client"
)

// WorkflowStarter is the part of client.Client the notifier uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// EmailNotifier hands email delivery to a durable workflow instead of
// sending inline. Its outcome is always pending or failed-to-start.
type EmailNotifier struct {
	starter     WorkflowStarter
	taskQueue   string
	maxAttempts int32
	logger      zerolog.Logger
}

func NewEmailNotifier(starter WorkflowStarter, taskQueue string, maxAttempts int32, logger zerolog.Logger) *EmailNotifier {
	if taskQueue == "" {
		taskQueue = TaskQueueName
	}
	return &EmailNotifier{
		starter:     starter,
		taskQueue:   taskQueue,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("notifier", "temporal_email").Logger(),
	}
}

func (n *EmailNotifier) Channel() models.DeliveryChannel { return models.DeliveryChannelEmail }

func (n *EmailNotifier) Dispatch() notification.Dispatch { return notification.DispatchAsync }

func (n *EmailNotifier) Notify(ctx context.Context, d notification.Delivery) models.DeliveryOutcome {
	email := strings.TrimSpace(d.RecipientEmail)
	if email == "" {
		return models.Skipped("no recipient email")
	}

	opts := client.StartWorkflowOptions{
		ID:        EmailWorkflowIDPrefix + d.Notification.ID,
		TaskQueue: n.taskQueue,
	}
	run, err := n.starter.ExecuteWorkflow(ctx, opts, DeliverEmailWorkflowName, EmailDeliveryParams{
		Notification:   d.Notification,
		RecipientEmail: email,
		MaxAttempts:    n.maxAttempts,
	})
	if err != nil {
		return models.Failed(err)
	}

	n.logger.Info().
		Str("notification_id", d.Notification.ID).
		Str("workflow_id", run.GetID()).
		Str("run_id", run.GetRunID()).
		Msg("email delivery workflow started")
	return models.DeliveryOutcome{Status: models.DeliveryStatePending}
}
