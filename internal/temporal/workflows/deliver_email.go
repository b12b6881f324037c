package workflows

import (
	"errors"
	"time"

	"github.com/stanstork/notification-api/internal/models"
	"github.com/stanstork/notification-api/internal/temporal"
	"github.com/stanstork/notification-api/internal/temporal/activities"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Register adds the delivery workflow and its activities to a worker.
func Register(w worker.Registry, acts *activities.Activities) {
	w.RegisterWorkflowWithOptions(DeliverEmailWorkflow, workflow.RegisterOptions{Name: temporal.DeliverEmailWorkflowName})
	w.RegisterActivity(acts)
}

// DeliverEmailWorkflow retries the email send with exponential backoff and
// then records the final outcome on the notification.
func DeliverEmailWorkflow(ctx workflow.Context, params temporal.EmailDeliveryParams) error {
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = temporal.DefaultMaxAttempts
	}
	sendCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: temporal.DefaultActivityTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    maxAttempts,
		},
	})
	recordCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &sdktemporal.RetryPolicy{MaximumAttempts: 3},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting email delivery workflow", "notificationID", params.Notification.ID)

	var a *activities.Activities
	var result temporal.SendEmailResult
	sendErr := workflow.ExecuteActivity(sendCtx, a.SendEmailActivity, params).Get(sendCtx, &result)

	record := temporal.RecordDeliveryParams{NotificationID: params.Notification.ID}
	switch {
	case sendErr != nil:
		record.Status = models.DeliveryStateFailed
		record.Attempts = int(maxAttempts)
		record.LastError = sendErr.Error()
		var appErr *sdktemporal.ApplicationError
		if errors.As(sendErr, &appErr) {
			record.LastError = appErr.Error()
			if appErr.NonRetryable() {
				record.Attempts = 1
			}
		}
		logger.Error("Email delivery failed.", "notificationID", params.Notification.ID, "error", sendErr)
	case result.Skipped:
		logger.Info("Email delivery skipped.", "notificationID", params.Notification.ID)
		return nil
	default:
		record.Status = models.DeliveryStateSent
		record.Attempts = int(result.Attempt)
		record.ProviderID = result.MessageID
	}

	if err := workflow.ExecuteActivity(recordCtx, a.RecordDeliveryActivity, record).Get(recordCtx, nil); err != nil {
		logger.Error("Failed to record email delivery.", "error", err)
		return err
	}
	return sendErr
}
