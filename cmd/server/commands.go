package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stanstork/notification-api/internal/migration"
	"github.com/stanstork/notification-api/internal/models"
	"github.com/stanstork/notification-api/internal/notification"
	"github.com/stanstork/notification-api/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := bootstrap()
			ctx := cmd.Context()

			db, err := repository.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
			if err != nil {
				logger.Fatal().Err(err).Msg("Failed to connect to the database")
			}
			defer db.Close()

			if err := migration.Run(ctx, db.DB, cfg.Database.Driver, logger); err != nil {
				return err
			}
			version, err := migration.Version(ctx, db.DB, cfg.Database.Driver)
			if err != nil {
				return err
			}
			logger.Info().Int64("version", version).Msg("Database schema is up to date")
			return nil
		},
	}
}

func newSMTPCheckCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "smtp-check",
		Short: "Verify the SMTP transport and optionally send a test email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := bootstrap()
			if !cfg.Email.Enabled() {
				return errors.New("email is not configured: set email.smtp_host and email.from (SMTP_HOST, EMAIL_FROM)")
			}
			mailer := notification.NewSMTPMailer(cfg.Email, logger)

			timeout := cfg.Email.SendTimeout
			if timeout <= 0 {
				timeout = 15 * time.Second
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if !mailer.VerifyConnection(ctx) {
				return fmt.Errorf("smtp verification failed for %s:%d", cfg.Email.SMTPHost, cfg.Email.SMTPPort)
			}
			if to == "" {
				return nil
			}

			outcome := mailer.Send(ctx, models.Notification{
				ID:          "smtp-check",
				RecipientID: "smtp-check",
				Type:        models.NotificationTypeSystem,
				Title:       "SMTP configuration test",
				Body:        "If you can read this, notification email delivery is working.",
				Priority:    models.PriorityDefault,
			}, to)
			if !outcome.Success() {
				return fmt.Errorf("test email %s: %s", outcome.Status, outcome.Error)
			}
			logger.Info().Str("to", to).Str("message_id", outcome.MessageID).Msg("Test email sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "send a test email to this address")
	return cmd
}
