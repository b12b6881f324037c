package main

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stanstork/notification-api/internal/config"

	// Quiet hours resolve IANA zones; the container image ships no zoneinfo.
	_ "time/tzdata"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "notification-api",
		Short:        "Notification ingestion, storage and delivery service",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSMTPCheckCmd())
	return root
}

// bootstrap loads configuration and builds the root logger. Configuration
// errors are fatal.
func bootstrap() (*config.Config, zerolog.Logger) {
	bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := newLogger(cfg)
	log.SetFlags(0)
	log.SetOutput(logger)
	return cfg, logger
}

// newLogger writes human-readable output in development and JSON elsewhere.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Str("env", cfg.Environment).Logger()
}
