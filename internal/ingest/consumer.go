// Package ingest feeds events from a Kafka topic into the notification pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stanstork/notification-api/internal/apperror"
	"github.com/stanstork/notification-api/internal/metrics"
	"github.com/stanstork/notification-api/internal/models"
)

const (
	maxHandleAttempts = 3
	initialBackoff    = 500 * time.Millisecond
)

// EventHandler is the pipeline entry point the consumer drives.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt models.Event) (models.Notification, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads Event JSON from Kafka. Every message is committed once it
// has been handled, skipped as malformed, or has exhausted its retries.
type Consumer struct {
	reader  messageReader
	handler EventHandler
	logger  zerolog.Logger
	backoff time.Duration
}

func NewConsumer(cfg Config, handler EventHandler, logger zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newConsumer(reader, handler, logger)
}

func newConsumer(reader messageReader, handler EventHandler, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		handler: handler,
		logger:  logger.With().Str("component", "kafka_consumer").Logger(),
		backoff: initialBackoff,
	}
}

// Run consumes until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info().Msg("kafka consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("kafka consumer stopped")
				return nil
			}
			return err
		}

		c.process(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	logger := c.logger.With().Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()

	var evt models.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonMalformed).Inc()
		logger.Warn().Err(err).Msg("skipping malformed event")
		return
	}

	backoff := c.backoff
	for attempt := 1; attempt <= maxHandleAttempts; attempt++ {
		n, err := c.handler.HandleEvent(ctx, evt)
		if err == nil {
			logger.Debug().Str("notification_id", n.ID).Msg("event handled")
			return
		}
		if !apperror.IsKind(err, apperror.KindDependency) && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn().Err(err).Str("verb", evt.Verb).Msg("rejecting event")
			return
		}
		if attempt == maxHandleAttempts {
			logger.Error().Err(err).Str("verb", evt.Verb).Int("attempts", attempt).Msg("giving up on event")
			return
		}

		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying event")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
