package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/models"
)

const DefaultRelayChannel = "notify:push"

type relayMessage struct {
	RecipientID string          `json:"recipientId"`
	Envelope    json.RawMessage `json:"envelope"`
}

// RedisRelay fans push messages out across instances. Publish goes to a
// redis channel; every instance, the publisher included, runs Run and hands
// what it receives to its local Registry.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	local   *Registry
	logger  zerolog.Logger
}

// NewRedisRelay publishes on channel, or DefaultRelayChannel when empty, and
// delivers received envelopes to local.
func NewRedisRelay(client redis.UniversalClient, channel string, local *Registry, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logger.With().Str("component", "redis_relay").Str("channel", channel).Logger(),
	}
}

// Publish returns the number of instances subscribed to the relay channel.
// Per-connection results are only known to the receiving instances.
func (r *RedisRelay) Publish(ctx context.Context, recipientID string, n models.Notification) (int, error) {
	envelope, err := MarshalEnvelope(n)
	if err != nil {
		return 0, err
	}
	msg, err := json.Marshal(relayMessage{RecipientID: recipientID, Envelope: envelope})
	if err != nil {
		return 0, err
	}
	receivers, err := r.client.Publish(ctx, r.channel, msg).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish: %w", err)
	}
	return int(receivers), nil
}

// Relayed reports true: socket sends happen on the receiving instances.
func (r *RedisRelay) Relayed() bool { return true }

// Run subscribes to the relay channel and blocks until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	r.logger.Info().Msg("subscribed to push relay")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("stopping push relay")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, payload string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn().Err(err).Msg("dropping malformed relay message")
		return
	}
	if msg.RecipientID == "" || len(msg.Envelope) == 0 {
		r.logger.Warn().Msg("dropping incomplete relay message")
		return
	}
	delivered := r.local.Deliver(ctx, msg.RecipientID, msg.Envelope)
	r.logger.Debug().Str("recipient_id", msg.RecipientID).Int("delivered", delivered).Msg("relayed push")
}
