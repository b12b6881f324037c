// Package realtime keeps track of live push connections and fans
// notifications out to them.
package realtime

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/metrics"
	"github.com/stanstork/notification-api/internal/models"
)

// EventNotificationNew is the envelope type for a freshly created notification.
const EventNotificationNew = "notification.new"

// Conn is a live push channel. Implementations must be comparable (pointer
// receivers) since the registry keys on handle identity.
type Conn interface {
	Open() bool
	Send(ctx context.Context, payload []byte) error
}

// Envelope is the server-to-client message frame.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Publisher pushes a notification to every live connection of a recipient
// and reports how many accepted it.
type Publisher interface {
	Publish(ctx context.Context, recipientID string, n models.Notification) (int, error)
}

// Relayer is implemented by publishers that hand the envelope to other
// processes. Their Publish count is receiving instances, not confirmed sends.
type Relayer interface {
	Publisher
	Relayed() bool
}

// MarshalEnvelope encodes n as a notification.new frame.
func MarshalEnvelope(n models.Notification) ([]byte, error) {
	return json.Marshal(Envelope{Type: EventNotificationNew, Payload: n})
}

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	buckets map[string]map[Conn]struct{}
}

// Registry maps recipient ids to their live connections. Recipients are
// spread over a fixed set of shards, each with its own lock, so that
// unrelated recipients never contend.
type Registry struct {
	shards [shardCount]*shard
	logger zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{logger: logger.With().Str("component", "push_registry").Logger()}
	for i := range r.shards {
		r.shards[i] = &shard{buckets: make(map[string]map[Conn]struct{})}
	}
	return r
}

func (r *Registry) shardFor(recipientID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipientID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds c under recipientID. Registering the same handle twice is a no-op.
func (r *Registry) Register(recipientID string, c Conn) {
	s := r.shardFor(recipientID)
	s.mu.Lock()
	bucket, ok := s.buckets[recipientID]
	if !ok {
		bucket = make(map[Conn]struct{})
		s.buckets[recipientID] = bucket
	}
	_, exists := bucket[c]
	bucket[c] = struct{}{}
	size := len(bucket)
	s.mu.Unlock()

	if !exists {
		metrics.PushConnections.Inc()
	}
	r.logger.Debug().Str("recipient_id", recipientID).Int("connections", size).Msg("connection registered")
}

// Unregister removes exactly c from recipientID's bucket. Unknown recipients
// and handles are ignored so transports may signal closure more than once.
func (r *Registry) Unregister(recipientID string, c Conn) {
	s := r.shardFor(recipientID)
	s.mu.Lock()
	bucket, ok := s.buckets[recipientID]
	if !ok {
		s.mu.Unlock()
		return
	}
	_, exists := bucket[c]
	delete(bucket, c)
	if len(bucket) == 0 {
		delete(s.buckets, recipientID)
	}
	s.mu.Unlock()

	if exists {
		metrics.PushConnections.Dec()
		r.logger.Debug().Str("recipient_id", recipientID).Msg("connection unregistered")
	}
}

// Count returns the number of handles held for recipientID, open or not.
func (r *Registry) Count(recipientID string) int {
	s := r.shardFor(recipientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets[recipientID])
}

func (r *Registry) snapshot(recipientID string) []Conn {
	s := r.shardFor(recipientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.buckets[recipientID]
	if len(bucket) == 0 {
		return nil
	}
	conns := make([]Conn, 0, len(bucket))
	for c := range bucket {
		conns = append(conns, c)
	}
	return conns
}

// Publish sends a notification.new envelope to every open connection of
// recipientID and returns how many sends succeeded.
func (r *Registry) Publish(ctx context.Context, recipientID string, n models.Notification) (int, error) {
	payload, err := MarshalEnvelope(n)
	if err != nil {
		return 0, err
	}
	return r.Deliver(ctx, recipientID, payload), nil
}

// Deliver writes an already encoded envelope. Sends happen outside the shard
// lock; connections that are not open are skipped and send errors are only
// logged; pruning is left to Unregister.
func (r *Registry) Deliver(ctx context.Context, recipientID string, payload []byte) int {
	delivered := 0
	for _, c := range r.snapshot(recipientID) {
		if !c.Open() {
			continue
		}
		if err := c.Send(ctx, payload); err != nil {
			r.logger.Warn().Err(err).Str("recipient_id", recipientID).Msg("push send failed")
			continue
		}
		delivered++
	}
	return delivered
}
