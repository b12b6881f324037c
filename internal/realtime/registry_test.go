package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	open     atomic.Bool
	failWith error
	messages [][]byte
}

func newFakeConn() *fakeConn {
	c := &fakeConn{}
	c.open.Store(true)
	return c
}

func (c *fakeConn) Open() bool { return c.open.Load() }

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.messages = append(c.messages, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.messages...)
}

func testNotification(recipient string) models.Notification {
	return models.Notification{
		ID:             "n-1",
		RecipientID:    recipient,
		Type:           models.NotificationTypeSocial,
		Title:          "New social comment notification",
		Body:           "User u1 performed social.comment on post1",
		Data:           json.RawMessage(`{}`),
		AggregatedFrom: []string{},
		Priority:       models.PriorityDefault,
	}
}

func TestRegistry_PublishReachesOnlyRecipientConnections(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	a1, a2, b := newFakeConn(), newFakeConn(), newFakeConn()
	reg.Register("A", a1)
	reg.Register("A", a2)
	reg.Register("B", b)

	delivered, err := reg.Publish(context.Background(), "A", testNotification("A"))
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	require.Len(t, a1.received(), 1)
	require.Len(t, a2.received(), 1)
	assert.Empty(t, b.received())

	var env struct {
		Type    string              `json:"type"`
		Payload models.Notification `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(a1.received()[0], &env))
	assert.Equal(t, EventNotificationNew, env.Type)
	assert.Equal(t, "n-1", env.Payload.ID)
	assert.Equal(t, "A", env.Payload.RecipientID)
}

func TestRegistry_PublishWithoutConnections(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	delivered, err := reg.Publish(context.Background(), "nobody", testNotification("nobody"))
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestRegistry_SkipsClosedAndFailingConnections(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	open, closed, broken := newFakeConn(), newFakeConn(), newFakeConn()
	closed.open.Store(false)
	broken.failWith = errors.New("write: broken pipe")
	reg.Register("A", open)
	reg.Register("A", closed)
	reg.Register("A", broken)

	delivered, err := reg.Publish(context.Background(), "A", testNotification("A"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Len(t, open.received(), 1)
	assert.Empty(t, closed.received())

	// Nothing is pruned without an explicit unregister.
	assert.Equal(t, 3, reg.Count("A"))
}

func TestRegistry_UnregisterIsTolerant(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	a1, a2 := newFakeConn(), newFakeConn()
	reg.Register("A", a1)
	reg.Register("A", a1)
	reg.Register("A", a2)
	assert.Equal(t, 2, reg.Count("A"))

	reg.Unregister("A", a1)
	reg.Unregister("A", a1)
	reg.Unregister("unknown", a1)
	reg.Unregister("A", newFakeConn())
	assert.Equal(t, 1, reg.Count("A"))

	delivered, err := reg.Publish(context.Background(), "A", testNotification("A"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Empty(t, a1.received())
	assert.Len(t, a2.received(), 1)

	reg.Unregister("A", a2)
	assert.Zero(t, reg.Count("A"))
	assert.Nil(t, reg.snapshot("A"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	ctx := context.Background()

	const recipients = 16
	const perRecipient = 8

	var wg sync.WaitGroup
	conns := make([][]*fakeConn, recipients)
	for i := 0; i < recipients; i++ {
		conns[i] = make([]*fakeConn, perRecipient)
		for j := range conns[i] {
			conns[i][j] = newFakeConn()
		}
	}

	for i := 0; i < recipients; i++ {
		id := fmt.Sprintf("user-%d", i)
		for j := 0; j < perRecipient; j++ {
			c := conns[i][j]
			wg.Add(2)
			go func() {
				defer wg.Done()
				reg.Register(id, c)
			}()
			go func() {
				defer wg.Done()
				_, _ = reg.Publish(ctx, id, testNotification(id))
			}()
		}
	}
	wg.Wait()

	for i := 0; i < recipients; i++ {
		assert.Equal(t, perRecipient, reg.Count(fmt.Sprintf("user-%d", i)))
	}

	for i := 0; i < recipients; i++ {
		id := fmt.Sprintf("user-%d", i)
		for j := 0; j < perRecipient; j++ {
			c := conns[i][j]
			wg.Add(2)
			go func() {
				defer wg.Done()
				reg.Unregister(id, c)
			}()
			go func() {
				defer wg.Done()
				reg.Unregister(id, c)
			}()
		}
	}
	wg.Wait()

	for i := 0; i < recipients; i++ {
		assert.Zero(t, reg.Count(fmt.Sprintf("user-%d", i)))
	}
}

func TestRedisRelay_HandleDeliversLocally(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	c := newFakeConn()
	reg.Register("A", c)
	relay := NewRedisRelay(nil, "", reg, zerolog.Nop())

	envelope, err := MarshalEnvelope(testNotification("A"))
	require.NoError(t, err)
	msg, err := json.Marshal(relayMessage{RecipientID: "A", Envelope: envelope})
	require.NoError(t, err)

	relay.handle(context.Background(), string(msg))
	relay.handle(context.Background(), "not json")
	relay.handle(context.Background(), `{"recipientId":""}`)

	require.Len(t, c.received(), 1)
	assert.JSONEq(t, string(envelope), string(c.received()[0]))
	assert.Equal(t, DefaultRelayChannel, relay.channel)
}
