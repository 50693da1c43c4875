package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loopwork/realtime/pkg/auth"
)

func newBroadcasterFixture(t *testing.T) (*Broadcaster, *Registry) {
	t.Helper()
	registry := NewRegistry(zap.NewNop())
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewBroadcaster(registry, nil, metrics, zap.NewNop()), registry
}

func addSubscriber(t *testing.T, registry *Registry, topic string) *Connection {
	t.Helper()
	conn := NewConnection(uuid.New(), &auth.Principal{UserID: uuid.New()})
	require.NoError(t, conn.Transition(StateConnected, ""))
	registry.Add(conn)
	if topic != "" {
		conn.Subscribe(topic)
	}
	return conn
}

func TestPublishScopesByTopic(t *testing.T) {
	broadcaster, registry := newBroadcasterFixture(t)
	workspaceID := uuid.New()
	topic := EventTopic(workspaceID, "labels")

	subscribed := addSubscriber(t, registry, topic)
	otherTopic := addSubscriber(t, registry, EventTopic(workspaceID, "issues"))
	unsubscribed := addSubscriber(t, registry, "")

	broadcaster.Publish(context.Background(), Event{
		Topic:       topic,
		Type:        "create_label",
		WorkspaceID: workspaceID,
		Data:        map[string]interface{}{"name": "bug"},
	})

	select {
	case frame := <-subscribed.Outbound():
		var event Event
		require.NoError(t, codec.Unmarshal(frame, &event))
		assert.Equal(t, topic, event.Topic)
		assert.Equal(t, "create_label", event.Type)
		assert.False(t, event.Timestamp.IsZero())
	default:
		t.Fatal("topic subscriber should have received the event")
	}

	for name, conn := range map[string]*Connection{"other topic": otherTopic, "no subscription": unsubscribed} {
		select {
		case <-conn.Outbound():
			t.Fatalf("connection with %s must not receive the event", name)
		default:
		}
	}
}

func TestPublishSkipsNonConnected(t *testing.T) {
	broadcaster, registry := newBroadcasterFixture(t)
	topic := EventTopic(uuid.New(), "labels")

	parked := addSubscriber(t, registry, topic)
	require.NoError(t, parked.Transition(StateReconnecting, ""))

	broadcaster.Publish(context.Background(), Event{Topic: topic, Type: "create_label"})

	select {
	case <-parked.Outbound():
		t.Fatal("reconnecting connections do not receive events")
	default:
	}
}

func TestPublishDropsForSlowConsumer(t *testing.T) {
	broadcaster, registry := newBroadcasterFixture(t)
	topic := EventTopic(uuid.New(), "labels")

	slow := addSubscriber(t, registry, topic)
	healthy := addSubscriber(t, registry, topic)

	for i := 0; i < sendBufferSize; i++ {
		require.True(t, slow.Enqueue([]byte("backlog")))
	}

	// The publisher must not block on the saturated consumer, and the
	// healthy one still gets the event.
	done := make(chan struct{})
	go func() {
		broadcaster.Publish(context.Background(), Event{Topic: topic, Type: "create_label"})
		close(done)
	}()
	<-done

	select {
	case <-healthy.Outbound():
	default:
		t.Fatal("healthy subscriber should have received the event")
	}
}

func TestEventTopicFormat(t *testing.T) {
	workspaceID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	assert.Equal(t,
		"workspace:11111111-2222-3333-4444-555555555555:labels",
		EventTopic(workspaceID, "labels"))
}

func TestBridgedEventFromOwnInstanceIgnored(t *testing.T) {
	broadcaster, registry := newBroadcasterFixture(t)
	topic := EventTopic(uuid.New(), "labels")
	conn := addSubscriber(t, registry, topic)

	own, err := codec.Marshal(Event{Topic: topic, Type: "create_label", Origin: broadcaster.instance})
	require.NoError(t, err)
	broadcaster.handleBridged(&goredis.Message{Channel: eventsChannel, Payload: string(own)})

	select {
	case <-conn.Outbound():
		t.Fatal("an instance must not re-deliver its own bridged events")
	default:
	}

	foreign, err := codec.Marshal(Event{Topic: topic, Type: "create_label", Origin: "another-instance"})
	require.NoError(t, err)
	broadcaster.handleBridged(&goredis.Message{Channel: eventsChannel, Payload: string(foreign)})

	select {
	case <-conn.Outbound():
	default:
		t.Fatal("bridged events from other instances must be delivered")
	}
}
