package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/loopwork/realtime/pkg/redis"
)

const eventsChannel = "realtime:events"

// Event is one change notification fanned out to subscribed connections.
// Topic follows workspace:{workspace_id}:{entity}.
type Event struct {
	Topic       string      `json:"topic"`
	Type        string      `json:"type"`
	WorkspaceID uuid.UUID   `json:"workspace_id"`
	Data        interface{} `json:"data,omitempty"`
	Origin      string      `json:"origin,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// EventTopic builds the canonical topic for a workspace entity.
func EventTopic(workspaceID uuid.UUID, entity string) string {
	return fmt.Sprintf("workspace:%s:%s", workspaceID, entity)
}

// Broadcaster delivers events to subscribed local connections, and
// optionally bridges them across instances through redis pub/sub.
// Delivery is best-effort: a subscriber with a full buffer loses the
// event rather than blocking the publisher.
type Broadcaster struct {
	registry *Registry
	rdb      *redis.Client
	metrics  *Metrics
	log      *zap.Logger
	instance string
}

func NewBroadcaster(registry *Registry, rdb *redis.Client, metrics *Metrics, log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		rdb:      rdb,
		metrics:  metrics,
		log:      log.With(zap.String("module", "broadcaster")),
		instance: uuid.NewString(),
	}
}

// Publish fans the event out locally and, when the redis bridge is
// configured, to the other instances.
func (b *Broadcaster) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Origin = b.instance

	b.deliverLocal(event)

	if b.rdb != nil {
		frame, err := codec.Marshal(event)
		if err != nil {
			b.log.Error("encode event for bridge", zap.Error(err))
			return
		}
		if err := b.rdb.Publish(ctx, eventsChannel, frame).Err(); err != nil {
			b.log.Warn("publish event to bridge", zap.Error(err), zap.String("topic", event.Topic))
		}
	}
}

func (b *Broadcaster) deliverLocal(event Event) {
	frame, err := codec.Marshal(event)
	if err != nil {
		b.log.Error("encode event", zap.Error(err))
		return
	}

	delivered, dropped := 0, 0
	for _, conn := range b.subscribers(event.Topic) {
		if conn.Enqueue(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		b.log.Warn("dropped event for slow consumers",
			zap.String("topic", event.Topic), zap.Int("dropped", dropped))
	}
	if b.metrics != nil {
		b.metrics.EventsDelivered.Add(float64(delivered))
		b.metrics.EventsDropped.Add(float64(dropped))
	}
}

func (b *Broadcaster) subscribers(topic string) []*Connection {
	b.registry.mu.RLock()
	defer b.registry.mu.RUnlock()
	subs := make([]*Connection, 0)
	for _, conn := range b.registry.conns {
		if conn.State() == StateConnected && conn.SubscribedTo(topic) {
			subs = append(subs, conn)
		}
	}
	return subs
}

// Run consumes bridged events from redis until ctx is done. Events this
// instance published are skipped; they were already delivered locally.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.rdb == nil {
		<-ctx.Done()
		return nil
	}

	sub := b.rdb.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handleBridged(msg)
		}
	}
}

func (b *Broadcaster) handleBridged(msg *goredis.Message) {
	var event Event
	if err := codec.Unmarshal([]byte(msg.Payload), &event); err != nil {
		b.log.Warn("decode bridged event", zap.Error(err))
		return
	}
	if event.Origin == b.instance {
		return
	}
	b.deliverLocal(event)
}
