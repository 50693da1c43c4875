package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopwork/realtime/pkg/auth"
	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"
)

// ConnectionState models the connection lifecycle. Transitions move
// forward only, with a single exception: Reconnecting returns to
// Connected when the client presents a valid recovery token.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateSuspended
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSuspended:
		return "suspended"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var ErrInvalidTransition = errors.New("invalid connection state transition")

const sendBufferSize = 256

// Connection is one live client session. Outbound frames go through a
// bounded send channel drained by the transport's write pump; a full
// buffer drops the frame rather than blocking the sender.
type Connection struct {
	ID            uuid.UUID
	Principal     *auth.Principal
	RecoveryToken string
	ConnectedAt   time.Time

	state    uatomic.Int32
	lastPing uatomic.Int64
	send     chan []byte
	done     chan struct{}

	mu            sync.Mutex
	subscriptions map[string]struct{}

	closeOnce sync.Once
}

func NewConnection(id uuid.UUID, principal *auth.Principal) *Connection {
	c := &Connection{
		ID:            id,
		Principal:     principal,
		RecoveryToken: uuid.NewString(),
		ConnectedAt:   time.Now().UTC(),
		send:          make(chan []byte, sendBufferSize),
		done:          make(chan struct{}),
		subscriptions: make(map[string]struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.lastPing.Store(time.Now().UnixNano())
	return c
}

func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Transition moves the connection to next, enforcing forward-only order.
// Reconnecting to Connected is permitted only with the connection's
// recovery token.
func (c *Connection) Transition(next ConnectionState, recoveryToken string) error {
	for {
		current := ConnectionState(c.state.Load())
		if current == next {
			return nil
		}
		if current == StateReconnecting && next == StateConnected {
			if recoveryToken != c.RecoveryToken {
				return ErrInvalidTransition
			}
		} else if next <= current {
			return ErrInvalidTransition
		}
		if c.state.CompareAndSwap(int32(current), int32(next)) {
			return nil
		}
	}
}

// AcceptsCommands reports whether the dispatcher may process commands
// from this connection in its current state.
func (c *Connection) AcceptsCommands() bool {
	switch c.State() {
	case StateConnected, StateReconnecting:
		return true
	}
	return false
}

func (c *Connection) TouchPing() {
	c.lastPing.Store(time.Now().UnixNano())
}

func (c *Connection) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

// Enqueue offers a frame to the connection's outbound buffer. It never
// blocks: a full buffer or closed connection returns false and the frame
// is dropped. The send channel itself is never closed, so concurrent
// enqueues cannot race a close.
func (c *Connection) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// QueueSize reports how many frames are waiting in the outbound buffer.
func (c *Connection) QueueSize() int {
	return len(c.send)
}

// Outbound exposes the send channel to the transport write pump.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed when the connection closes; the write pump selects on
// it to shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close marks the connection closed. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

func (c *Connection) Subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[topic] = struct{}{}
}

func (c *Connection) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, topic)
}

func (c *Connection) SubscribedTo(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[topic]
	return ok
}

func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	return topics
}

// Registry tracks live connections and supports unicast, broadcast and
// the stale-connection sweep. All delivery is non-blocking; a slow
// consumer loses frames instead of stalling the others.
type Registry struct {
	log *zap.Logger

	mu     sync.RWMutex
	conns  map[uuid.UUID]*Connection
	byUser map[uuid.UUID]map[uuid.UUID]*Connection
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:    log.With(zap.String("module", "registry")),
		conns:  make(map[uuid.UUID]*Connection),
		byUser: make(map[uuid.UUID]map[uuid.UUID]*Connection),
	}
}

func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID] = conn
	userConns, ok := r.byUser[conn.Principal.UserID]
	if !ok {
		userConns = make(map[uuid.UUID]*Connection)
		r.byUser[conn.Principal.UserID] = userConns
	}
	userConns[conn.ID] = conn
}

// Remove detaches and closes the connection. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		if userConns := r.byUser[conn.Principal.UserID]; userConns != nil {
			delete(userConns, id)
			if len(userConns) == 0 {
				delete(r.byUser, conn.Principal.UserID)
			}
		}
	}
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
}

func (r *Registry) Get(id uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// UpdatePing refreshes the liveness timestamp. Unknown ids are a no-op.
func (r *Registry) UpdatePing(id uuid.UUID) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if ok {
		conn.TouchPing()
	}
}

// Broadcast enqueues frame on every Connected connection and reports how
// many deliveries were dropped for full buffers.
func (r *Registry) Broadcast(frame []byte) (delivered, dropped int) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if conn.State() != StateConnected {
			continue
		}
		if conn.Enqueue(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// SendToUser enqueues frame on every Connected connection belonging to
// userID. Unknown users are a no-op.
func (r *Registry) SendToUser(userID uuid.UUID, frame []byte) int {
	r.mu.RLock()
	conns := make([]*Connection, 0, 2)
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range conns {
		if conn.State() == StateConnected && conn.Enqueue(frame) {
			sent++
		}
	}
	return sent
}

// CleanupStale removes every connection whose last ping is older than
// maxIdle. Client pings are the only liveness signal.
func (r *Registry) CleanupStale(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.RLock()
	stale := make([]uuid.UUID, 0)
	for id, conn := range r.conns {
		if conn.LastPing().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.log.Info("removing stale connection", zap.String("connection_id", id.String()))
		r.Remove(id)
	}
	return len(stale)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ListOnline returns the user ids with at least one Connected connection.
func (r *Registry) ListOnline() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	online := make([]uuid.UUID, 0, len(r.byUser))
	for userID, conns := range r.byUser {
		for _, conn := range conns {
			if conn.State() == StateConnected {
				online = append(online, userID)
				break
			}
		}
	}
	return online
}
