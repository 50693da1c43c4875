package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/loopwork/realtime/pkg/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Authenticator resolves a raw bearer token into a principal at
// handshake time. Tokens are not re-verified per message; the signed
// envelope covers message integrity after the handshake.
type Authenticator interface {
	Authenticate(token string) (*auth.Principal, error)
}

// MembershipChecker validates that a token's workspace claim still
// corresponds to an active membership.
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, workspaceID, userID uuid.UUID) (bool, error)
}

// Handler upgrades HTTP requests to websocket sessions and runs the
// per-connection read/write loops.
type Handler struct {
	upgrader   websocket.Upgrader
	verifier   Authenticator
	membership MembershipChecker
	registry   *Registry
	dispatcher *Dispatcher
	metrics    *Metrics
	log        *zap.Logger
}

func NewHandler(verifier Authenticator, membership MembershipChecker, registry *Registry, dispatcher *Dispatcher, metrics *Metrics, log *zap.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		verifier:   verifier,
		membership: membership,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    metrics,
		log:        log.With(zap.String("module", "ws_handler")),
	}
}

// ServeHTTP authenticates the handshake, registers the connection and
// starts its pumps. The token travels in the Authorization header or,
// for browser clients, the token query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	principal, err := h.verifier.Authenticate(token)
	if err != nil {
		h.log.Warn("handshake rejected", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// A workspace claim is only as fresh as the token. A membership revoked
	// since minting is dropped here, so workspace commands answer
	// NO_WORKSPACE instead of acting on the stale claim.
	if principal.HasWorkspace() && h.membership != nil {
		active, err := h.membership.IsActiveMember(r.Context(), *principal.WorkspaceID, principal.UserID)
		if err != nil {
			h.log.Error("membership check failed", zap.Error(err))
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if !active {
			principal.WorkspaceID = nil
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(uuid.New(), principal)
	// A client reconnecting within the suspend horizon resumes its old
	// session identity by presenting the recovery token it was issued.
	if recoveryToken := r.URL.Query().Get("recovery_token"); recoveryToken != "" {
		if prev := h.findRecoverable(principal.UserID, recoveryToken); prev != nil {
			conn = prev
			if err := conn.Transition(StateConnected, recoveryToken); err != nil {
				conn = NewConnection(uuid.New(), principal)
			}
		}
	}

	if conn.State() == StateConnecting {
		if err := conn.Transition(StateConnected, ""); err != nil {
			h.log.Error("connect transition failed", zap.Error(err))
			_ = ws.Close()
			return
		}
		h.registry.Add(conn)
	}
	if h.metrics != nil {
		h.metrics.ConnectionsActive.Set(float64(h.registry.Count()))
	}
	h.log.Info("connection established",
		zap.String("connection_id", conn.ID.String()),
		zap.String("user_id", principal.UserID.String()))

	go h.writePump(ws, conn)
	go h.readPump(ws, conn)
}

func (h *Handler) findRecoverable(userID uuid.UUID, recoveryToken string) *Connection {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	for _, conn := range h.registry.byUser[userID] {
		if conn.RecoveryToken == recoveryToken && conn.State() == StateReconnecting {
			return conn
		}
	}
	return nil
}

// readPump consumes inbound frames and dispatches them synchronously, so
// commands on one connection execute in receipt order. The request
// context dies when the handshake handler returns, so dispatch runs on a
// connection-lifetime context instead.
func (h *Handler) readPump(ws *websocket.Conn, conn *Connection) {
	ctx := context.Background()
	// On transport loss the connection parks in Reconnecting so the
	// client can resume with its recovery token; the stale sweep reaps it
	// if no resume arrives. Security failures remove it immediately, and
	// leave the socket to the write pump so the queued error response is
	// flushed ahead of the close frame.
	terminal := false
	defer func() {
		if !terminal {
			_ = ws.Close()
		}
		if conn.State() == StateClosed {
			h.registry.Remove(conn.ID)
		} else {
			_ = conn.Transition(StateReconnecting, "")
		}
		if h.metrics != nil {
			h.metrics.ConnectionsActive.Set(float64(h.registry.Count()))
		}
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		conn.TouchPing()
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("unexpected close",
					zap.String("connection_id", conn.ID.String()), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		resp, mustClose := h.dispatcher.HandleMessage(ctx, conn, data)
		if resp != nil {
			if frame, err := resp.Encode(); err == nil {
				conn.Enqueue(frame)
			} else {
				h.log.Error("encode response", zap.Error(err))
			}
		}
		if mustClose {
			h.log.Warn("terminating connection on security failure",
				zap.String("connection_id", conn.ID.String()),
				zap.String("user_id", conn.Principal.UserID.String()))
			terminal = true
			h.registry.Remove(conn.ID)
			return
		}
	}
}

// writePump drains the connection's outbound buffer and keeps the
// transport alive with protocol pings.
func (h *Handler) writePump(ws *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-conn.Done():
			// Flush whatever was queued before the close, so a terminal
			// error response reaches the client ahead of the close frame.
			for {
				select {
				case frame := <-conn.Outbound():
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}
