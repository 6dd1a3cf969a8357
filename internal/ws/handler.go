// Package ws upgrades chat connections, authenticates them and runs one
// Session per connection.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"webchat-service/internal/config"
	"webchat-service/internal/models"
	"webchat-service/internal/observability"
	"webchat-service/internal/registry"
)

const closeReasonUnauthenticated = "unauthenticated"

// Authenticator is satisfied by auth.Gate.
type Authenticator interface {
	Authenticate(r *http.Request) (models.Identity, error)
}

// Handler serves GET /ws/chat/:serverId/:channelId.
type Handler struct {
	gate     Authenticator
	registry registry.Registry
	poster   Poster
	events   *observability.Events
	limits   config.WSConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewHandler(gate Authenticator, reg registry.Registry, poster Poster, events *observability.Events, limits config.WSConfig, logger zerolog.Logger) *Handler {
	h := &Handler{
		gate:     gate,
		registry: reg,
		poster:   poster,
		events:   events,
		limits:   limits,
		logger:   logger.With().Str("component", "ws").Logger(),
		sessions: make(map[*Session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(limits.AllowedOrigins),
	}
	return h
}

// Handle upgrades the connection, then authenticates it. Authentication runs
// after the upgrade so a rejected client gets a proper close frame instead
// of an HTTP error it may not be able to read.
func (h *Handler) Handle(c *gin.Context) {
	key := registry.GroupKey{ServerID: c.Param("serverId"), ChannelID: c.Param("channelId")}

	ctx, span := otel.Tracer("webchat-service/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	info := ConnInfo{
		ConnID:      ulid.Make().String(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID(c),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	logger := h.logger.With().Object("conn", info).Str("group", key.String()).Logger()
	s := newSession(info.ConnID, conn, h.limits, logger)
	s.key = key

	s.setState(StateAuthenticating)
	identity, err := h.gate.Authenticate(c.Request)
	if err != nil {
		span.End()
		h.reject(ctx, s, info, key)
		return
	}
	s.identity = identity
	info.UserID = identity.ID
	s.logger = logger.With().Int("user_id", identity.ID).Logger()

	if err := h.registry.Join(ctx, key, s); err != nil {
		span.RecordError(err)
		span.End()
		s.logger.Error().Err(err).Msg("join failed")
		h.emit(ctx, "ws_error", info, key, err.Error())
		closeConn(conn, websocket.CloseInternalServerErr, "join failed", h.limits.WriteWait)
		s.setState(StateClosed)
		return
	}
	span.End()
	s.setState(StateJoined)
	h.track(s)
	observability.IncWSActive()
	h.emit(ctx, "ws_connect", info, key, "")
	s.logger.Info().Msg("session joined")

	go s.writePump()
	err = s.readPump(ctx, h.poster)

	s.Close()
	h.registry.Leave(key, s)
	h.untrack(s)
	observability.DecWSActive()
	s.setState(StateClosed)

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.emit(ctx, "ws_error", info, key, reason)
	}
	h.emit(ctx, "ws_disconnect", info, key, reason)
	s.logger.Info().Str("reason", reason).Msg("session closed")
}

func (h *Handler) reject(ctx context.Context, s *Session, info ConnInfo, key registry.GroupKey) {
	s.setState(StateClosing)
	s.logger.Info().Msg("handshake rejected")
	closeConn(s.conn, websocket.ClosePolicyViolation, closeReasonUnauthenticated, h.limits.WriteWait)
	s.setState(StateClosed)
	h.emit(ctx, "ws_rejected", info, key, closeReasonUnauthenticated)
}

// CloseAll closes every live session. Used on shutdown because hijacked
// connections are not tracked by http.Server.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// ActiveSessions returns the number of joined sessions.
func (h *Handler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Handler) track(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

func (h *Handler) emit(ctx context.Context, event string, info ConnInfo, key registry.GroupKey, reason string) {
	h.events.EmitWS(context.WithoutCancel(ctx), observability.WSEvent{
		Event:      event,
		Group:      key.String(),
		ConnID:     info.ConnID,
		UserID:     info.UserID,
		IP:         info.IP,
		DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
		Reason:     reason,
	}, info.RequestID, info.TraceID)
}

func closeConn(conn *websocket.Conn, code int, reason string, wait time.Duration) {
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wait))
	if err == nil {
		// Wait for the peer's close reply so the frame is read before the
		// TCP connection drops.
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		for {
			if _, _, err := conn.NextReader(); err != nil {
				break
			}
		}
	}
	conn.Close()
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func requestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return observability.RequestIDFromRequest(c.Request)
}
