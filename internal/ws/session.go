package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"webchat-service/internal/chat"
	"webchat-service/internal/config"
	"webchat-service/internal/models"
	"webchat-service/internal/observability"
	"webchat-service/internal/registry"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Poster is satisfied by chat.Service.
type Poster interface {
	Post(ctx context.Context, sender models.Identity, key registry.GroupKey, text string) (models.MessagePayload, error)
}

// Session is one websocket connection joined to one group. It implements
// registry.Member: fan-out only enqueues to send, and a single writer
// goroutine owns all writes to the connection.
type Session struct {
	id       string
	conn     *websocket.Conn
	identity models.Identity
	key      registry.GroupKey
	limits   config.WSConfig
	logger   zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newSession(id string, conn *websocket.Conn, limits config.WSConfig, logger zerolog.Logger) *Session {
	s := &Session{
		id:     id,
		conn:   conn,
		limits: limits,
		logger: logger,
		send:   make(chan []byte, limits.SendBuffer),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Send enqueues payload for the writer. It never blocks.
func (s *Session) Send(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Close starts shutting the session down. It is safe to call repeatedly and
// from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.State() < StateClosing {
			s.setState(StateClosing)
		}
		close(s.done)
	})
}

// readPump processes inbound frames until the connection fails or the
// session is closed. Frames are handled one at a time, so a sender's
// messages are persisted in the order it sent them.
func (s *Session) readPump(ctx context.Context, poster Poster) error {
	s.conn.SetReadLimit(s.limits.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.limits.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.limits.PongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		text, err := chat.ParseInbound(raw)
		if err == nil {
			_, err = poster.Post(ctx, s.identity, s.key, text)
		}
		if err != nil {
			s.reportError(err)
		}
	}
}

// reportError tells this client, and only this client, why its event was
// not broadcast.
func (s *Session) reportError(err error) {
	code := chat.Code(err)
	detail := err.Error()
	switch code {
	case chat.CodePersistence:
		detail = "message could not be stored"
	case chat.CodePublish:
		detail = "message was stored but could not be delivered"
	}
	s.logger.Debug().Err(err).Str("code", code).Msg("inbound event rejected")
	observability.IncInboundRejected(code)

	body, _ := json.Marshal(models.ChatEvent{Error: &models.ErrorPayload{Code: code, Detail: detail}})
	if !s.Send(body) {
		s.Close()
	}
}

// writePump owns the connection's write side. It returns once the session
// is closed or a write fails, closing the connection on the way out.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.limits.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.limits.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.limits.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(s.limits.WriteWait))
			return
		}
	}
}
