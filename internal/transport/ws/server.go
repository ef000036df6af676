// Package ws provides the WebSocket chat surface: a page binds to a host
// session with hello, then sends user messages and receives streamed answers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/banminseok/assistantAPI/internal/config"
	"github.com/banminseok/assistantAPI/internal/domain"
	"github.com/banminseok/assistantAPI/internal/service"
	"github.com/banminseok/assistantAPI/internal/transport/ws/hub"
	"github.com/banminseok/assistantAPI/internal/transport/ws/protocol"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	service  *service.Service
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, svc *service.Service, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		service: svc,
		logger:  logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg.PingInterval > 0 {
		return s.cfg.PingInterval
	}
	return 30 * time.Second
}

func (s *Server) readTimeout() time.Duration {
	if s.cfg.ReadTimeout > 0 {
		return s.cfg.ReadTimeout
	}
	return 60 * time.Second
}

func (s *Server) writeTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 10 * time.Second
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	if s.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageSize)
	}

	// Runs started from this connection are cancelled when it goes away.
	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump(conn)
	go s.readPump(ctx, cancel, conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(ctx context.Context, cancel context.CancelFunc, conn *hub.Connection) {
	defer func() {
		cancel()
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket error")
			}
			break
		}

		s.handleMessage(ctx, conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.pingInterval())
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeHello:
		s.handleHello(ctx, conn, data)
	case protocol.TypeUserMessage:
		s.handleUserMessage(ctx, conn, data)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleHello binds the connection to a host session and replays its
// history. The connection joins the session only once the session has
// started with the supplied key.
func (s *Server) handleHello(ctx context.Context, conn *hub.Connection, data []byte) {
	var msg protocol.HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid hello message")
		return
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "host_" + uuid.New().String()[:8]
	}
	s.hub.UnbindSession(conn)

	ack := protocol.HelloAckMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeHelloAck,
			Ts:        time.Now().UnixMilli(),
			RequestID: msg.RequestID,
			SessionID: sessionID,
		},
	}
	s.hub.SendJSONToConnection(conn, ack)

	p := &presenter{
		sessionID: sessionID,
		requestID: msg.RequestID,
		reply: func(v any) error {
			return s.hub.SendJSONToConnection(conn, v)
		},
		history: true,
		joined: func() {
			s.hub.BindSession(conn, sessionID, msg.APIKey)
		},
	}
	go func() {
		if err := s.service.Interact(ctx, p, sessionID, msg.APIKey, ""); err != nil {
			s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("hello interaction ended")
			return
		}
		s.logger.Info().Str("session_id", sessionID).Msg("hello handshake completed")
	}()
}

// handleUserMessage answers one query. Once the run has started the
// exchange is broadcast to every connection of the session; a rejected
// request is reported to the sender only.
func (s *Server) handleUserMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	var msg protocol.UserMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid user_message message")
		return
	}

	sessionID, apiKey := s.hub.Binding(conn)
	if sessionID == "" {
		s.sendError(conn, protocol.ErrorCodeSessionRequired, "must send hello with a valid API key first")
		return
	}
	if msg.Content == "" {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "content is required")
		return
	}

	p := &presenter{
		sessionID: sessionID,
		requestID: msg.RequestID,
		reply: func(v any) error {
			return s.hub.SendJSONToConnection(conn, v)
		},
		broadcast: func(v any) error {
			return s.hub.BroadcastJSON(sessionID, v)
		},
	}
	go func() {
		if err := s.service.Answer(ctx, p, sessionID, apiKey, msg.Content); err != nil {
			s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("interaction failed")
			return
		}
		p.done()
	}()
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, code, message string) {
	sessionID, _ := s.hub.Binding(conn)
	errMsg := protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeError,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}

// presenter renders an interaction as protocol messages.
type presenter struct {
	sessionID string
	requestID string
	reply     func(v any) error
	// broadcast reaches every connection of the session; nil keeps all
	// output on reply.
	broadcast func(v any) error
	// history is false for follow-up messages; the page already shows it.
	history bool
	// joined runs before the history is shown, which happens only for a
	// started session.
	joined func()
	// live is set by the first BeginMessage, which the service issues only
	// after the run has been admitted.
	live bool
	text string
}

var _ service.Presenter = (*presenter)(nil)

func (p *presenter) base(typ string) protocol.BaseMessage {
	return protocol.BaseMessage{
		Type:      typ,
		Ts:        time.Now().UnixMilli(),
		RequestID: p.requestID,
		SessionID: p.sessionID,
	}
}

func (p *presenter) send(v any) error {
	if p.live && p.broadcast != nil {
		return p.broadcast(v)
	}
	return p.reply(v)
}

func (p *presenter) BeginMessage(role domain.Role) {
	p.live = true
	p.text = ""
	p.send(protocol.MessageStartedMessage{BaseMessage: p.base(protocol.TypeMessageStarted), Role: role})
}

func (p *presenter) UpdateMessage(text string) {
	p.text = text
	p.send(protocol.DeltaMessage{BaseMessage: p.base(protocol.TypeDelta), Text: text})
}

func (p *presenter) ShowHistory(messages []domain.Message) {
	if p.joined != nil {
		p.joined()
	}
	if !p.history {
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	p.send(protocol.HistoryMessage{BaseMessage: p.base(protocol.TypeHistory), Messages: messages})
}

func (p *presenter) Warn(text string) {
	p.send(protocol.WarningMessage{BaseMessage: p.base(protocol.TypeWarning), Message: text})
}

func (p *presenter) Fail(err error) {
	p.send(protocol.ErrorMessage{BaseMessage: p.base(protocol.TypeError), Code: errorCode(err), Message: err.Error()})
}

func (p *presenter) done() {
	p.send(protocol.DoneMessage{BaseMessage: p.base(protocol.TypeDone), Text: p.text})
}

func errorCode(err error) string {
	var failed *domain.RunFailedError
	var unknown *domain.UnknownToolError
	switch {
	case errors.Is(err, domain.ErrMissingCredential), errors.Is(err, domain.ErrCredentialMismatch):
		return protocol.ErrorCodeUnauthorized
	case errors.Is(err, domain.ErrRunInProgress):
		return protocol.ErrorCodeRunInProgress
	case errors.As(err, &failed), errors.As(err, &unknown):
		return domain.ErrorCode(err)
	default:
		return protocol.ErrorCodeInternalError
	}
}
