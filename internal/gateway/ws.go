package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mindcare-platform/chat-relay/internal/config"
	"github.com/mindcare-platform/chat-relay/internal/model"
	"github.com/mindcare-platform/chat-relay/internal/relay"
	"github.com/mindcare-platform/chat-relay/pkg/logger"
	"github.com/mindcare-platform/chat-relay/pkg/metrics"
)

// Server upgrades websocket requests and runs the read/write pumps for each
// connection. Inbound frames are dispatched to the engine synchronously, so
// one connection's events stay ordered while connections run independently.
type Server struct {
	cfg      *config.Config
	hub      *Hub
	engine   *relay.Engine
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewServer creates a websocket server.
func NewServer(cfg *config.Config, hub *Hub, engine *relay.Engine, log *logger.Logger) *Server {
	return &Server{
		cfg:    cfg,
		hub:    hub,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients connect from the web app's origin; token
				// verification is the actual trust boundary here.
				return true
			},
		},
		logger: log,
	}
}

// HandleWebSocket authenticates and upgrades the request, then serves the
// connection until the peer goes away.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(r, s.cfg.JWTSecret)
	if err != nil {
		if !errors.Is(err, errNoToken) || !s.cfg.AllowAnonymous {
			s.logger.Warn("websocket authentication failed", zap.Error(err))
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		id = anonymousIdentity()
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(id.userID, id.displayName, id.role, s.cfg.WSMessagesPerMin, s.cfg.WSMessageBurst)
	s.hub.Register(conn)
	metrics.IncrementWSConnections()

	if id.role.IsStaff() {
		if err := s.hub.JoinGroup(conn, relay.StaffBroadcastGroup); err != nil {
			s.logger.Error("failed to join staff broadcast group",
				zap.String("connection_id", conn.ID()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("websocket connected",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", conn.UserID()),
		zap.String("role", string(conn.Role())),
	)

	go s.writePump(ws, conn)
	s.readPump(r, ws, conn)
}

func (s *Server) readPump(r *http.Request, ws *websocket.Conn, conn *Conn) {
	defer func() {
		s.engine.HandleDisconnect(conn)
		s.hub.Unregister(conn)
		metrics.DecrementWSConnections()
		ws.Close()
		s.logger.Info("websocket disconnected",
			zap.String("connection_id", conn.ID()),
		)
	}()

	ws.SetReadLimit(s.cfg.WSReadLimit)
	ws.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.WSReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error",
					zap.String("connection_id", conn.ID()),
					zap.Error(err),
				)
			}
			return
		}

		if !conn.Allow() {
			s.hub.SendTo(conn, model.EventError, &model.ErrorPayload{
				Code:    model.ErrCodeRateLimited,
				Message: "too many messages, slow down",
			})
			continue
		}

		s.engine.Dispatch(r.Context(), conn, data)
	}
}

func (s *Server) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case data, ok := <-conn.send:
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(s.cfg.WSWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
