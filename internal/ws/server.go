// Package ws provides WebSocket server functionality for client connections.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/auth"
	"github.com/xiaot623/gogo/realtime/internal/config"
	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/hub"
	"github.com/xiaot623/gogo/realtime/internal/protocol"
	"github.com/xiaot623/gogo/realtime/internal/service"
)

// handleTimeout bounds the store and policy work of a single inbound event.
const handleTimeout = 10 * time.Second

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	auth     *auth.Authenticator
	svc      *service.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, authn *auth.Authenticator, svc *service.Service, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		auth:   authn,
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// browsers connect from the storefront and the staff console
				return true
			},
		},
	}
}

// Register mounts the WebSocket endpoint on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// credential returns the bearer token from the Authorization header, or the
// token query parameter browsers fall back to.
func credential(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// HandleWebSocket authenticates the handshake, upgrades it and starts the
// connection's pumps. Unauthenticated handshakes never reach the hub.
func (s *Server) HandleWebSocket(c echo.Context) error {
	principal, err := s.auth.Authenticate(c.Request().Context(), credential(c.Request()))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"code":    string(domain.CodeOf(err)),
			"message": domain.MessageOf(err),
		})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return nil
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	conn := s.svc.Hub().NewConnection(ws, principal)
	s.svc.Connect(c.Request().Context(), conn)

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump reads events until the socket fails, then runs the disconnect
// path exactly once.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.svc.Disconnect(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout()))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout()))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		s.handleMessage(conn, message)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval())
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout()))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("websocket write failed", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout()))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes and runs one event. Events of a connection are
// handled in arrival order.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.sendError(conn, "", domain.Invalid("%s", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := s.svc.Handle(ctx, conn, msg); err != nil {
		s.sendError(conn, msg.Base().RequestID, err)
	}
}

func (s *Server) sendError(conn *hub.Connection, requestID string, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) || derr.Code == domain.CodeInternal {
		s.logger.Error("event failed",
			zap.String("conn_id", conn.ID),
			zap.String("principal_id", conn.Principal.ID),
			zap.Error(err))
	}
	if err := s.svc.Hub().SendJSONToConnection(conn, protocol.NewError(requestID, err)); err != nil {
		s.logger.Debug("error frame dropped", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}
