// Package rpc exposes the gateway's server-side push over JSON-RPC, for
// backends that prefer a persistent TCP call to the internal HTTP API.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/hub"
	"github.com/xiaot623/gogo/realtime/internal/service"
)

// Server exposes gateway RPC endpoints.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *zap.Logger
	done      chan struct{}
}

// NewServer creates a new gateway RPC server.
func NewServer(svc *service.Service, logger *zap.Logger) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{svc: svc, logger: logger}
	if err := rpcServer.RegisterName("Gateway", handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds addr. It is split from Serve so callers learn about a busy
// port before starting the accept loop.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept failed", zap.Error(err))
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements gateway RPC methods.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// PushRequest asks the gateway to broadcast an event to a room.
type PushRequest struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PushResponse reports the outcome of a push. Online is only meaningful for
// user rooms and only covers this process.
type PushResponse struct {
	OK     bool `json:"ok"`
	Online bool `json:"online"`
}

// PushEvent forwards an event from another service to WebSocket clients.
func (h *Handler) PushEvent(req *PushRequest, resp *PushResponse) error {
	if req == nil {
		return errors.New("push request is required")
	}
	if err := h.svc.PushEvent(req.Room, req.Event, req.Payload); err != nil {
		// net/rpc only carries the message; keep the code in it
		return errors.New(string(domain.CodeOf(err)) + ": " + domain.MessageOf(err))
	}

	online := false
	if kind, id, _ := hub.ParseRoom(req.Room); kind == hub.KindUser {
		online = h.svc.IsOnline(id)
	}
	h.logger.Debug("event pushed",
		zap.String("room", req.Room),
		zap.String("event", req.Event),
		zap.Bool("online", online))

	if resp != nil {
		resp.OK = true
		resp.Online = online
	}
	return nil
}
