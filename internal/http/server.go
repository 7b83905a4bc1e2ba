// Package http provides the internal HTTP server for the gateway.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/realtime/internal/auth"
	"github.com/xiaot623/gogo/realtime/internal/domain"
	"github.com/xiaot623/gogo/realtime/internal/service"
)

// Server is the internal HTTP server: health, stats, server-side pushes and
// message history.
type Server struct {
	echo   *echo.Echo
	svc    *service.Service
	auth   *auth.Authenticator
	logger *zap.Logger
}

// NewServer creates a new internal HTTP server.
func NewServer(svc *service.Service, authn *auth.Authenticator, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		svc:    svc,
		auth:   authn,
		logger: logger,
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	e.GET("/internal/stats", s.handleStats)
	e.GET("/internal/presence/:id", s.handlePresence)
	e.POST("/internal/rooms/:room/events", s.handlePushEvent)
	e.GET("/v1/conversations/:id/messages", s.handleHistory)

	return s
}

// RequestLogger logs one line per request through zap.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// statusOf maps a gateway error code onto an HTTP status.
func statusOf(code domain.ErrorCode) int {
	switch code {
	case domain.CodeAuthentication:
		return http.StatusUnauthorized
	case domain.CodeAuthorization:
		return http.StatusForbidden
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	code := domain.CodeOf(err)
	if code == domain.CodeInternal {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(statusOf(code), map[string]string{
		"code":    string(code),
		"message": domain.MessageOf(err),
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	stats := s.svc.Stats()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"node":        s.svc.Hub().Node(),
		"connections": stats.Connections,
		"principals":  stats.Principals,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Stats())
}

func (s *Server) handlePresence(c echo.Context) error {
	id := c.Param("id")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"principalId": id,
		"online":      s.svc.IsOnline(id),
	})
}

// PushRequest represents the request body for POST /internal/rooms/:room/events.
type PushRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// handlePushEvent forwards an event produced by another service to a room.
func (s *Server) handlePushEvent(c echo.Context) error {
	var req PushRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, domain.Invalid("invalid request body"))
	}
	room := c.Param("room")
	if err := s.svc.PushEvent(room, req.Event, req.Payload); err != nil {
		return s.fail(c, err)
	}
	s.logger.Debug("event pushed", zap.String("room", room), zap.String("event", req.Event))
	return c.JSON(http.StatusAccepted, map[string]bool{"ok": true})
}

// handleHistory returns a page of conversation messages, oldest first.
// Query: limit (default 50) and before (RFC 3339).
func (s *Server) handleHistory(c echo.Context) error {
	p, err := s.auth.Authenticate(c.Request().Context(), auth.BearerToken(c.Request().Header.Get("Authorization")))
	if err != nil {
		return s.fail(c, err)
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return s.fail(c, domain.Invalid("limit must be a non-negative integer"))
		}
	}
	var before time.Time
	if raw := c.QueryParam("before"); raw != "" {
		if before, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return s.fail(c, domain.Invalid("before must be an RFC 3339 timestamp"))
		}
	}

	msgs, err := s.svc.History(c.Request().Context(), p, c.Param("id"), limit, before)
	if err != nil {
		return s.fail(c, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": msgs})
}
