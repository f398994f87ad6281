package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server serves the chat hub over HTTP.
type Server struct {
	cfg      Config
	hub      *chat.Hub
	echo     *echo.Echo
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// New builds a Server for hub and registers all routes.
func New(cfg *Config, hub *chat.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := cfg.sanitize()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = 15 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.IdleTimeout = 60 * time.Second

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("http request", "method", v.Method, "uri", v.URI, "status", v.Status,
				"remote", v.RemoteIP, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	origins := newOriginPolicy(sanitized.AllowedOrigins, logger)
	s := &Server{
		cfg:  sanitized,
		hub:  hub,
		echo: e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		log: logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured port and blocks until the server stops.
// A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.cfg.Port)
	if err := s.echo.Start(s.cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting HTTP requests, then shuts the hub down so every
// online user is told before their connection closes.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.echo.Shutdown(ctx)
	if httpErr != nil {
		s.log.Warn("http shutdown", "err", httpErr)
	}
	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	return errors.Join(httpErr, s.hub.Shutdown(timeout))
}

func (s *Server) handleWebSocket(c echo.Context) error {
	r := c.Request()
	conn, err := s.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return nil
	}

	ws := newWSConn(conn, r.RemoteAddr, s.cfg.MaxMessageSize, s.log)
	if err := s.hub.Serve(ws); err != nil {
		s.log.Debug("connection refused", "remote", r.RemoteAddr, "err", err)
	}
	return nil
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Sessions:    s.hub.Sessions().Len(),
		Rooms:       s.hub.Rooms().Len(),
		Connections: s.hub.Connections(),
	})
}

// StateResponse is the payload for GET /api/state.
type StateResponse struct {
	Users []string            `json:"users"`
	Rooms []protocol.RoomInfo `json:"rooms"`
}

func (s *Server) handleState(c echo.Context) error {
	resp := StateResponse{
		Users: s.hub.Sessions().Identities(),
		Rooms: []protocol.RoomInfo{},
	}
	for _, name := range s.hub.Rooms().Names() {
		if room, ok := s.hub.Rooms().Get(name); ok {
			resp.Rooms = append(resp.Rooms, room.Info())
		}
	}
	return c.JSON(http.StatusOK, resp)
}
