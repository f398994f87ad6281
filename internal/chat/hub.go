package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// ErrHubClosed is returned by Serve once shutdown has begun.
var ErrHubClosed = errors.New("hub is shut down")

// Options configures a Hub.
type Options struct {
	Handler       HandlerConfig
	HistoryReplay int
	Logger        *slog.Logger
}

// Hub owns the registries and every live connection handler, and coordinates
// shutdown.
type Hub struct {
	sessions *SessionRegistry
	rooms    *RoomRegistry
	router   *Router
	cfg      HandlerConfig
	log      *slog.Logger

	mu       sync.Mutex
	handlers map[*Handler]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// NewHub creates a hub with empty registries.
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := NewSessionRegistry()
	rooms := NewRoomRegistry()
	return &Hub{
		sessions: sessions,
		rooms:    rooms,
		router:   NewRouter(sessions, rooms, opts.HistoryReplay, logger),
		cfg:      opts.Handler,
		log:      logger,
		handlers: make(map[*Handler]struct{}),
	}
}

// Sessions exposes the session registry.
func (h *Hub) Sessions() *SessionRegistry { return h.sessions }

// Rooms exposes the room registry.
func (h *Hub) Rooms() *RoomRegistry { return h.rooms }

// Serve runs a handler for conn and blocks until the connection ends.
func (h *Hub) Serve(conn Conn) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrHubClosed
	}
	handler := NewHandler(conn, h.router, h.cfg, h.log)
	h.handlers[handler] = struct{}{}
	count := len(h.handlers)
	h.wg.Add(1)
	h.mu.Unlock()

	h.log.Info("connection accepted", "conn_id", handler.ID.String(), "remote", conn.RemoteAddr(), "connections", count)

	defer func() {
		h.mu.Lock()
		delete(h.handlers, handler)
		count := len(h.handlers)
		h.mu.Unlock()
		h.wg.Done()
		h.log.Info("connection finished", "conn_id", handler.ID.String(), "connections", count)
	}()

	handler.Serve()
	return nil
}

// Connections returns the number of live handlers, authenticated or not.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers)
}

// Shutdown tells every online session the server is going away, closes all
// connections and empties both registries. It waits up to timeout for the
// handlers to finish and returns context.DeadlineExceeded if they do not.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	handlers := make([]*Handler, 0, len(h.handlers))
	for handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.Unlock()

	h.log.Info("initiating hub shutdown", "connections", len(handlers))

	notice := protocol.System(protocol.TypeServerShutdownNotification, "server is shutting down")
	peers := h.sessions.Drain()
	for _, p := range peers {
		p.Close(notice)
	}
	for _, handler := range handlers {
		handler.Close()
	}
	h.rooms.Clear()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed", "sessions_notified", len(peers))
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}
}
