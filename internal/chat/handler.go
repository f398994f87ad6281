package chat

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// State is a connection's position in the login state machine.
type State int32

// Connection states. StateClosed is terminal and reachable from any state.
const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultSendBuffer = 256

// HandlerConfig tunes one connection.
type HandlerConfig struct {
	// SendBuffer bounds the outbound queue; a peer that lets it fill up is
	// disconnected.
	SendBuffer int
	// RateBurst requests are allowed per RateInterval. Zero disables limiting.
	RateBurst    int
	RateInterval time.Duration
}

// Handler drives one accepted connection: it reads requests, enforces the
// login state machine, forwards authenticated requests to the router and is
// the only writer on its connection.
type Handler struct {
	ID uuid.UUID

	conn    Conn
	router  *Router
	log     *slog.Logger
	limiter *rate.Limiter

	state    atomic.Int32
	identity atomic.Value
	loginMu  sync.Mutex

	outbound   chan protocol.Envelope
	farewell   []protocol.Envelope
	done       chan struct{}
	writerDone chan struct{}
}

// NewHandler wraps conn. Call Serve to run it.
func NewHandler(conn Conn, router *Router, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}

	id := uuid.New()
	h := &Handler{
		ID:         id,
		conn:       conn,
		router:     router,
		log:        logger.With("conn_id", id.String(), "remote", conn.RemoteAddr()),
		outbound:   make(chan protocol.Envelope, cfg.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	if cfg.RateBurst > 0 {
		interval := cfg.RateInterval
		if interval <= 0 {
			interval = time.Second
		}
		h.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateBurst)/interval.Seconds()), cfg.RateBurst)
	}
	h.identity.Store("")
	return h
}

// State returns the current connection state.
func (h *Handler) State() State {
	return State(h.state.Load())
}

// Identity returns the authenticated username, or "" before login.
func (h *Handler) Identity() string {
	return h.identity.Load().(string)
}

// Closed reports whether the handler has started tearing down.
func (h *Handler) Closed() bool {
	return h.State() == StateClosed
}

// Send queues env for the writer. A full queue means the peer is not keeping
// up; the handler is then closed and env dropped.
func (h *Handler) Send(env protocol.Envelope) bool {
	if h.Closed() {
		return false
	}
	select {
	case h.outbound <- env:
		return true
	default:
		h.log.Warn("outbound queue full, closing slow connection", "user", h.Identity())
		go h.Close()
		return false
	}
}

// Serve runs the connection until the peer goes away or the handler is
// closed. It returns after the transport has been closed.
func (h *Handler) Serve() {
	if !h.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticating)) {
		_ = h.conn.Close()
		return
	}

	go h.writePump()
	h.readPump()

	h.Close()
	<-h.writerDone
}

// Close moves the handler to StateClosed exactly once. The first caller
// removes the identity from every room and from the session registry, then
// lets the writer flush what is queued plus farewell before the transport is
// closed. Later calls are no-ops.
func (h *Handler) Close(farewell ...protocol.Envelope) {
	for {
		current := h.state.Load()
		if State(current) == StateClosed {
			return
		}
		if h.state.CompareAndSwap(current, int32(StateClosed)) {
			break
		}
	}

	// Wait out an in-flight login so its registration is cleaned up too.
	h.loginMu.Lock()
	identity := h.Identity()
	h.loginMu.Unlock()

	h.router.Disconnect(identity, h)

	h.farewell = farewell
	close(h.done)
	h.log.Debug("connection closed", "user", identity)
}

func (h *Handler) readPump() {
	for {
		env, err := h.conn.ReadEnvelope()
		if err != nil {
			if errors.Is(err, ErrMalformedEnvelope) {
				h.log.Debug("malformed envelope", "err", err)
				h.Send(protocol.Error("malformed envelope"))
				continue
			}
			if !h.Closed() {
				h.log.Debug("read ended", "err", err, "user", h.Identity())
			}
			return
		}
		if h.Closed() {
			return
		}
		if h.limiter != nil && !h.limiter.Allow() {
			h.log.Warn("rate limit exceeded, discarding request", "type", env.Type, "user", h.Identity())
			h.Send(protocol.Error("rate limit exceeded, request discarded"))
			continue
		}
		h.handle(env)
	}
}

func (h *Handler) handle(env protocol.Envelope) {
	if !env.Type.IsRequest() {
		h.log.Warn("dropping unrecognized envelope", "type", env.Type, "user", h.Identity())
		return
	}

	switch h.State() {
	case StateAuthenticating:
		if env.Type != protocol.TypeLoginRequest {
			h.Send(protocol.Error("please log in first"))
			return
		}
		h.login(env)
	case StateAuthenticated:
		h.router.Dispatch(h, env)
	}
}

func (h *Handler) login(env protocol.Envelope) {
	h.loginMu.Lock()
	defer h.loginMu.Unlock()

	identity, ok := h.router.Login(h, env)
	if !ok {
		return
	}
	h.identity.Store(identity)
	h.state.CompareAndSwap(int32(StateAuthenticating), int32(StateAuthenticated))
}

func (h *Handler) writePump() {
	defer close(h.writerDone)
	defer h.closeConn()

	for {
		select {
		case env := <-h.outbound:
			if !h.write(env) {
				h.Close()
				return
			}
		case <-h.done:
			h.flush()
			return
		}
	}
}

// flush writes whatever is still queued, then the farewell envelopes.
func (h *Handler) flush() {
	for {
		select {
		case env := <-h.outbound:
			if !h.write(env) {
				return
			}
		default:
			for _, env := range h.farewell {
				if !h.write(env) {
					return
				}
			}
			return
		}
	}
}

func (h *Handler) write(env protocol.Envelope) bool {
	if err := h.conn.WriteEnvelope(env); err != nil {
		h.log.Debug("write failed", "type", env.Type, "err", err)
		return false
	}
	return true
}

func (h *Handler) closeConn() {
	if err := h.conn.Close(); err != nil {
		h.log.Debug("error closing transport", "err", err)
	}
}
