package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// wsConn carries one JSON envelope per WebSocket text frame. It keeps the
// connection alive with pings until closed.
type wsConn struct {
	conn           *websocket.Conn
	addr           string
	maxMessageSize int64
	log            *slog.Logger

	stop chan struct{}
	once sync.Once
}

var _ chat.Conn = (*wsConn)(nil)

func newWSConn(conn *websocket.Conn, addr string, maxMessageSize int64, logger *slog.Logger) *wsConn {
	c := &wsConn{
		conn:           conn,
		addr:           addr,
		maxMessageSize: maxMessageSize,
		log:            logger.With("remote", addr),
		stop:           make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	c.setupReadConnection()
	go c.pingLoop()
	return c
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *wsConn) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("error setting initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Debug("error setting read deadline in pong handler", "err", err)
		}
		return nil
	})
}

func (c *wsConn) ReadEnvelope() (protocol.Envelope, error) {
	for {
		kind, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return protocol.Envelope{}, err
		}
		if kind != websocket.TextMessage {
			c.log.Debug("ignoring non-text frame", "kind", kind)
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return protocol.Envelope{}, fmt.Errorf("%w: %v", chat.ErrMalformedEnvelope, err)
		}
		if env.Type == "" {
			return protocol.Envelope{}, fmt.Errorf("%w: missing type", chat.ErrMalformedEnvelope)
		}
		return env, nil
	}
}

// logReadError logs read failures at a level matching how surprising they are.
func (c *wsConn) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket error", "err", err)
	default:
		c.log.Info("websocket read error", "err", err)
	}
}

// WriteEnvelope must only be called from one goroutine at a time; the chat
// handler's writer is the only caller.
func (c *wsConn) WriteEnvelope(env protocol.Envelope) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Debug("error writing ping", "err", err)
				}
				_ = c.conn.Close()
				return
			}
		case <-c.stop:
			return
		}
	}
}

// Close sends a close frame and closes the socket. It is safe to call more
// than once.
func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && !isExpectedCloseError(werr) {
			c.log.Debug("error writing close message", "err", werr)
		}
		if cerr := c.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

func (c *wsConn) RemoteAddr() string { return c.addr }
