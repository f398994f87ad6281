// Package chat is the session and room registry and message-routing core of
// the chat service. It tracks who is online, which rooms exist and who is in
// them, validates every inbound request against that state, and fans the
// resulting envelopes out to the right connections.
//
// The core never touches sockets directly: transports implement Conn, and
// every accepted connection is driven by its own Handler.
package chat

import "github.com/Tyrowin/roomchat/internal/protocol"

// Conn is the transport contract for one accepted connection.
//
// ReadEnvelope blocks until the next envelope arrives and fails once the peer
// is gone. A decode failure that leaves the stream usable is reported by
// wrapping ErrMalformedEnvelope. WriteEnvelope blocks until the envelope is
// written. Close must unblock pending reads and writes.
type Conn interface {
	ReadEnvelope() (protocol.Envelope, error)
	WriteEnvelope(env protocol.Envelope) error
	Close() error
	RemoteAddr() string
}

// Peer is how the registries and the router see a connection.
type Peer interface {
	// Identity is the authenticated username, empty before login.
	Identity() string
	// Send queues env for delivery and reports whether it was accepted.
	// It never blocks.
	Send(env protocol.Envelope) bool
	// Closed reports whether the connection has started tearing down.
	Closed() bool
	// Close tears the connection down once. A farewell envelope, if given,
	// is the last thing written before the transport closes.
	Close(farewell ...protocol.Envelope)
}
