// Package server exposes the chat hub over HTTP.
//
// The implementation is split into configuration loading, origin checks, the
// WebSocket transport that carries one JSON envelope per frame, and the Echo
// routes: /ws for chat clients, /health for probes and /api/state for a
// read-only snapshot of who is online and which rooms exist.
package server
