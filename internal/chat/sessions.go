package chat

import (
	"slices"
	"sync"
)

// SessionRegistry maps an online identity to its connection. It is the only
// place that decides who is online.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Peer
	closed   bool
}

// NewSessionRegistry returns an empty, open registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]Peer)}
}

// Register binds identity to p if no session holds that identity yet.
// A failed call leaves the registry unchanged.
func (r *SessionRegistry) Register(identity string, p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.sessions[identity]; exists {
		return ErrIdentityTaken
	}
	r.sessions[identity] = p
	return nil
}

// Unregister removes identity and returns the peer that held it.
func (r *SessionRegistry) Unregister(identity string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.sessions[identity]
	if ok {
		delete(r.sessions, identity)
	}
	return p, ok
}

// Release removes identity only while it is still bound to p.
func (r *SessionRegistry) Release(identity string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[identity]; ok && current == p {
		delete(r.sessions, identity)
		return true
	}
	return false
}

// Lookup returns the peer bound to identity.
func (r *SessionRegistry) Lookup(identity string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.sessions[identity]
	return p, ok
}

// Owns reports whether identity is currently bound to p.
func (r *SessionRegistry) Owns(identity string, p Peer) bool {
	current, ok := r.Lookup(identity)
	return ok && current == p
}

// Identities returns a sorted point-in-time copy of the online identities.
func (r *SessionRegistry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Peers returns a point-in-time copy of every online peer.
func (r *SessionRegistry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, 0, len(r.sessions))
	for _, p := range r.sessions {
		peers = append(peers, p)
	}
	return peers
}

// Len returns the number of online sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain closes the registry to new sessions, empties it and returns the
// peers that were registered.
func (r *SessionRegistry) Drain() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	peers := make([]Peer, 0, len(r.sessions))
	for id, p := range r.sessions {
		peers = append(peers, p)
		delete(r.sessions, id)
	}
	return peers
}

// Closed reports whether Drain has been called.
func (r *SessionRegistry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
