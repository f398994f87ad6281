package chat

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"golang.org/x/crypto/bcrypt"
)

// HistoryLimit is how many broadcasts a room remembers.
const HistoryLimit = 100

// passwordCost is the bcrypt cost for room passwords. Only the hash is held,
// so room snapshots and logs never carry a usable password; matching is still
// exact. Each check costs tens of milliseconds on the caller's goroutine.
var passwordCost = bcrypt.DefaultCost

// Room is one named broadcast group.
//
// mu serializes membership, history and teardown, so every membership change
// and the notifications it causes happen as one step for observers of this
// room. The password has its own lock and is never half-updated for readers.
type Room struct {
	name      string
	creator   string
	createdAt time.Time

	mu        sync.Mutex
	members   map[string]struct{}
	history   []protocol.Envelope
	destroyed bool

	pwMu     sync.RWMutex
	password []byte
}

// NewRoom validates name and password and returns an empty room.
func NewRoom(name, creator, password string) (*Room, error) {
	if !protocol.IsValidName(name) {
		return nil, ErrInvalidName
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Room{
		name:      name,
		creator:   creator,
		createdAt: time.Now(),
		members:   make(map[string]struct{}),
		password:  hash,
	}, nil
}

func hashPassword(password string) ([]byte, error) {
	if !protocol.IsValidPassword(password) {
		return nil, ErrInvalidPassword
	}
	if password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash room password: %w", err)
	}
	return hash, nil
}

// Name returns the room's unique name.
func (r *Room) Name() string { return r.name }

// Creator returns the identity that created the room.
func (r *Room) Creator() string { return r.creator }

// CreatedAt returns the creation time.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// AddMember adds identity and reports whether membership grew.
func (r *Room) AddMember(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(identity)
}

func (r *Room) addLocked(identity string) bool {
	if r.destroyed {
		return false
	}
	if _, ok := r.members[identity]; ok {
		return false
	}
	r.members[identity] = struct{}{}
	return true
}

// RemoveMember removes identity and reports whether it was a member.
func (r *Room) RemoveMember(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(identity)
}

func (r *Room) removeLocked(identity string) bool {
	if _, ok := r.members[identity]; !ok {
		return false
	}
	delete(r.members, identity)
	return true
}

// HasMember reports whether identity is in the room.
func (r *Room) HasMember(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[identity]
	return ok
}

// IsEmpty reports whether the room has no members.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

// Len returns the member count.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members returns a sorted snapshot of the member identities.
func (r *Room) Members() []string {
	r.mu.Lock()
	members := r.snapshotLocked()
	r.mu.Unlock()

	slices.Sort(members)
	return members
}

func (r *Room) snapshotLocked() []string {
	members := make([]string, 0, len(r.members))
	for id := range r.members {
		members = append(members, id)
	}
	return members
}

// ValidatePassword reports whether candidate opens the room. A room without
// a password accepts anything.
func (r *Room) ValidatePassword(candidate string) bool {
	r.pwMu.RLock()
	defer r.pwMu.RUnlock()

	if r.password == nil {
		return true
	}
	if candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(r.password, []byte(candidate)) == nil
}

// HasPassword reports whether the room is password protected.
func (r *Room) HasPassword() bool {
	r.pwMu.RLock()
	defer r.pwMu.RUnlock()
	return r.password != nil
}

// SetPassword replaces the password on behalf of requester. An empty
// password clears it.
func (r *Room) SetPassword(requester, password string) error {
	if requester != r.creator {
		return ErrNotCreator
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	r.pwMu.Lock()
	r.password = hash
	r.pwMu.Unlock()
	return nil
}

// ChangePassword is SetPassword reporting only success.
func (r *Room) ChangePassword(requester, password string) bool {
	return r.SetPassword(requester, password) == nil
}

// AppendHistory records env, evicting the oldest entry past HistoryLimit.
func (r *Room) AppendHistory(env protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(env)
}

func (r *Room) appendLocked(env protocol.Envelope) {
	if len(r.history) < HistoryLimit {
		r.history = append(r.history, env)
		return
	}
	copy(r.history, r.history[1:])
	r.history[len(r.history)-1] = env
}

// RecentHistory returns up to n of the latest entries, oldest first.
func (r *Room) RecentHistory(n int) []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recentLocked(n)
}

func (r *Room) recentLocked(n int) []protocol.Envelope {
	if n <= 0 || len(r.history) == 0 {
		return nil
	}
	n = min(n, len(r.history))
	out := make([]protocol.Envelope, n)
	copy(out, r.history[len(r.history)-n:])
	return out
}

// Info returns the ROOM_INFO_RESPONSE payload for the room.
func (r *Room) Info() protocol.RoomInfo {
	return protocol.RoomInfo{
		Name:      r.name,
		Creator:   r.creator,
		CreatedAt: r.createdAt,
		Members:   r.Members(),
	}
}

// Join admits p after checking the password. While the room is still locked
// it hands deliver the new membership and up to replay of the latest history
// entries, so the joiner sees nothing broadcast in between.
func (r *Room) Join(p Peer, password string, replay int, deliver func(members []string, recent []protocol.Envelope)) error {
	if !r.ValidatePassword(password) {
		return ErrWrongPassword
	}

	identity := p.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return ErrRoomNotFound
	}
	if p.Closed() {
		return ErrPeerClosed
	}
	if !r.addLocked(identity) {
		return ErrAlreadyMember
	}
	deliver(r.snapshotLocked(), r.recentLocked(replay))
	return nil
}

// Leave removes identity and calls deliver with the remaining members while
// the room is still locked. It reports whether the room is now empty.
func (r *Room) Leave(identity string, deliver func(members []string)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removeLocked(identity) {
		return false, ErrNotMember
	}
	deliver(r.snapshotLocked())
	return len(r.members) == 0, nil
}

// Broadcast records env in history and hands the current membership to
// deliver, provided sender is a member.
func (r *Room) Broadcast(sender string, env protocol.Envelope, deliver func(members []string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return ErrRoomNotFound
	}
	if _, ok := r.members[sender]; !ok {
		return ErrNotMember
	}
	r.appendLocked(env)
	deliver(r.snapshotLocked())
	return nil
}

// destroyIfEmpty marks the room destroyed when it has no members.
func (r *Room) destroyIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) != 0 {
		return false
	}
	r.destroyed = true
	return true
}
