package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Router applies the protocol rules to one inbound request at a time. It
// keeps no per-request state; everything lives in the registries.
type Router struct {
	sessions *SessionRegistry
	rooms    *RoomRegistry
	replay   int
	log      *slog.Logger
}

// NewRouter builds a router over the given registries. replay is how many
// history entries a joiner is sent.
func NewRouter(sessions *SessionRegistry, rooms *RoomRegistry, replay int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if replay < 0 {
		replay = 0
	}
	return &Router{
		sessions: sessions,
		rooms:    rooms,
		replay:   min(replay, HistoryLimit),
		log:      logger,
	}
}

// Login registers p under the name carried in req.Sender and answers with
// LOGIN_SUCCESS, or with the matching failure. It returns the registered
// identity on success. p.Identity is not consulted.
func (rt *Router) Login(p Peer, req protocol.Envelope) (string, bool) {
	name := req.Sender
	if !protocol.IsValidName(name) {
		p.Send(protocol.Error(ErrInvalidName.Error()))
		return "", false
	}

	switch err := rt.sessions.Register(name, p); {
	case errors.Is(err, ErrIdentityTaken):
		p.Send(protocol.System(protocol.TypeLoginFailureUsernameTaken,
			fmt.Sprintf("username '%s' is taken, please choose another", name)))
		return "", false
	case errors.Is(err, ErrRegistryClosed):
		p.Send(protocol.Error("server is shutting down"))
		return "", false
	case err != nil:
		p.Send(protocol.Error(err.Error()))
		return "", false
	}

	success := protocol.System(protocol.TypeLoginSuccess, "login successful")
	success.Receiver = name
	success.Users = rt.sessions.Identities()
	success.Rooms = rt.rooms.Names()
	p.Send(success)

	joined := protocol.System(protocol.TypeUserJoinedNotification, fmt.Sprintf("%s is online", name))
	joined.Sender = name
	rt.broadcastAll(joined, p)

	rt.log.Info("user logged in", "user", name, "online", rt.sessions.Len())
	return name, true
}

// Dispatch routes a request from an authenticated peer.
func (rt *Router) Dispatch(p Peer, req protocol.Envelope) {
	switch req.Type {
	case protocol.TypeLoginRequest:
		p.Send(protocol.Error("already logged in"))
	case protocol.TypePrivateMessageRequest:
		rt.privateMessage(p, req)
	case protocol.TypeUserListRequest:
		resp := protocol.System(protocol.TypeUserListResponse, "")
		resp.Users = rt.sessions.Identities()
		p.Send(resp)
	case protocol.TypeListRoomsRequest:
		resp := protocol.System(protocol.TypeListRoomsResponse, "")
		resp.Rooms = rt.rooms.Names()
		p.Send(resp)
	case protocol.TypeCreateRoomRequest:
		rt.createRoom(p, req)
	case protocol.TypeJoinRoomRequest:
		rt.joinRoom(p, req)
	case protocol.TypeLeaveRoomRequest:
		rt.leaveRoom(p, req)
	case protocol.TypeRoomMessageRequest:
		rt.roomMessage(p, req)
	case protocol.TypeRoomInfoRequest:
		rt.roomInfo(p, req)
	case protocol.TypeChangeRoomPasswordRequest:
		rt.changePassword(p, req)
	case protocol.TypeLogoutRequest:
		rt.log.Info("user logged out", "user", p.Identity())
		p.Close(protocol.System(protocol.TypeLogoutConfirmation, "you have been logged out"))
	default:
		rt.log.Warn("dropping unrecognized envelope", "type", req.Type, "user", p.Identity())
	}
}

// Disconnect removes identity from every room it is in and unregisters it,
// announcing the departure. It does nothing if identity now belongs to a
// different connection.
func (rt *Router) Disconnect(identity string, p Peer) {
	if identity == "" {
		return
	}
	if !rt.sessions.Owns(identity, p) && !rt.sessions.Closed() {
		return
	}

	for _, room := range rt.rooms.RoomsOf(identity) {
		rt.leave(identity, room)
	}

	if rt.sessions.Release(identity, p) {
		left := protocol.System(protocol.TypeUserLeftNotification, fmt.Sprintf("%s went offline", identity))
		left.Sender = identity
		rt.broadcastAll(left, nil)
		rt.log.Info("user disconnected", "user", identity, "online", rt.sessions.Len())
	}
}

func (rt *Router) privateMessage(p Peer, req protocol.Envelope) {
	sender := p.Identity()
	target, ok := rt.sessions.Lookup(req.Receiver)
	if !ok {
		p.Send(protocol.Error(fmt.Sprintf("user %s not found or offline", req.Receiver)))
		return
	}

	delivery := protocol.Envelope{
		Type:      protocol.TypePrivateMessageDelivery,
		Sender:    sender,
		Receiver:  req.Receiver,
		Content:   req.Content,
		Timestamp: stamp(req),
	}
	target.Send(delivery)
	if target != p {
		p.Send(delivery)
	}
}

func (rt *Router) createRoom(p Peer, req protocol.Envelope) {
	creator := p.Identity()
	room, err := rt.rooms.Create(req.Room, creator, req.Password)
	if err != nil {
		if !errors.Is(err, ErrRoomExists) && !errors.Is(err, ErrInvalidName) && !errors.Is(err, ErrInvalidPassword) {
			rt.log.Error("create room", "room", req.Room, "user", creator, "err", err)
		}
		failure := protocol.System(protocol.TypeCreateRoomFailure, fmt.Sprintf("cannot create room '%s': %v", req.Room, err))
		failure.Room = req.Room
		p.Send(failure)
		return
	}

	announce := func() {
		created := protocol.System(protocol.TypeRoomCreatedNotification, fmt.Sprintf("room '%s' was created by %s", room.Name(), creator))
		created.Room = room.Name()
		rt.broadcastAll(created, nil)
	}
	if err := rt.admit(p, room, req.Password, announce); err != nil {
		rt.rooms.RemoveIfEmpty(room)
		if errors.Is(err, ErrPeerClosed) {
			return
		}
		failure := protocol.System(protocol.TypeCreateRoomFailure, fmt.Sprintf("cannot create room '%s': %v", req.Room, err))
		failure.Room = req.Room
		p.Send(failure)
		return
	}

	success := protocol.System(protocol.TypeCreateRoomSuccess, fmt.Sprintf("room '%s' created", room.Name()))
	success.Room = room.Name()
	p.Send(success)

	rt.log.Info("room created", "room", room.Name(), "user", creator, "rooms", rt.rooms.Len())
}

func (rt *Router) joinRoom(p Peer, req protocol.Envelope) {
	fail := func(reason string) {
		failure := protocol.System(protocol.TypeJoinRoomFailure, fmt.Sprintf("cannot join room '%s': %s", req.Room, reason))
		failure.Room = req.Room
		p.Send(failure)
	}

	if !protocol.IsValidName(req.Room) {
		fail(ErrInvalidName.Error())
		return
	}
	room, ok := rt.rooms.Get(req.Room)
	if !ok {
		fail(ErrRoomNotFound.Error())
		return
	}
	if err := rt.admit(p, room, req.Password, nil); err != nil && !errors.Is(err, ErrPeerClosed) {
		fail(err.Error())
	}
}

// admit joins p to room. The join notice, the joiner's success reply and the
// history replay are queued while the room is locked. announce, when set, runs
// first under the same lock.
func (rt *Router) admit(p Peer, room *Room, password string, announce func()) error {
	identity := p.Identity()
	return room.Join(p, password, rt.replay, func(members []string, recent []protocol.Envelope) {
		if announce != nil {
			announce()
		}

		notice := protocol.System(protocol.TypeUserJoinedRoomNotification, fmt.Sprintf("%s joined the room", identity))
		notice.Room = room.Name()
		notice.Sender = identity
		rt.deliver(members, notice)

		success := protocol.System(protocol.TypeJoinRoomSuccess, fmt.Sprintf("joined room '%s'", room.Name()))
		success.Room = room.Name()
		success.Users = sortedCopy(members)
		p.Send(success)

		if len(recent) > 0 {
			history := protocol.System(protocol.TypeRoomHistoryResponse, "")
			history.Room = room.Name()
			history.History = recent
			p.Send(history)
		}
	})
}

func (rt *Router) leaveRoom(p Peer, req protocol.Envelope) {
	room, ok := rt.rooms.Get(req.Room)
	if !ok {
		return
	}
	if !rt.leave(p.Identity(), room) {
		return
	}
	success := protocol.System(protocol.TypeLeaveRoomSuccess, fmt.Sprintf("left room '%s'", room.Name()))
	success.Room = room.Name()
	p.Send(success)
}

// leave removes identity from room, notifies the remaining members and
// destroys the room if that emptied it.
func (rt *Router) leave(identity string, room *Room) bool {
	empty, err := room.Leave(identity, func(members []string) {
		notice := protocol.System(protocol.TypeUserLeftRoomNotification, fmt.Sprintf("%s left the room", identity))
		notice.Room = room.Name()
		notice.Sender = identity
		rt.deliver(members, notice)
	})
	if err != nil {
		return false
	}

	if empty && rt.rooms.RemoveIfEmpty(room) {
		destroyed := protocol.System(protocol.TypeRoomDestroyedNotification,
			fmt.Sprintf("room '%s' was destroyed (no active users)", room.Name()))
		destroyed.Room = room.Name()
		rt.broadcastAll(destroyed, nil)
		rt.log.Info("room destroyed", "room", room.Name(), "rooms", rt.rooms.Len())
	}
	return true
}

func (rt *Router) roomMessage(p Peer, req protocol.Envelope) {
	if req.Room == "" {
		p.Send(protocol.Error("room message is missing a room name"))
		return
	}
	room, ok := rt.rooms.Get(req.Room)
	if !ok {
		p.Send(protocol.Error(fmt.Sprintf("room '%s' not found", req.Room)))
		return
	}

	sender := p.Identity()
	broadcast := protocol.Envelope{
		Type:      protocol.TypeRoomMessageBroadcast,
		Sender:    sender,
		Room:      room.Name(),
		Content:   req.Content,
		Timestamp: stamp(req),
	}
	err := room.Broadcast(sender, broadcast, func(members []string) {
		rt.deliver(members, broadcast)
	})
	switch {
	case errors.Is(err, ErrNotMember):
		p.Send(protocol.Error(fmt.Sprintf("you are not a member of room '%s'", req.Room)))
	case errors.Is(err, ErrRoomNotFound):
		p.Send(protocol.Error(fmt.Sprintf("room '%s' not found", req.Room)))
	}
}

func (rt *Router) roomInfo(p Peer, req protocol.Envelope) {
	room, ok := rt.rooms.Get(req.Room)
	if !ok {
		p.Send(protocol.Error(fmt.Sprintf("room info failed: room '%s' not found", req.Room)))
		return
	}
	info := room.Info()
	resp := protocol.System(protocol.TypeRoomInfoResponse, "")
	resp.Room = room.Name()
	resp.RoomInfo = &info
	p.Send(resp)
}

func (rt *Router) changePassword(p Peer, req protocol.Envelope) {
	fail := func(reason string) {
		failure := protocol.System(protocol.TypeChangeRoomPasswordFailure,
			fmt.Sprintf("cannot change password of room '%s': %s", req.Room, reason))
		failure.Room = req.Room
		p.Send(failure)
	}

	room, ok := rt.rooms.Get(req.Room)
	if !ok {
		fail(ErrRoomNotFound.Error())
		return
	}
	if err := room.SetPassword(p.Identity(), req.Password); err != nil {
		fail(err.Error())
		return
	}

	content := fmt.Sprintf("password of room '%s' updated", room.Name())
	if req.Password == "" {
		content = fmt.Sprintf("password of room '%s' removed", room.Name())
	}
	success := protocol.System(protocol.TypeChangeRoomPasswordSuccess, content)
	success.Room = room.Name()
	p.Send(success)
}

// deliver sends env to every listed identity that is still online.
func (rt *Router) deliver(identities []string, env protocol.Envelope) {
	for _, id := range identities {
		if p, ok := rt.sessions.Lookup(id); ok {
			p.Send(env)
		}
	}
}

// broadcastAll sends env to every online session except skip.
func (rt *Router) broadcastAll(env protocol.Envelope, skip Peer) {
	for _, p := range rt.sessions.Peers() {
		if p != skip {
			p.Send(env)
		}
	}
}

// stamp keeps the client's timestamp when it sent one.
func stamp(req protocol.Envelope) time.Time {
	if req.Timestamp.IsZero() {
		return time.Now()
	}
	return req.Timestamp
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	slices.Sort(out)
	return out
}
