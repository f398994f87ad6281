package chat

import "errors"

// Registry and room errors. The router maps each one onto a failure envelope;
// none of them ends a connection.
var (
	ErrIdentityTaken     = errors.New("identity already online")
	ErrRegistryClosed    = errors.New("registry closed")
	ErrRoomExists        = errors.New("room name in use")
	ErrRoomNotFound      = errors.New("room not found")
	ErrWrongPassword     = errors.New("wrong room password")
	ErrAlreadyMember     = errors.New("already a member")
	ErrNotMember         = errors.New("not a member")
	ErrNotCreator        = errors.New("only the room creator may do that")
	ErrInvalidName       = errors.New("names must be 1 to 32 letters, digits or underscores")
	ErrInvalidPassword   = errors.New("passwords may only contain letters, digits and underscore")
	ErrPeerClosed        = errors.New("connection closed")
	ErrMalformedEnvelope = errors.New("malformed envelope")
)
