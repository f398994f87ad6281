// Package protocol defines the JSON envelope exchanged between chat clients
// and the server, the closed set of message types, and the identifier rules
// shared by usernames, room names and room passwords.
package protocol

import "time"

// Type tags an Envelope. The set is closed; the server ignores any value not
// listed below.
type Type string

// Login.
const (
	TypeLoginRequest              Type = "LOGIN_REQUEST"
	TypeLoginSuccess              Type = "LOGIN_SUCCESS"
	TypeLoginFailureUsernameTaken Type = "LOGIN_FAILURE_USERNAME_TAKEN"
)

// Direct messaging and presence.
const (
	TypePrivateMessageRequest  Type = "PRIVATE_MESSAGE_REQUEST"
	TypePrivateMessageDelivery Type = "PRIVATE_MESSAGE_DELIVERY"
	TypeUserListRequest        Type = "USER_LIST_REQUEST"
	TypeUserListResponse       Type = "USER_LIST_RESPONSE"
	TypeUserJoinedNotification Type = "USER_JOINED_NOTIFICATION"
	TypeUserLeftNotification   Type = "USER_LEFT_NOTIFICATION"
)

// Session end.
const (
	TypeLogoutRequest              Type = "LOGOUT_REQUEST"
	TypeLogoutConfirmation         Type = "LOGOUT_CONFIRMATION"
	TypeServerShutdownNotification Type = "SERVER_SHUTDOWN_NOTIFICATION"
)

// Rooms.
const (
	TypeCreateRoomRequest          Type = "CREATE_ROOM_REQUEST"
	TypeCreateRoomSuccess          Type = "CREATE_ROOM_SUCCESS"
	TypeCreateRoomFailure          Type = "CREATE_ROOM_FAILURE"
	TypeJoinRoomRequest            Type = "JOIN_ROOM_REQUEST"
	TypeJoinRoomSuccess            Type = "JOIN_ROOM_SUCCESS"
	TypeJoinRoomFailure            Type = "JOIN_ROOM_FAILURE"
	TypeLeaveRoomRequest           Type = "LEAVE_ROOM_REQUEST"
	TypeLeaveRoomSuccess           Type = "LEAVE_ROOM_SUCCESS"
	TypeRoomMessageRequest         Type = "ROOM_MESSAGE_REQUEST"
	TypeRoomMessageBroadcast       Type = "ROOM_MESSAGE_BROADCAST"
	TypeListRoomsRequest           Type = "LIST_ROOMS_REQUEST"
	TypeListRoomsResponse          Type = "LIST_ROOMS_RESPONSE"
	TypeUserJoinedRoomNotification Type = "USER_JOINED_ROOM_NOTIFICATION"
	TypeUserLeftRoomNotification   Type = "USER_LEFT_ROOM_NOTIFICATION"
	TypeRoomCreatedNotification    Type = "ROOM_CREATED_NOTIFICATION"
	TypeRoomDestroyedNotification  Type = "ROOM_DESTROYED_NOTIFICATION"
	TypeRoomInfoRequest            Type = "ROOM_INFO_REQUEST"
	TypeRoomInfoResponse           Type = "ROOM_INFO_RESPONSE"
	TypeRoomHistoryResponse        Type = "ROOM_HISTORY_RESPONSE"
	TypeChangeRoomPasswordRequest  Type = "CHANGE_ROOM_PASSWORD_REQUEST"
	TypeChangeRoomPasswordSuccess  Type = "CHANGE_ROOM_PASSWORD_SUCCESS"
	TypeChangeRoomPasswordFailure  Type = "CHANGE_ROOM_PASSWORD_FAILURE"
)

// TypeError carries a human readable failure not covered by a dedicated type.
const TypeError Type = "ERROR_MESSAGE"

// ServerSender is the sender stamped on server-originated envelopes.
const ServerSender = "SERVER"

var requestTypes = map[Type]struct{}{
	TypeLoginRequest:              {},
	TypePrivateMessageRequest:     {},
	TypeUserListRequest:           {},
	TypeLogoutRequest:             {},
	TypeCreateRoomRequest:         {},
	TypeJoinRoomRequest:           {},
	TypeLeaveRoomRequest:          {},
	TypeRoomMessageRequest:        {},
	TypeListRoomsRequest:          {},
	TypeRoomInfoRequest:           {},
	TypeChangeRoomPasswordRequest: {},
}

// IsRequest reports whether t is a client-to-server request type.
func (t Type) IsRequest() bool {
	_, ok := requestTypes[t]
	return ok
}

// Envelope is the single record exchanged on the wire. Optional fields are
// omitted when empty; payload fields are set only on the response types that
// carry them.
type Envelope struct {
	Type     Type   `json:"type"`
	Sender   string `json:"sender,omitempty"`
	Receiver string `json:"receiver,omitempty"`
	Room     string `json:"room,omitempty"`
	Content  string `json:"content,omitempty"`
	// Password is only read from create, join and change-password requests.
	Password string `json:"password,omitempty"`

	Users    []string   `json:"users,omitempty"`
	Rooms    []string   `json:"rooms,omitempty"`
	RoomInfo *RoomInfo  `json:"room_info,omitempty"`
	History  []Envelope `json:"history,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// RoomInfo is the payload of ROOM_INFO_RESPONSE.
type RoomInfo struct {
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
	Members   []string  `json:"members"`
}

// System builds a server-originated envelope.
func System(t Type, content string) Envelope {
	return Envelope{
		Type:      t,
		Sender:    ServerSender,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Error builds a generic ERROR_MESSAGE.
func Error(content string) Envelope {
	return System(TypeError, content)
}
