package protocol

import (
	"encoding/json"

	"github.com/taskhub/realtime/internal/models"
)

// EventType identifies the type of a chat event on the wire.
type EventType string

const (
	// Client -> Server
	EventJoinRoom    EventType = "join-room"
	EventSendMessage EventType = "send-message"
	EventTyping      EventType = "typing"

	// Server -> Client
	EventNewMessage  EventType = "new-message"
	EventOnlineUsers EventType = "online-users"
	EventUserTyping  EventType = "user-typing"
	EventError       EventType = "error"
)

// Envelope wraps every chat event with its type.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoomPayload is sent by the client right after connecting to enter a room.
type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

// SendMessagePayload is sent by the client to post a message to a room.
type SendMessagePayload struct {
	RoomID  string `json:"room_id"`
	Body    string `json:"body"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// TypingPayload is sent by the client to signal the local user is typing.
type TypingPayload struct {
	RoomID string `json:"room_id"`
}

// NewMessagePayload is broadcast by the server when a message is confirmed.
type NewMessagePayload struct {
	Message models.ChatMessage `json:"message"`
}

// OnlineUsersPayload is broadcast by the server whenever room presence changes.
// Count is authoritative; Members may be a sample of the online set.
type OnlineUsersPayload struct {
	RoomID  string          `json:"room_id"`
	Count   int             `json:"count"`
	Members []models.Member `json:"members"`
}

// UserTypingPayload is broadcast by the server when a member signals typing.
type UserTypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// ErrorPayload is sent by the server when a request could not be handled.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeInvalidEvent = "invalid_event"
	ErrCodeNoRoom       = "no_room"
)

// NewEnvelope creates an envelope with the given event type and payload.
func NewEnvelope(event EventType, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Event: event,
		Data:  raw,
	}, nil
}

// ParseEnvelope parses a raw JSON frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode marshals an event and payload straight to a wire frame.
func Encode(event EventType, data interface{}) ([]byte, error) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
