package models

import "time"

// MaxBodyLength is the maximum length of a message body in runes.
// Longer bodies are rejected before anything is sent or shown.
const MaxBodyLength = 1000

// DeliveryState tracks whether a message has been confirmed by the server.
type DeliveryState int

const (
	// DeliveryPending marks a locally-echoed message that has not been
	// confirmed by the server yet. Its ID is a client-side placeholder.
	DeliveryPending DeliveryState = iota

	// DeliveryConfirmed marks a message the server has broadcast back
	// with an authoritative ID and timestamp.
	DeliveryConfirmed
)

// String returns a human-readable delivery state for logs.
func (d DeliveryState) String() string {
	switch d {
	case DeliveryPending:
		return "pending"
	case DeliveryConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Member identifies a group member in a chat room.
type Member struct {
	// ID is the member's stable user ID
	ID string `json:"id"`

	// DisplayName is the name shown next to messages and typing indicators
	DisplayName string `json:"display_name"`
}

// ChatMessage is one message in a room's timeline.
// Client-side it carries a delivery state; on the wire only the
// server-confirmed fields travel.
type ChatMessage struct {
	// ID is the unique identifier once server-confirmed.
	// Before confirmation it holds a client-generated "temp-" placeholder.
	ID string `json:"id"`

	// RoomID is the room this message belongs to
	RoomID string `json:"room_id"`

	// Body is the message text, at most MaxBodyLength runes
	Body string `json:"body"`

	// Sender is who sent the message
	Sender Member `json:"sender"`

	// CreatedAt is authoritative once server-confirmed; before that it is
	// a client-side estimate used only for display
	CreatedAt time.Time `json:"created_at"`

	// ReplyTo optionally references another message's ID. The referenced
	// message may have scrolled out of the loaded window, so this is a
	// weak reference, never ownership.
	ReplyTo string `json:"reply_to,omitempty"`

	// Delivery is client-side state and never travels on the wire
	Delivery DeliveryState `json:"-"`
}

// HistoryResponse is the response body for fetching a room's history.
type HistoryResponse struct {
	Messages []ChatMessage `json:"messages"`
}
