package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskhub/realtime/internal/models"
	"github.com/taskhub/realtime/internal/protocol"
)

// Hub maintains the set of active clients per room and turns inbound
// events into room broadcasts: send-message becomes a confirmed
// new-message echoed to everyone (the sender included, so clients can
// reconcile their optimistic copy), join/leave become online-users
// snapshots, and typing is relayed as user-typing.
type Hub struct {
	// rooms maps roomID to the set of clients joined to that room.
	// Only the Run goroutine touches it.
	rooms map[string]map[*Client]bool

	// unregister requests from clients
	unregister chan *Client

	// inbound carries raw frames from client read pumps
	inbound chan *inboundFrame

	store *Store
	log   zerolog.Logger
}

// inboundFrame pairs a raw frame with the client that sent it.
type inboundFrame struct {
	client *Client
	data   []byte
}

// NewHub creates a new Hub backed by the given message store.
func NewHub(store *Store, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		unregister: make(chan *Client),
		inbound:    make(chan *inboundFrame),
		store:      store,
		log:        logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.removeClient(client)

		case frame := <-h.inbound:
			h.handleFrame(frame.client, frame.data)
		}
	}
}

func (h *Hub) handleFrame(client *Client, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		h.log.Warn().Err(err).Msg("unparseable frame")
		h.sendError(client, protocol.ErrCodeInvalidEvent, "unparseable frame")
		return
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		var p protocol.JoinRoomPayload
		if err := unmarshal(env, &p); err != nil || p.RoomID == "" {
			h.sendError(client, protocol.ErrCodeInvalidEvent, "join-room requires room_id")
			return
		}
		h.joinRoom(client, p.RoomID)

	case protocol.EventSendMessage:
		var p protocol.SendMessagePayload
		if err := unmarshal(env, &p); err != nil || p.Body == "" {
			h.sendError(client, protocol.ErrCodeInvalidEvent, "send-message requires body")
			return
		}
		h.confirmMessage(client, p)

	case protocol.EventTyping:
		h.relayTyping(client)

	default:
		h.log.Debug().Str("event", string(env.Event)).Msg("ignoring event")
	}
}

// joinRoom moves a client into a room and announces the new presence
// snapshot. A client joining a second room leaves the first; the relay
// never multiplexes rooms over one connection.
func (h *Hub) joinRoom(client *Client, roomID string) {
	if client.RoomID != "" {
		h.leaveRoom(client)
	}

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	client.RoomID = roomID

	h.log.Info().Str("room", roomID).Str("user", client.Member.ID).
		Int("online", len(h.rooms[roomID])).Msg("client joined room")
	h.broadcastPresence(roomID)
}

func (h *Hub) removeClient(client *Client) {
	h.leaveRoom(client)
	close(client.send)
}

func (h *Hub) leaveRoom(client *Client) {
	roomID := client.RoomID
	if roomID == "" {
		return
	}
	clients := h.rooms[roomID]
	if clients == nil {
		return
	}
	delete(clients, client)
	client.RoomID = ""

	h.log.Info().Str("room", roomID).Str("user", client.Member.ID).
		Int("online", len(clients)).Msg("client left room")

	if len(clients) == 0 {
		delete(h.rooms, roomID)
		return
	}
	h.broadcastPresence(roomID)
}

// confirmMessage assigns the authoritative ID and timestamp, stores the
// message, and echoes it to the whole room including the sender.
func (h *Hub) confirmMessage(client *Client, p protocol.SendMessagePayload) {
	roomID := client.RoomID
	if roomID == "" {
		h.sendError(client, protocol.ErrCodeNoRoom, "join a room before sending")
		return
	}

	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Body:      p.Body,
		Sender:    client.Member,
		CreatedAt: time.Now().UTC(),
		ReplyTo:   p.ReplyTo,
	}
	h.store.Append(msg)

	frame, err := protocol.Encode(protocol.EventNewMessage, protocol.NewMessagePayload{Message: msg})
	if err != nil {
		h.log.Error().Err(err).Msg("encode new-message")
		return
	}
	h.broadcast(roomID, frame)
	h.log.Debug().Str("room", roomID).Str("id", msg.ID).Msg("message confirmed")
}

func (h *Hub) relayTyping(client *Client) {
	roomID := client.RoomID
	if roomID == "" {
		return
	}
	frame, err := protocol.Encode(protocol.EventUserTyping, protocol.UserTypingPayload{
		RoomID:   roomID,
		UserID:   client.Member.ID,
		UserName: client.Member.DisplayName,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("encode user-typing")
		return
	}
	h.broadcast(roomID, frame)
}

// broadcastPresence sends the current online snapshot for a room.
func (h *Hub) broadcastPresence(roomID string) {
	clients := h.rooms[roomID]
	members := make([]models.Member, 0, len(clients))
	for c := range clients {
		members = append(members, c.Member)
	}

	frame, err := protocol.Encode(protocol.EventOnlineUsers, protocol.OnlineUsersPayload{
		RoomID:  roomID,
		Count:   len(members),
		Members: members,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("encode online-users")
		return
	}
	h.broadcast(roomID, frame)
}

// broadcast sends a frame to every client in a room. A client with a full
// buffer is dropped from the room rather than blocking the hub.
func (h *Hub) broadcast(roomID string, frame []byte) {
	for client := range h.rooms[roomID] {
		select {
		case client.send <- frame:
		default:
			h.log.Warn().Str("user", client.Member.ID).Msg("client buffer full, dropping")
			delete(h.rooms[roomID], client)
			close(client.send)
		}
	}
}

func (h *Hub) sendError(client *Client, code, message string) {
	frame, err := protocol.Encode(protocol.EventError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- frame:
	default:
	}
}

func unmarshal(env *protocol.Envelope, out interface{}) error {
	return json.Unmarshal(env.Data, out)
}
