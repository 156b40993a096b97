package relay

import (
	"sync"

	"github.com/taskhub/realtime/internal/models"
)

// Store keeps confirmed messages per room, in confirmation order.
// In-memory is fine here: the relay is the dev/test peer for the session
// engine, not the production history service.
type Store struct {
	// messages stores confirmed messages per room: roomID -> []ChatMessage
	messages map[string][]models.ChatMessage
	mu       sync.RWMutex
}

// NewStore creates an empty message store.
func NewStore() *Store {
	return &Store{
		messages: make(map[string][]models.ChatMessage),
	}
}

// Append records a confirmed message at the end of its room's history.
func (s *Store) Append(msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], msg)
}

// History returns a copy of a room's confirmed messages, oldest first.
func (s *Store) History(roomID string) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[roomID]
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Count returns the number of confirmed messages in a room.
func (s *Store) Count(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[roomID])
}
