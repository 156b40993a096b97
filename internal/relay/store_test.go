package relay

import (
	"testing"

	"github.com/taskhub/realtime/internal/models"
)

func storeMsg(id, roomID, body string) models.ChatMessage {
	return models.ChatMessage{
		ID:     id,
		RoomID: roomID,
		Body:   body,
		Sender: models.Member{ID: "u1", DisplayName: "Alice"},
	}
}

func TestStore_AppendAndHistory(t *testing.T) {
	s := NewStore()

	s.Append(storeMsg("m1", "room-a", "first"))
	s.Append(storeMsg("m2", "room-a", "second"))
	s.Append(storeMsg("m3", "room-b", "elsewhere"))

	history := s.History("room-a")
	if len(history) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(history))
	}
	for i, want := range []string{"m1", "m2"} {
		if history[i].ID != want {
			t.Errorf("History[%d].ID = %q, want %q", i, history[i].ID, want)
		}
	}

	if got := s.Count("room-a"); got != 2 {
		t.Errorf("Count(room-a) = %d, want 2", got)
	}
	if got := s.Count("room-b"); got != 1 {
		t.Errorf("Count(room-b) = %d, want 1", got)
	}
}

func TestStore_EmptyRoom(t *testing.T) {
	s := NewStore()

	if got := s.History("nowhere"); len(got) != 0 {
		t.Errorf("History(nowhere) = %v, want empty", got)
	}
	if got := s.Count("nowhere"); got != 0 {
		t.Errorf("Count(nowhere) = %d, want 0", got)
	}
}

func TestStore_HistoryReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append(storeMsg("m1", "room-a", "original"))

	history := s.History("room-a")
	history[0].Body = "mutated"

	if got := s.History("room-a")[0].Body; got != "original" {
		t.Errorf("stored body = %q after caller mutation, want original", got)
	}
}
