package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taskhub/realtime/internal/models"
)

func TestClient_Fetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want Bearer secret", got)
		}
		if r.URL.Path != "/api/rooms/room-a/history" {
			t.Errorf("path = %q, want /api/rooms/room-a/history", r.URL.Path)
		}
		json.NewEncoder(w).Encode(models.HistoryResponse{
			Messages: []models.ChatMessage{
				{ID: "m1", RoomID: "room-a", Body: "first"},
				{ID: "m2", RoomID: "room-a", Body: "second"},
			},
		})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "secret")
	msgs, err := c.Fetch(context.Background(), "room-a")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	for i, msg := range msgs {
		if msg.Delivery != models.DeliveryConfirmed {
			t.Errorf("msgs[%d].Delivery = %v, want confirmed", i, msg.Delivery)
		}
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("order = [%s %s], want [m1 m2]", msgs[0].ID, msgs[1].ID)
	}
}

func TestClient_FetchErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "wrong")
	if _, err := c.Fetch(context.Background(), "room-a"); err == nil {
		t.Fatal("Fetch with 401 response: err = nil, want error")
	}
}

func TestClient_FetchBadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "secret")
	if _, err := c.Fetch(context.Background(), "room-a"); err == nil {
		t.Fatal("Fetch with bad body: err = nil, want error")
	}
}

func TestClient_FetchContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(ts.URL, "secret")
	if _, err := c.Fetch(ctx, "room-a"); err == nil {
		t.Fatal("Fetch with cancelled context: err = nil, want error")
	}
}
