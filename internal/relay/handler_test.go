package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/taskhub/realtime/internal/models"
	"github.com/taskhub/realtime/internal/protocol"
)

func newTestRelay(t *testing.T, token string) (*httptest.Server, *Store) {
	t.Helper()
	store := NewStore()
	hub := NewHub(store, zerolog.Nop())
	go hub.Run()

	handler := NewHandler(hub, store, token, zerolog.Nop())
	ts := httptest.NewServer(handler.Router([]string{"*"}))
	t.Cleanup(ts.Close)
	return ts, store
}

func TestHandler_HealthCheck(t *testing.T) {
	ts, _ := newTestRelay(t, "")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandler_HistoryAuth(t *testing.T) {
	ts, store := newTestRelay(t, "secret")
	store.Append(storeMsg("m1", "room-a", "hello"))

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{name: "no credential", wantStatus: http.StatusUnauthorized},
		{name: "wrong bearer", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid bearer", header: "Bearer secret", wantStatus: http.StatusOK},
		{name: "valid query token", query: "?token=secret", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/rooms/room-a/history"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var parsed models.HistoryResponse
			if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(parsed.Messages) != 1 || parsed.Messages[0].ID != "m1" {
				t.Errorf("messages = %+v, want [m1]", parsed.Messages)
			}
		})
	}
}

func TestHandler_ServeWSRejections(t *testing.T) {
	ts, _ := newTestRelay(t, "secret")
	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http")

	t.Run("unauthorized", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsBase+"/ws?user_id=u1", nil)
		if err == nil {
			t.Fatal("dial succeeded without credential, want rejection")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("handshake response = %+v, want 401", resp)
		}
	})

	t.Run("missing user_id", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsBase+"/ws?token=secret", nil)
		if err == nil {
			t.Fatal("dial succeeded without user_id, want rejection")
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("handshake response = %+v, want 400", resp)
		}
	})
}

// wsPeer is a bare websocket client for exercising the hub without the
// session engine in the way.
type wsPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialPeer(t *testing.T, wsBase, userID, userName string) *wsPeer {
	t.Helper()
	url := fmt.Sprintf("%s/ws?token=secret&user_id=%s&user_name=%s", wsBase, userID, userName)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsPeer{t: t, conn: conn}
}

func (p *wsPeer) send(event protocol.EventType, payload interface{}) {
	p.t.Helper()
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		p.t.Fatalf("encode %s: %v", event, err)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		p.t.Fatalf("write %s: %v", event, err)
	}
}

// expect reads frames until one matches the wanted event type, failing on
// timeout. Presence churn makes interleaved online-users frames normal.
func (p *wsPeer) expect(event protocol.EventType) *protocol.Envelope {
	p.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		p.conn.SetReadDeadline(deadline)
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			p.t.Fatalf("read waiting for %s: %v", event, err)
		}
		env, err := protocol.ParseEnvelope(frame)
		if err != nil {
			p.t.Fatalf("parse frame: %v", err)
		}
		if env.Event == event {
			return env
		}
	}
	p.t.Fatalf("no %s frame before deadline", event)
	return nil
}

func TestHub_MessageFlow(t *testing.T) {
	ts, store := newTestRelay(t, "secret")
	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http")

	alice := dialPeer(t, wsBase, "alice", "Alice")
	bob := dialPeer(t, wsBase, "bob", "Bob")

	alice.send(protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: "room-a"})
	bob.send(protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: "room-a"})

	// The second join's presence snapshot reaches both members.
	var snap protocol.OnlineUsersPayload
	env := bob.expect(protocol.EventOnlineUsers)
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode online-users: %v", err)
	}
	if snap.RoomID != "room-a" {
		t.Errorf("snapshot room = %q, want room-a", snap.RoomID)
	}

	// A send gets an authoritative ID and is echoed to the sender too.
	alice.send(protocol.EventSendMessage, protocol.SendMessagePayload{RoomID: "room-a", Body: "hello"})

	for _, peer := range []*wsPeer{alice, bob} {
		env := peer.expect(protocol.EventNewMessage)
		var p protocol.NewMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatalf("decode new-message: %v", err)
		}
		if p.Message.ID == "" || p.Message.Body != "hello" || p.Message.Sender.ID != "alice" {
			t.Errorf("echoed message = %+v, want confirmed hello from alice", p.Message)
		}
		if p.Message.CreatedAt.IsZero() {
			t.Error("echoed message has zero timestamp")
		}
	}

	if got := store.Count("room-a"); got != 1 {
		t.Errorf("store.Count = %d, want 1", got)
	}

	// Typing relays with the sender's identity attached.
	bob.send(protocol.EventTyping, protocol.TypingPayload{RoomID: "room-a"})
	env = alice.expect(protocol.EventUserTyping)
	var typing protocol.UserTypingPayload
	if err := json.Unmarshal(env.Data, &typing); err != nil {
		t.Fatalf("decode user-typing: %v", err)
	}
	if typing.UserID != "bob" || typing.UserName != "Bob" || typing.RoomID != "room-a" {
		t.Errorf("user-typing = %+v, want bob in room-a", typing)
	}
}

func TestHub_SendWithoutRoom(t *testing.T) {
	ts, _ := newTestRelay(t, "secret")
	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http")

	peer := dialPeer(t, wsBase, "carol", "Carol")
	peer.send(protocol.EventSendMessage, protocol.SendMessagePayload{Body: "into the void"})

	env := peer.expect(protocol.EventError)
	var p protocol.ErrorPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != protocol.ErrCodeNoRoom {
		t.Errorf("error code = %q, want %q", p.Code, protocol.ErrCodeNoRoom)
	}
}
