package session

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskhub/realtime/internal/protocol"
)

const (
	// Time allowed to write a frame to the relay
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the relay
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from the relay
	maxFrameSize = 64 * 1024

	handshakeTimeout = 10 * time.Second
)

// State is the connection's lifecycle state. Exactly one value holds at
// any time; transitions happen only on the session loop.
type State int

const (
	// StateConnecting covers dial and handshake
	StateConnecting State = iota

	// StateConnected means the handshake succeeded and the room was joined
	StateConnected

	// StateDisconnected means the server closed the connection cleanly
	StateDisconnected

	// StateErrored covers precondition failures, dial failures and
	// abrupt transport drops
	StateErrored
)

// String returns a human-readable connection state for logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// transport is one live websocket connection. Each (re)connect builds a
// fresh transport stamped with the epoch it belongs to, so frames from a
// dead connection can never mutate a newer one.
type transport struct {
	epoch     uint64
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (t *transport) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.ws.Close()
	})
}

// dial opens the websocket connection with the bearer credential attached
// and starts the pumps. Runs off the session loop; every outcome is posted
// back as an event stamped with the given epoch.
func (s *Session) dial(epoch uint64) {
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", s.cfg.Token))

	ws, resp, err := dialer.DialContext(s.ctx, s.cfg.RelayURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.post(evConnFailed{epoch: epoch, err: err})
		return
	}

	tr := &transport{
		epoch: epoch,
		ws:    ws,
		send:  make(chan []byte, 64),
		done:  make(chan struct{}),
	}
	if !s.post(evConnected{epoch: epoch, tr: tr}) {
		// Teardown finished while the handshake was in flight; nobody is
		// left to own this connection.
		tr.close()
		return
	}

	go s.writePump(tr)
	go s.readPump(tr)
}

// readPump reads frames until the connection dies, posting each decoded
// envelope onto the session loop. The exit reason decides which lifecycle
// event the loop sees: a close frame is a server-initiated close, anything
// else is a transport drop.
func (s *Session) readPump(tr *transport) {
	defer tr.close()

	tr.ws.SetReadLimit(maxFrameSize)
	tr.ws.SetReadDeadline(time.Now().Add(pongWait))
	tr.ws.SetPongHandler(func(string) error {
		tr.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := tr.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.post(evServerClosed{epoch: tr.epoch, reason: err.Error()})
			} else {
				s.post(evConnLost{epoch: tr.epoch, err: err})
			}
			return
		}

		env, err := protocol.ParseEnvelope(frame)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping unparseable frame")
			continue
		}
		s.post(evEnvelope{epoch: tr.epoch, env: env})
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. Frames are fire-and-forget: a write error just kills the
// connection and the read side reports the loss.
func (s *Session) writePump(tr *transport) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		tr.close()
	}()

	for {
		select {
		case frame := <-tr.send:
			tr.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := tr.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			tr.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := tr.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-tr.done:
			tr.ws.SetWriteDeadline(time.Now().Add(writeWait))
			tr.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
