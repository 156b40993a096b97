// Package session implements the realtime chat session engine: one
// authenticated, auto-reconnecting event channel per open chat view,
// reconciling optimistic local messages against server-confirmed events
// and tracking ephemeral presence, typing and visibility state.
//
// All state is owned by a single run loop per session. Connection
// callbacks, timers and API calls are funnelled through one event channel,
// so no handler ever races another for the same session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/taskhub/realtime/internal/history"
	"github.com/taskhub/realtime/internal/models"
	"github.com/taskhub/realtime/internal/protocol"
)

var (
	// ErrNoCredential means no bearer token was available at connect time.
	// This is a terminal local failure and is never retried.
	ErrNoCredential = errors.New("session: no credential available")

	// ErrNoRoom means the session was built without a room ID.
	ErrNoRoom = errors.New("session: no room id")

	// ErrNotConnected means an outbound send had no live connection. The
	// optimistic entry stays pending; there is no retry queue.
	ErrNotConnected = errors.New("session: not connected")

	// ErrBodyTooLong means the message body exceeds models.MaxBodyLength.
	ErrBodyTooLong = errors.New("session: message body too long")

	// ErrEmptyBody means the message body was empty.
	ErrEmptyBody = errors.New("session: empty message body")
)

// Config wires one session to its room, credential and collaborators.
type Config struct {
	// RelayURL is the websocket endpoint, e.g. ws://host/ws
	RelayURL string

	// Token is the bearer credential attached at connection initiation
	Token string

	// RoomID scopes the session; all entities die with it
	RoomID string

	// Self identifies the local user for echo reconciliation and
	// self-filtering of typing events
	Self models.Member

	// History fetches the confirmed message list; nil disables loads
	History *history.Client

	// Logger is the parent logger; a component field is attached
	Logger zerolog.Logger

	// TypingExpiry is how long a name stays in the typing set without a
	// renewed signal (default 3s)
	TypingExpiry time.Duration

	// ReconnectDelay is the fixed delay before the single reconnect
	// attempt after a transport failure (default 3s)
	ReconnectDelay time.Duration

	// HighlightFor is how long a resolved reply target stays highlighted
	// (default 2s)
	HighlightFor time.Duration

	// HistorySettle is the pause between joining a room and the initial
	// history fetch, so the join registers server-side first (default 300ms)
	HistorySettle time.Duration

	// OnStateChange, if set, is invoked on the session loop whenever the
	// connection state changes
	OnStateChange func(State)

	// OnMessage, if set, is invoked on the session loop for every message
	// that becomes newly visible as confirmed
	OnMessage func(models.ChatMessage)
}

func (c *Config) applyDefaults() {
	if c.TypingExpiry <= 0 {
		c.TypingExpiry = 3 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.HighlightFor <= 0 {
		c.HighlightFor = 2 * time.Second
	}
	if c.HistorySettle <= 0 {
		c.HistorySettle = 300 * time.Millisecond
	}
}

// Events dispatched on the session loop. Connection events carry the epoch
// of the transport that produced them; the loop drops anything stamped
// with a stale epoch.
type event interface{}

type (
	evCall        struct{ fn func() }
	evConnected   struct {
		epoch uint64
		tr    *transport
	}
	evConnFailed struct {
		epoch uint64
		err   error
	}
	evConnLost struct {
		epoch uint64
		err   error
	}
	evServerClosed struct {
		epoch  uint64
		reason string
	}
	evEnvelope struct {
		epoch uint64
		env   *protocol.Envelope
	}
	evReconnect     struct{}
	evHistorySettle struct{ epoch uint64 }
	evHistoryResult struct {
		fetch uint64
		msgs  []models.ChatMessage
		err   error
	}
	evTypingExpired struct {
		name string
		seq  uint64
	}
	evHighlightExpired struct{ seq uint64 }
	evTeardown         struct{}
)

// Session is one room-scoped chat session. All exported methods are safe
// to call from any goroutine; they post onto the session loop.
type Session struct {
	cfg Config
	log zerolog.Logger

	events   chan event
	stopped  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	downOnce sync.Once

	// Everything below is owned by the run loop.
	state          State
	closeReason    string
	epoch          uint64
	tr             *transport
	reconnectArmed bool
	fetchSeq       uint64

	timeline *timeline
	presence *presenceTracker
	typing   *typingTracker
	vis      *visibility

	typingTimers   map[string]*time.Timer
	settleTimer    *time.Timer
	reconnectTimer *time.Timer
	highlightTimer *time.Timer
}

// New builds a session and starts its run loop. The connection is not
// opened until Connect is called; the loop exists so visibility and
// timeline state work even before (or without) a live connection.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:          cfg,
		log:          cfg.Logger.With().Str("component", "session").Str("room", cfg.RoomID).Logger(),
		events:       make(chan event, 64),
		stopped:      make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateConnecting,
		timeline:     newTimeline(cfg.Self),
		presence:     newPresenceTracker(cfg.RoomID),
		typing:       newTypingTracker(),
		vis:          newVisibility(),
		typingTimers: make(map[string]*time.Timer),
	}
	go s.run()
	return s
}

// Connect initiates the connection. A missing credential or room ID is a
// precondition failure: the session transitions to Errored immediately and
// is not retried.
func (s *Session) Connect() error {
	if s.cfg.Token == "" {
		s.call(func() { s.setState(StateErrored) })
		return ErrNoCredential
	}
	if s.cfg.RoomID == "" {
		s.call(func() { s.setState(StateErrored) })
		return ErrNoRoom
	}
	s.call(func() { s.startDial() })
	return nil
}

// Teardown closes the connection, cancels every pending timer and in-flight
// request, and stops the run loop. Idempotent.
func (s *Session) Teardown() {
	s.downOnce.Do(func() {
		select {
		case s.events <- evTeardown{}:
		case <-s.stopped:
		}
	})
	<-s.stopped
}

// post delivers an event to the run loop, dropping it if the session has
// already been torn down. Late timer fires and stale connection callbacks
// go through here, so they can never corrupt a newer session. Reports
// whether the event was delivered; callers holding a resource the loop
// was meant to adopt must release it on false.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopped:
		return false
	}
}

// call runs fn on the session loop and waits for it. After teardown the
// loop is gone and nothing else touches session state, so fn runs inline;
// callers get consistent answers instead of silent no-ops.
func (s *Session) call(fn func()) {
	done := make(chan struct{})
	select {
	case s.events <- evCall{fn: func() {
		fn()
		close(done)
	}}:
		select {
		case <-done:
		case <-s.stopped:
			select {
			case <-done:
			default:
				fn()
			}
		}
	case <-s.stopped:
		fn()
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for ev := range s.events {
		if s.dispatch(ev) {
			return
		}
	}
}

// dispatch handles one event. Returns true when the session is done.
func (s *Session) dispatch(ev event) bool {
	switch e := ev.(type) {
	case evCall:
		e.fn()

	case evConnected:
		if e.epoch != s.epoch {
			e.tr.close()
			return false
		}
		s.tr = e.tr
		s.reconnectArmed = false
		s.setState(StateConnected)
		s.sendJoin()
		s.scheduleHistorySettle()

	case evConnFailed:
		if e.epoch != s.epoch {
			return false
		}
		s.log.Warn().Err(e.err).Msg("connect failed")
		s.setState(StateErrored)
		s.armReconnect()

	case evConnLost:
		if e.epoch != s.epoch {
			return false
		}
		s.log.Warn().Err(e.err).Msg("connection lost")
		s.tr = nil
		s.setState(StateErrored)
		s.armReconnect()

	case evServerClosed:
		if e.epoch != s.epoch {
			return false
		}
		s.tr = nil
		s.closeReason = e.reason
		s.log.Info().Str("reason", e.reason).Msg("server closed connection")
		s.setState(StateDisconnected)

	case evEnvelope:
		if e.epoch != s.epoch {
			return false
		}
		s.handleEnvelope(e.env)

	case evReconnect:
		s.reconnectArmed = false
		if s.state == StateConnected {
			return false
		}
		s.startDial()

	case evHistorySettle:
		if e.epoch != s.epoch {
			return false
		}
		s.loadHistory()

	case evHistoryResult:
		if e.err != nil {
			// Stale-but-consistent beats empty: keep whatever we had.
			s.log.Warn().Err(e.err).Msg("history fetch failed, keeping current sequence")
			return false
		}
		if s.timeline.applyHistory(e.fetch, e.msgs) {
			s.log.Debug().Int("messages", len(e.msgs)).Msg("history applied")
		}

	case evTypingExpired:
		if s.typing.expire(e.name, e.seq) {
			delete(s.typingTimers, e.name)
		}

	case evHighlightExpired:
		s.timeline.clearHighlight(e.seq)

	case evTeardown:
		s.shutdown()
		return true
	}
	return false
}

func (s *Session) shutdown() {
	s.cancel()
	if s.tr != nil {
		s.tr.close()
		s.tr = nil
	}
	for name, timer := range s.typingTimers {
		timer.Stop()
		delete(s.typingTimers, name)
	}
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	if s.highlightTimer != nil {
		s.highlightTimer.Stop()
	}
	s.log.Debug().Msg("session torn down")
}

func (s *Session) setState(next State) {
	if next == s.state {
		return
	}
	s.log.Info().Stringer("from", s.state).Stringer("to", next).Msg("connection state")
	s.state = next
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}

func (s *Session) startDial() {
	s.epoch++
	s.setState(StateConnecting)
	go s.dial(s.epoch)
}

// armReconnect schedules exactly one fixed-delay retry for this failure.
// A repeated failure re-arms on its own close event, so there is never
// more than one pending attempt.
func (s *Session) armReconnect() {
	if s.reconnectArmed {
		return
	}
	s.reconnectArmed = true
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.post(evReconnect{})
	})
}

func (s *Session) sendJoin() {
	frame, err := protocol.Encode(protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: s.cfg.RoomID})
	if err != nil {
		s.log.Error().Err(err).Msg("encode join-room")
		return
	}
	s.sendFrame(frame)
}

// scheduleHistorySettle defers the initial history fetch until the join
// has had a moment to register server-side.
func (s *Session) scheduleHistorySettle() {
	epoch := s.epoch
	s.settleTimer = time.AfterFunc(s.cfg.HistorySettle, func() {
		s.post(evHistorySettle{epoch: epoch})
	})
}

// loadHistory kicks off one history fetch. Overlapping fetches are fine:
// responses carry a fetch number and the timeline keeps only the latest.
func (s *Session) loadHistory() {
	if s.cfg.History == nil {
		s.log.Debug().Msg("no history client configured, skipping load")
		return
	}
	s.fetchSeq++
	fetch := s.fetchSeq
	go func() {
		msgs, err := s.cfg.History.Fetch(s.ctx, s.cfg.RoomID)
		s.post(evHistoryResult{fetch: fetch, msgs: msgs, err: err})
	}()
}

func (s *Session) handleEnvelope(env *protocol.Envelope) {
	switch env.Event {
	case protocol.EventNewMessage:
		var p protocol.NewMessagePayload
		if err := unmarshalPayload(env, &p); err != nil {
			s.log.Warn().Err(err).Msg("bad new-message payload")
			return
		}
		s.handleNewMessage(p.Message)

	case protocol.EventOnlineUsers:
		var p protocol.OnlineUsersPayload
		if err := unmarshalPayload(env, &p); err != nil {
			s.log.Warn().Err(err).Msg("bad online-users payload")
			return
		}
		s.presence.applySnapshot(p.RoomID, p.Count, p.Members)

	case protocol.EventUserTyping:
		var p protocol.UserTypingPayload
		if err := unmarshalPayload(env, &p); err != nil {
			s.log.Warn().Err(err).Msg("bad user-typing payload")
			return
		}
		s.handleUserTyping(p)

	case protocol.EventError:
		var p protocol.ErrorPayload
		if err := unmarshalPayload(env, &p); err != nil {
			s.log.Warn().Err(err).Msg("bad error payload")
			return
		}
		// Protocol-level errors count as transport failures: drop the
		// connection so the close-driven retry takes over.
		s.log.Warn().Str("code", p.Code).Str("message", p.Message).Msg("relay error event")
		s.setState(StateErrored)
		if s.tr != nil {
			s.tr.close()
			s.tr = nil
		}

	default:
		s.log.Debug().Str("event", string(env.Event)).Msg("ignoring unknown event")
	}
}

func (s *Session) handleNewMessage(msg models.ChatMessage) {
	if msg.RoomID != "" && msg.RoomID != s.cfg.RoomID {
		return
	}
	if !s.timeline.reconcile(msg) {
		return
	}
	fromSelf := msg.Sender.ID == s.cfg.Self.ID
	s.vis.recordInbound(fromSelf)
	if s.cfg.OnMessage != nil {
		msg.Delivery = models.DeliveryConfirmed
		s.cfg.OnMessage(msg)
	}
}

func (s *Session) handleUserTyping(p protocol.UserTypingPayload) {
	if p.RoomID != s.cfg.RoomID || p.UserID == s.cfg.Self.ID {
		return
	}
	seq := s.typing.renew(p.UserName)
	if old, ok := s.typingTimers[p.UserName]; ok {
		old.Stop()
	}
	name := p.UserName
	s.typingTimers[name] = time.AfterFunc(s.cfg.TypingExpiry, func() {
		s.post(evTypingExpired{name: name, seq: seq})
	})
}

// sendFrame is fire-and-forget: if the send buffer is full the frame is
// dropped and logged, never blocked on.
func (s *Session) sendFrame(frame []byte) {
	if s.tr == nil {
		return
	}
	select {
	case s.tr.send <- frame:
	default:
		s.log.Warn().Msg("send buffer full, dropping frame")
	}
}

// SendMessage appends an optimistic pending entry and forwards the send
// request. The local sequence never waits on the network: the pending
// entry appears immediately and is replaced when the server's confirmation
// arrives. While disconnected nothing is sent and ErrNotConnected reports
// the known limitation; the entry stays visibly pending.
func (s *Session) SendMessage(body, replyTo string) error {
	if body == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > models.MaxBodyLength {
		return ErrBodyTooLong
	}

	var err error
	s.call(func() {
		msg := models.ChatMessage{
			ID:        fmt.Sprintf("temp-%d", time.Now().UnixNano()),
			RoomID:    s.cfg.RoomID,
			Body:      body,
			Sender:    s.cfg.Self,
			CreatedAt: time.Now().UTC(),
			ReplyTo:   replyTo,
		}
		s.timeline.appendLocal(msg)

		if s.state != StateConnected || s.tr == nil {
			err = ErrNotConnected
			return
		}
		frame, encErr := protocol.Encode(protocol.EventSendMessage, protocol.SendMessagePayload{
			RoomID:  s.cfg.RoomID,
			Body:    body,
			ReplyTo: replyTo,
		})
		if encErr != nil {
			err = encErr
			return
		}
		s.sendFrame(frame)
	})
	return err
}

// EmitTyping forwards a local typing signal. Callers are expected to
// throttle while the user types; this method does not. Not connected means
// the signal is silently dropped.
func (s *Session) EmitTyping() {
	s.call(func() {
		if s.state != StateConnected || s.tr == nil {
			return
		}
		frame, err := protocol.Encode(protocol.EventTyping, protocol.TypingPayload{RoomID: s.cfg.RoomID})
		if err != nil {
			s.log.Error().Err(err).Msg("encode typing")
			return
		}
		s.sendFrame(frame)
	})
}

// SetVisibility moves the view state machine. Entering Open resets the
// unread count and triggers exactly one history load.
func (s *Session) SetVisibility(next VisibilityState) {
	s.call(func() {
		if s.vis.transition(next) {
			s.loadHistory()
		}
	})
}

// Resolve locates a reply-referenced message in the loaded window and, on
// success, applies a transient highlight. A reference outside the window
// comes back unresolved; it is never fetched.
func (s *Session) Resolve(id string) (ReplyTarget, bool) {
	var (
		target ReplyTarget
		ok     bool
	)
	s.call(func() {
		target, ok = s.timeline.resolve(id)
		if !ok {
			return
		}
		seq := s.timeline.setHighlight(id)
		if s.highlightTimer != nil {
			s.highlightTimer.Stop()
		}
		s.highlightTimer = time.AfterFunc(s.cfg.HighlightFor, func() {
			s.post(evHighlightExpired{seq: seq})
		})
	})
	return target, ok
}

// Messages returns a copy of the visible message sequence.
func (s *Session) Messages() []models.ChatMessage {
	var out []models.ChatMessage
	s.call(func() { out = s.timeline.messages() })
	return out
}

// ConnState returns the current connection state.
func (s *Session) ConnState() State {
	st := StateErrored
	s.call(func() { st = s.state })
	return st
}

// CloseReason returns the recorded reason of the last server-initiated
// close, for diagnostics.
func (s *Session) CloseReason() string {
	var reason string
	s.call(func() { reason = s.closeReason })
	return reason
}

// Presence returns the latest online count and member snapshot.
func (s *Session) Presence() (int, []models.Member) {
	var (
		count   int
		members []models.Member
	)
	s.call(func() { count, members = s.presence.snapshot() })
	return count, members
}

// TypingUsers returns the display names currently typing, sorted.
func (s *Session) TypingUsers() []string {
	var names []string
	s.call(func() { names = s.typing.names() })
	return names
}

// Unread returns the current unread badge count.
func (s *Session) Unread() int {
	var n int
	s.call(func() { n = s.vis.unread })
	return n
}

// Visibility returns the current view state.
func (s *Session) Visibility() VisibilityState {
	v := VisibilityClosed
	s.call(func() { v = s.vis.state })
	return v
}

// Highlighted returns the ID of the currently highlighted message, if any.
func (s *Session) Highlighted() string {
	var id string
	s.call(func() { id = s.timeline.highlighted })
	return id
}

func unmarshalPayload(env *protocol.Envelope, out interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("empty %s payload", env.Event)
	}
	return json.Unmarshal(env.Data, out)
}
