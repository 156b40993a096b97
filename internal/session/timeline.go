package session

import (
	"github.com/taskhub/realtime/internal/models"
)

// ReplyTarget is a handle to a reply-referenced message inside the loaded
// window, usable as a scroll target.
type ReplyTarget struct {
	// Index is the message's position in the visible sequence
	Index int

	// Message is the referenced message itself
	Message models.ChatMessage
}

// timeline merges three message sources into one ordered, de-duplicated
// sequence: the history fetch, optimistic local echoes, and confirmed
// server broadcasts. It is owned by the session loop and never locked.
type timeline struct {
	self models.Member
	msgs []models.ChatMessage

	// appliedFetch is the sequence number of the last history response
	// applied. Responses from older fetches are discarded so overlapping
	// loads resolve last-write-wins on the whole sequence.
	appliedFetch uint64

	highlighted  string
	highlightSeq uint64
}

func newTimeline(self models.Member) *timeline {
	return &timeline{self: self}
}

// applyHistory replaces the whole sequence with a fetched one. Returns
// false when the response belongs to a fetch older than one already
// applied.
func (t *timeline) applyHistory(fetch uint64, msgs []models.ChatMessage) bool {
	if fetch <= t.appliedFetch {
		return false
	}
	t.appliedFetch = fetch
	t.msgs = make([]models.ChatMessage, len(msgs))
	copy(t.msgs, msgs)
	return true
}

// appendLocal appends an optimistic pending message at the end of the
// sequence. The caller has already built the placeholder ID and timestamp.
func (t *timeline) appendLocal(msg models.ChatMessage) {
	msg.Delivery = models.DeliveryPending
	t.msgs = append(t.msgs, msg)
}

// reconcile folds one server-broadcast message into the sequence:
//  1. the oldest pending entry with the same sender-and-body is removed,
//     since a confirmation's ID never matches the local placeholder
//  2. a message whose ID is already present is dropped (duplicate delivery)
//  3. otherwise the message is appended as confirmed, in arrival order
//
// Returns true when the message became newly visible.
func (t *timeline) reconcile(msg models.ChatMessage) bool {
	if msg.Sender.ID == t.self.ID {
		t.clearPending(msg.Body)
	}
	if t.hasID(msg.ID) {
		return false
	}
	msg.Delivery = models.DeliveryConfirmed
	t.msgs = append(t.msgs, msg)
	return true
}

// clearPending removes the oldest pending entry matching the given body.
// Two pending sends with identical bodies are indistinguishable here;
// whichever is oldest gets cleared by the first matching confirmation.
func (t *timeline) clearPending(body string) {
	for i, m := range t.msgs {
		if m.Delivery == models.DeliveryPending && m.Body == body {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return
		}
	}
}

func (t *timeline) hasID(id string) bool {
	for _, m := range t.msgs {
		if m.Delivery == models.DeliveryConfirmed && m.ID == id {
			return true
		}
	}
	return false
}

// messages returns a copy of the visible sequence.
func (t *timeline) messages() []models.ChatMessage {
	out := make([]models.ChatMessage, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// resolve locates a reply-referenced message in the loaded window.
// A target outside the window yields ok=false, never an error: the window
// is bounded and unresolved references are an expected outcome.
func (t *timeline) resolve(id string) (ReplyTarget, bool) {
	if id == "" {
		return ReplyTarget{}, false
	}
	for i, m := range t.msgs {
		if m.ID == id {
			return ReplyTarget{Index: i, Message: m}, true
		}
	}
	return ReplyTarget{}, false
}

// setHighlight marks a message as transiently highlighted and returns a
// token the expiry timer hands back, so a renewed highlight isn't cleared
// by the previous timer.
func (t *timeline) setHighlight(id string) uint64 {
	t.highlightSeq++
	t.highlighted = id
	return t.highlightSeq
}

// clearHighlight drops the highlight if the token is still current.
func (t *timeline) clearHighlight(seq uint64) {
	if seq == t.highlightSeq {
		t.highlighted = ""
	}
}
