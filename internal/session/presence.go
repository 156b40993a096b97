package session

import (
	"sort"

	"github.com/taskhub/realtime/internal/models"
)

// presenceTracker holds the latest online snapshot for the session's room.
// Snapshots replace state wholesale; the count is authoritative even when
// the member list is only a sample.
type presenceTracker struct {
	roomID  string
	count   int
	members []models.Member
}

func newPresenceTracker(roomID string) *presenceTracker {
	return &presenceTracker{roomID: roomID}
}

// applySnapshot replaces the online count and member list. Events for any
// other room are ignored and leave state untouched.
func (p *presenceTracker) applySnapshot(roomID string, count int, members []models.Member) bool {
	if roomID != p.roomID {
		return false
	}
	p.count = count
	p.members = make([]models.Member, len(members))
	copy(p.members, members)
	return true
}

func (p *presenceTracker) snapshot() (int, []models.Member) {
	out := make([]models.Member, len(p.members))
	copy(out, p.members)
	return p.count, out
}

// typingTracker maintains the set of display names currently typing.
// Each entry carries a renewal token; expiry only removes a name when the
// token is still the latest, so a renewed signal outlives the stale timer
// it replaced.
type typingTracker struct {
	nextSeq uint64
	active  map[string]uint64
}

func newTypingTracker() *typingTracker {
	return &typingTracker{active: make(map[string]uint64)}
}

// renew adds the name to the typing set (or refreshes it) and returns the
// token the matching expiry timer must present.
func (t *typingTracker) renew(name string) uint64 {
	t.nextSeq++
	t.active[name] = t.nextSeq
	return t.nextSeq
}

// expire removes the name if the token is still current. A stale token
// means the user signalled typing again after this timer was scheduled.
func (t *typingTracker) expire(name string, seq uint64) bool {
	current, ok := t.active[name]
	if !ok || current != seq {
		return false
	}
	delete(t.active, name)
	return true
}

// names returns the typing set in stable (sorted) order.
func (t *typingTracker) names() []string {
	out := make([]string, 0, len(t.active))
	for name := range t.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
