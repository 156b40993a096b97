package session

// VisibilityState is the chat view's state as far as the engine cares:
// it gates unread counting and fetch-on-open, nothing else.
type VisibilityState int

const (
	// VisibilityClosed is the initial state; the view is not mounted
	VisibilityClosed VisibilityState = iota

	// VisibilityOpen means the user is looking at the room
	VisibilityOpen

	// VisibilityMinimized means the view is mounted but collapsed
	VisibilityMinimized
)

// String returns a human-readable visibility state for logs.
func (v VisibilityState) String() string {
	switch v {
	case VisibilityClosed:
		return "closed"
	case VisibilityOpen:
		return "open"
	case VisibilityMinimized:
		return "minimized"
	default:
		return "unknown"
	}
}

// visibility is the pure state machine behind unread badges.
// Allowed transitions: Closed -> Open, Open <-> Minimized.
// Messages keep accumulating in the timeline regardless of this state.
type visibility struct {
	state  VisibilityState
	unread int
}

func newVisibility() *visibility {
	return &visibility{state: VisibilityClosed}
}

// transition moves to the requested state if the edge is allowed.
// It returns true exactly when the view newly entered Open, which is the
// caller's cue to reset the unread count and trigger one history load.
func (v *visibility) transition(next VisibilityState) bool {
	if next == v.state {
		return false
	}
	switch {
	case v.state == VisibilityClosed && next == VisibilityOpen:
	case v.state == VisibilityOpen && next == VisibilityMinimized:
	case v.state == VisibilityMinimized && next == VisibilityOpen:
	default:
		return false
	}
	v.state = next
	if next == VisibilityOpen {
		v.unread = 0
		return true
	}
	return false
}

// recordInbound counts a confirmed inbound message toward the unread badge
// when the view is not open and the message was not authored locally.
func (v *visibility) recordInbound(fromSelf bool) {
	if fromSelf {
		return
	}
	if v.state != VisibilityOpen {
		v.unread++
	}
}
