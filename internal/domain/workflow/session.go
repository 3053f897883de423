package workflow

// SessionStatus represents the status of a single telephony attempt.
type SessionStatus string

const (
	SessionInitiated SessionStatus = "initiated"
	SessionRinging   SessionStatus = "ringing"
	SessionConnected SessionStatus = "connected"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// sessionRank orders session statuses along the live-call lifecycle.
// Terminal statuses share the highest rank; within one attempt the status
// is expected to be monotonic (initiated -> ringing -> connected -> terminal).
var sessionRank = map[SessionStatus]int{
	SessionInitiated: 0,
	SessionRinging:   1,
	SessionConnected: 2,
	SessionCompleted: 3,
	SessionFailed:    3,
	SessionCancelled: 3,
}

// String returns the string representation of the session status
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known session status
func (s SessionStatus) IsValid() bool {
	_, ok := sessionRank[s]
	return ok
}

// IsTerminal returns true for completed, failed and cancelled
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// MovesBackward reports whether applying the new status would rewind the
// session lifecycle. Equal statuses are not backward; reapplying them is a
// reconciler no-op.
func (s SessionStatus) MovesBackward(to SessionStatus) bool {
	return sessionRank[to] < sessionRank[s]
}
