package event

// Type identifies the type of domain event
type Type string

const (
	TypeTaskCreated          Type = "call.task.created"
	TypeTaskStatusChanged    Type = "call.task.status_changed"
	TypeSessionStatusChanged Type = "call.session.status_changed"
	TypeCallCompleted        Type = "call.completed"
	TypeCallFailed           Type = "call.failed"
	TypeCallRetryScheduled   Type = "call.retry_scheduled"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeTaskCreated,
		TypeTaskStatusChanged,
		TypeSessionStatusChanged,
		TypeCallCompleted,
		TypeCallFailed,
		TypeCallRetryScheduled:
		return true
	default:
		return false
	}
}
