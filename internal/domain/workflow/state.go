package workflow

// State represents a call task state in its lifecycle
type State string

const (
	StatePending        State = "pending"
	StatePreparing      State = "preparing"
	StateWaitingForUser State = "waiting_for_user"
	StateReadyToCall    State = "ready_to_call"
	StateInProgress     State = "in_progress"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

var validStates = map[State]bool{
	StatePending:        true,
	StatePreparing:      true,
	StateWaitingForUser: true,
	StateReadyToCall:    true,
	StateInProgress:     true,
	StateCompleted:      true,
	StateFailed:         true,
	StateCancelled:      true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateCancelled: true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid call task state
func (s State) IsValid() bool {
	return validStates[s]
}

// States returns all valid task states
func States() []State {
	return []State{
		StatePending,
		StatePreparing,
		StateWaitingForUser,
		StateReadyToCall,
		StateInProgress,
		StateCompleted,
		StateFailed,
		StateCancelled,
	}
}
