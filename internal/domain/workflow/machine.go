package workflow

import "fmt"

// transitions is the full legal transition table for a call task.
// completed and cancelled are terminal and have no entry.
var transitions = map[State][]State{
	StatePending:        {StatePreparing, StateWaitingForUser, StateReadyToCall, StateCancelled},
	StatePreparing:      {StateWaitingForUser, StateReadyToCall, StateCancelled},
	StateWaitingForUser: {StateReadyToCall, StateCancelled},
	StateReadyToCall:    {StateInProgress, StateCancelled},
	StateInProgress:     {StateCompleted, StateFailed, StateCancelled},
	StateFailed:         {StateReadyToCall, StateCancelled},
}

// IsValidTransition reports whether moving from one state to another is
// permitted by the transition table. It is a pure lookup: unknown states,
// terminal states and self-transitions all return false.
func IsValidTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Guard validates a requested transition and returns ErrInvalidTransition
// (wrapped with the offending pair) when the table forbids it. Callers must
// not mutate stored state when Guard fails.
func Guard(from, to State) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	if !IsValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// AllowedFrom returns the states reachable from the given state.
func AllowedFrom(from State) []State {
	allowed := transitions[from]
	out := make([]State, len(allowed))
	copy(out, allowed)
	return out
}
