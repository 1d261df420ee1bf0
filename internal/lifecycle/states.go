package lifecycle

// State is one of the six vendor-neutral order lifecycle states.
type State string

const (
	StateNew             State = "NEW"
	StateAccepted        State = "ACCEPTED"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCancelled       State = "CANCELLED"
	StateExpired         State = "EXPIRED"
)

// IsTerminal reports whether no further transition except a self-transition
// is valid from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateExpired:
		return true
	}
	return false
}

// validTransitions is the contract edge set. NEW may jump directly to a
// terminal state for immediate-or-cancel fills; PARTIALLY_FILLED tolerates
// repeated partial fills. Self-transitions are handled separately as
// idempotent no-ops.
var validTransitions = map[State][]State{
	StateNew:             {StateAccepted, StatePartiallyFilled, StateFilled, StateCancelled, StateExpired},
	StateAccepted:        {StatePartiallyFilled, StateFilled, StateCancelled, StateExpired},
	StatePartiallyFilled: {StateFilled, StateCancelled, StateExpired},
	StateFilled:          {},
	StateCancelled:       {},
	StateExpired:         {},
}

// CanTransition reports whether from may move to to. A self-transition is
// always permitted.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
