package assistant

// State is the position of a candidate's assistant session.
type State string

const (
	StateIdle           State = "idle"
	StateLaunching      State = "launching"
	StateConnected      State = "connected"
	StateCapturing      State = "capturing"
	StateFilling        State = "filling"
	StateSubmitted      State = "submitted"
	StateDryRunComplete State = "dry_run_complete"
	StateManualNeeded   State = "manual_needed"
	StateFailed         State = "failed"
)

var transitions = map[State][]State{
	StateIdle:           {StateLaunching},
	StateLaunching:      {StateConnected},
	StateConnected:      {StateCapturing, StateFilling},
	StateCapturing:      {StateConnected, StateFilling},
	StateFilling:        {StateSubmitted, StateDryRunComplete, StateManualNeeded, StateFailed, StateConnected},
	StateSubmitted:      {StateConnected},
	StateDryRunComplete: {StateConnected},
	StateManualNeeded:   {StateConnected},
	StateFailed:         {StateConnected},
}

// Terminal reports whether s ends an apply run.
func (s State) Terminal() bool {
	switch s {
	case StateSubmitted, StateDryRunComplete, StateManualNeeded, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether the machine may move from one state to
// another. Stop may return any state to idle.
func CanTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
