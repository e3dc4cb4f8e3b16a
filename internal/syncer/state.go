package syncer

import "fmt"

// State is the lifecycle position of a run.
type State int32

const (
	Idle State = iota
	Planning
	Verifying
	Transferring
	Finalizing
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Planning:
		return "planning"
	case Verifying:
		return "verifying"
	case Transferring:
		return "transferring"
	case Finalizing:
		return "finalizing"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Cancelled, Failed:
		return true
	default:
		return false
	}
}

var transitions = map[State][]State{
	Idle:         {Planning, Verifying},
	Planning:     {Transferring, Completed, Cancelled, Failed},
	Verifying:    {Completed, Cancelled, Failed},
	Transferring: {Finalizing, Completed, Cancelled, Failed},
	Finalizing:   {Transferring, Completed, Cancelled, Failed},
}

func isAllowedTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition returns an error for a move the lifecycle does not allow.
func checkTransition(from, to State) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	return nil
}
