package domain

// State is a step of the JIT enablement state machine.
type State string

const (
	StateIdle                  State = "idle"
	StatePreparingSupportImage State = "preparing_support_image"
	StateEstablishingTunnel    State = "establishing_tunnel"
	StateStartingDebugServer   State = "starting_debug_server"
	StateResolvingProcess      State = "resolving_process"
	StateAttaching             State = "attaching"
	StateAttached              State = "attached"
	StateDetaching             State = "detaching"
	StateCompleted             State = "completed"
	StateFailed                State = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Label is the human readable description used in text output.
func (s State) Label() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePreparingSupportImage:
		return "Preparing support image"
	case StateEstablishingTunnel:
		return "Establishing tunnel"
	case StateStartingDebugServer:
		return "Starting debug server"
	case StateResolvingProcess:
		return "Resolving process"
	case StateAttaching:
		return "Attaching debugger"
	case StateAttached:
		return "Attached"
	case StateDetaching:
		return "Detaching"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return string(s)
	}
}
