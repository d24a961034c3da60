package worker

// State is the lifecycle state of a worker process.
type State int32

const (
	// StateStarting means the process was spawned but has not reported readiness.
	StateStarting State = iota
	// StateReady means the process reported readiness and accepts queries.
	StateReady
	// StateClosed means the process exited or was shut down. Terminal.
	StateClosed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
