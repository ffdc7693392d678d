// Package lifecycle manages the identity service's long-running
// workers: the JWK key refresher, the session reaper, and the HTTP
// listener. Each worker follows a finite state machine with validated
// transitions, and a [Group] starts and stops a set of workers
// together for service startup and graceful shutdown.
//
// The lifecycle flow for a healthy worker is:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may transition to Failed when the worker's
// run function returns an unexpected error, and both terminal states
// (Stopped, Failed) may transition back to Starting for restart.
//
// # Thread Safety
//
// State management in [Worker] is protected by a [sync.RWMutex]. All
// state reads and writes are safe for concurrent use by multiple
// goroutines.
package lifecycle

// State represents the lifecycle state of a worker. States form a
// finite state machine with validated transitions defined by
// [ValidTransition].
//
// The zero value ("") is not a valid state; workers are initialized
// with [StateUnknown] at construction time.
type State string

const (
	// StateUnknown is the initial state of a newly constructed worker
	// before Start has been called.
	StateUnknown State = "unknown"

	// StateStarting indicates the worker is in the process of starting.
	// This is a transient state set at the beginning of [Worker.Start].
	StateStarting State = "starting"

	// StateRunning indicates the worker's run function is executing.
	// This is the only state in which [Worker.Health] reports healthy.
	StateRunning State = "running"

	// StateStopping indicates the worker is shutting down: its context
	// has been canceled and Stop is waiting for the run function to
	// return.
	StateStopping State = "stopping"

	// StateStopped indicates the worker has completed a clean shutdown.
	// This is a terminal state. A stopped worker may be restarted by
	// calling [Worker.Start].
	StateStopped State = "stopped"

	// StateFailed indicates the worker's run function returned an
	// unexpected error. This is a terminal state. A failed worker may
	// be restarted by calling [Worker.Start].
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized lifecycle
// states. The zero value ("") is not valid.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning,
		StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is a terminal lifecycle state.
// A worker in a terminal state is not processing work and must be
// restarted to resume operation.
func (s State) IsTerminal() bool {
	switch s {
	case StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions defines the allowed state transitions for the worker
// lifecycle state machine. Each key is a source state, and the value is
// the set of states it may transition to. Transitions not present in
// this map are rejected by [ValidTransition].
//
// Transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Failed, Stopping
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting              (restart)
//	Failed   → Starting              (recovery restart)
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed, StateStopping},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether transitioning from state from to
// state to is allowed by the lifecycle state machine. Both from and to
// must be valid states, and the transition must be present in the
// [validTransitions] matrix. Same-state transitions (from == to) are
// always rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}
