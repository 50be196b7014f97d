package bridge

import "fmt"

// State is the lifecycle position of an invocation.
type State int

const (
	StateCreated State = iota
	StateSpawning
	StateRunning
	StateSucceeded
	StateRuntimeFailed
	StateParseFailed
	StateSpawnFailed
	StateTimedOut
)

var stateNames = map[State]string{
	StateCreated:       "created",
	StateSpawning:      "spawning",
	StateRunning:       "running",
	StateSucceeded:     "succeeded",
	StateRuntimeFailed: "runtime_failed",
	StateParseFailed:   "parse_failed",
	StateSpawnFailed:   "spawn_failed",
	StateTimedOut:      "timed_out",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateRuntimeFailed, StateParseFailed, StateSpawnFailed, StateTimedOut:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateCreated:  {StateSpawning, StateSpawnFailed, StateTimedOut},
	StateSpawning: {StateRunning, StateSpawnFailed, StateTimedOut},
	StateRunning:  {StateSucceeded, StateRuntimeFailed, StateParseFailed, StateTimedOut},
}

// CanTransition reports whether s -> to is a legal lifecycle step.
func (s State) CanTransition(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}
