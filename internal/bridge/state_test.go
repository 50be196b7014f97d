package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateSpawning, true},
		{StateCreated, StateTimedOut, true},
		{StateCreated, StateSpawnFailed, true},
		{StateCreated, StateRunning, false},
		{StateCreated, StateSucceeded, false},
		{StateSpawning, StateRunning, true},
		{StateSpawning, StateSpawnFailed, true},
		{StateSpawning, StateTimedOut, true},
		{StateSpawning, StateSucceeded, false},
		{StateRunning, StateSucceeded, true},
		{StateRunning, StateRuntimeFailed, true},
		{StateRunning, StateParseFailed, true},
		{StateRunning, StateTimedOut, true},
		{StateRunning, StateSpawnFailed, false},
		{StateSucceeded, StateRunning, false},
		{StateTimedOut, StateSucceeded, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateSucceeded, StateRuntimeFailed, StateParseFailed, StateSpawnFailed, StateTimedOut} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{StateCreated, StateSpawning, StateRunning} {
		assert.False(t, s.Terminal(), s.String())
	}
	assert.Equal(t, "state(99)", State(99).String())
}

func TestInvocationRejectsInvalidTransition(t *testing.T) {
	inv := &invocation{id: "x", state: StateSucceeded, logger: testLogger()}
	assert.Error(t, inv.transition(StateRunning))
	assert.Equal(t, StateSucceeded, inv.state)
}

func TestKindTerminalState(t *testing.T) {
	assert.Equal(t, StateRuntimeFailed, KindRuntime.TerminalState())
	assert.Equal(t, StateParseFailed, KindParse.TerminalState())
	assert.Equal(t, StateTimedOut, KindTimeout.TerminalState())
	assert.Equal(t, StateSpawnFailed, KindSpawn.TerminalState())
	assert.Equal(t, StateSpawnFailed, KindPathResolution.TerminalState())
}
