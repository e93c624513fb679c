package coyote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hotColdSpec() *StateMachineSpec {
	return &StateMachineSpec{
		Name:  "monitor",
		Start: "requested",
		States: map[string]*StateDef{
			"requested": {Name: "requested", Tag: StateHot, Handlers: map[EventType]Transition{
				"responded": {Action: ActionHandle, Goto: "responded"},
			}},
			"responded": {Name: "responded", Tag: StateCold, Handlers: map[EventType]Transition{
				"requested": {Action: ActionHandle, Goto: "requested"},
			}},
		},
	}
}

func TestMonitorTicksTemperatureOnlyInHotState(t *testing.T) {
	m := NewMonitor(hotColdSpec())

	for i := 0; i < 5; i++ {
		require.Nil(t, m.tick(100))
	}
	assert.Equal(t, 5, m.temperature)

	require.NoError(t, m.Notify(0, "responded", nil))
	assert.Equal(t, "responded", m.CurrentState())

	require.Nil(t, m.tick(100))
	assert.Equal(t, 0, m.temperature, "entering a cold state must reset temperature")
}

func TestMonitorReportsLivenessBugAboveThreshold(t *testing.T) {
	m := NewMonitor(hotColdSpec())

	var err error
	for i := 0; i < 5; i++ {
		if e := m.tick(3); e != nil {
			err = e
			break
		}
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIVENESS")
}

func TestMonitorRejectsNestedNotify(t *testing.T) {
	spec := &StateMachineSpec{
		Name:  "m",
		Start: "s0",
		States: map[string]*StateDef{
			"s0": {Name: "s0", Tag: StateNeutral, Handlers: map[EventType]Transition{
				"x": {Action: ActionHandle, Handler: func(ctx *Context, ev *Event) error { return nil }},
			}},
		},
	}
	m := NewMonitor(spec)
	m.inHandler = true

	err := m.Notify(0, "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INTERNAL")
}

func TestMonitorUnhandledEventIsSafetyError(t *testing.T) {
	m := NewMonitor(hotColdSpec())
	err := m.Notify(0, "nonexistent", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestLivenessCoordinatorChecksCycleOnlyWhileHot(t *testing.T) {
	lc, err := newLivenessCoordinator(true)
	require.NoError(t, err)

	registry := newRegistry()
	registry.create("op")

	coldMonitor := NewMonitor(&StateMachineSpec{
		Name: "cold", Start: "s",
		States: map[string]*StateDef{"s": {Name: "s", Tag: StateCold}},
	})
	lc.Register(coldMonitor)

	// No hot monitor: checkCycle must be a no-op regardless of repeated state.
	require.Nil(t, lc.checkCycle(registry))
	require.Nil(t, lc.checkCycle(registry))
}

func TestLivenessCoordinatorDetectsRevisitedHotState(t *testing.T) {
	lc, err := newLivenessCoordinator(true)
	require.NoError(t, err)

	registry := newRegistry()

	hotMonitor := NewMonitor(&StateMachineSpec{
		Name: "hot", Start: "s",
		States: map[string]*StateDef{"s": {Name: "s", Tag: StateHot}},
	})
	lc.Register(hotMonitor)

	require.Nil(t, lc.checkCycle(registry), "first sighting of this state must not report a bug")
	err2 := lc.checkCycle(registry)
	require.Error(t, err2)
	assert.Contains(t, err2.Error(), "LIVENESS")
}
