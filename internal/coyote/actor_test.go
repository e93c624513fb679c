package coyote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	evA EventType = "A"
	evB EventType = "B"
)

func twoStateSpec() *StateMachineSpec {
	return &StateMachineSpec{
		Name:  "m",
		Start: "s0",
		States: map[string]*StateDef{
			"s0": {
				Name: "s0",
				Handlers: map[EventType]Transition{
					evA: {Action: ActionHandle, Goto: "s1"},
					evB: {Action: ActionDefer},
				},
			},
			"s1": {
				Name: "s1",
				Handlers: map[EventType]Transition{
					evB: {Action: ActionHandle},
				},
			},
		},
	}
}

func TestActorDispatchableIndexSkipsDeferred(t *testing.T) {
	a := newActorState(twoStateSpec(), &Context{})
	a.inbox = []*Event{{Type: evB}, {Type: evA}}

	idx := a.dispatchableIndex()
	require.Equal(t, 1, idx, "evB is deferred in s0; evA must be the dispatchable one")
}

func TestActorUnhandledIndexReportsUnknownEventType(t *testing.T) {
	a := newActorState(twoStateSpec(), &Context{})
	a.inbox = []*Event{{Type: "unknown"}}

	assert.Equal(t, 0, a.unhandledIndex())
}

func TestActorMustHandleOverridesIgnore(t *testing.T) {
	spec := &StateMachineSpec{
		Name:  "m",
		Start: "s0",
		States: map[string]*StateDef{
			"s0": {
				Name: "s0",
				Handlers: map[EventType]Transition{
					evA: {Action: ActionIgnore},
				},
			},
		},
	}
	a := newActorState(spec, &Context{})
	a.inbox = []*Event{{Type: evA, MustHandle: true}}

	assert.Equal(t, 0, a.unhandledIndex(), "MustHandle must override an Ignore classification")
}

func TestActorPlainIgnoreIsNotUnhandled(t *testing.T) {
	spec := &StateMachineSpec{
		Name:  "m",
		Start: "s0",
		States: map[string]*StateDef{
			"s0": {
				Name: "s0",
				Handlers: map[EventType]Transition{
					evA: {Action: ActionIgnore},
				},
			},
		},
	}
	a := newActorState(spec, &Context{})
	a.inbox = []*Event{{Type: evA}}

	assert.Equal(t, -1, a.unhandledIndex())
}

func TestActorUnhandledIndexWaitsBehindADispatchableEvent(t *testing.T) {
	a := newActorState(twoStateSpec(), &Context{})
	a.inbox = []*Event{{Type: evA}, {Type: "unknown"}}

	assert.Equal(t, -1, a.unhandledIndex(), "evA is dispatchable in s0 and dequeues first; the unhandled event behind it is not yet the dequeue point")
	assert.Equal(t, 0, a.dispatchableIndex())
}

func TestActorUnhandledIndexSkipsOverDeferredEvents(t *testing.T) {
	a := newActorState(twoStateSpec(), &Context{})
	a.inbox = []*Event{{Type: evB}, {Type: "unknown"}}

	assert.Equal(t, 1, a.unhandledIndex(), "evB is deferred in s0, so the unknown event behind it is the actual dequeue point")
}

func TestActorApplyTransitionGoto(t *testing.T) {
	a := newActorState(twoStateSpec(), &Context{Props: map[string]interface{}{}})
	tr := a.current().Handlers[evA]

	require.NoError(t, a.applyTransition(tr, &Event{Type: evA}))
	assert.Equal(t, "s1", a.current().Name)
}

func TestActorEnqueueEnforcesAssertLimit(t *testing.T) {
	a := newActorState(twoStateSpec(), &Context{})

	assert.Nil(t, a.enqueue(&Event{Type: evB, AssertLimit: 1}))
	err := a.enqueue(&Event{Type: evB, AssertLimit: 1})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "INBOX_ASSERT_OVERFLOW")
}

func TestActorWouldViolateAssume(t *testing.T) {
	a := newActorState(twoStateSpec(), &Context{})
	a.inbox = []*Event{{Type: evB}}

	assert.True(t, a.wouldViolateAssume(&Event{Type: evB, AssumeLimit: 1}))
	assert.False(t, a.wouldViolateAssume(&Event{Type: evA, AssumeLimit: 1}))
}

func TestActorHaltedEnqueueIsSilentlyIgnored(t *testing.T) {
	a := newActorState(twoStateSpec(), &Context{})
	a.halted = true

	require.Nil(t, a.enqueue(&Event{Type: evA}))
	assert.Empty(t, a.inbox)
}
