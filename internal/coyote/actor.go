package coyote

import (
	"fmt"

	"github.com/orizon-lang/coyote/internal/coyote/coyoteerr"
)

// StateTag marks a state machine state for liveness purposes (spec.md §3
// "Liveness State"). Plain actors use StateNeutral; liveness monitors use
// StateHot/StateCold.
type StateTag int

const (
	StateNeutral StateTag = iota
	StateHot
	StateCold
)

// EventAction classifies how a state's handler table treats one event type
// (spec.md §4.1).
type EventAction int

const (
	ActionHandle EventAction = iota
	ActionDefer
	ActionIgnore
	ActionHalt
)

// Transition is one entry of a state's handler table.
type Transition struct {
	Action EventAction

	// Handler runs when Action == ActionHandle. It may be nil for a pure
	// goto/push/pop with no side effect.
	Handler func(ctx *Context, ev *Event) error

	// Goto names the state to transition to after Handler returns, empty
	// meaning "stay in the current state". Mutually exclusive with Push/Pop.
	Goto string
	// Push names a state to push onto the state stack (entering it while
	// remembering the current state).
	Push string
	// Pop, if true, pops the state stack back to the previous state.
	Pop bool

}

// StateDef is one state of a StateMachineSpec.
type StateDef struct {
	Name  string
	Tag   StateTag
	Entry func(ctx *Context) error
	Exit  func(ctx *Context) error

	// Handlers maps each recognized event type to its Transition. An event
	// type absent from this map is unhandled in this state.
	Handlers map[EventType]Transition
}

// StateMachineSpec is the user-declared behavior of an actor or monitor: a
// named set of states plus the name of the initial state.
type StateMachineSpec struct {
	Name   string
	States map[string]*StateDef
	Start  string
}

// Context is the execution environment handed to state entry/exit and event
// handlers, analogous to the teacher's ActorContext.
type Context struct {
	Self    OpID
	Sender  OpID
	Runtime *Runtime
	Props   map[string]interface{}
}

// Event is an immutable user-defined message, exactly per spec.md §3.
type Event struct {
	Type   EventType
	Payload interface{}

	OriginOp    OpID
	OriginState string

	MustHandle  bool
	AssertLimit int // 0 means "unset"; use NewEvent options to set
	AssumeLimit int // 0 means "unset"

	// HashedState contributes to the global state-caching hash used by the
	// liveness monitor's cycle detector (spec.md §4.4).
	HashedState uint64
}

// EventOption configures an Event at send time.
type EventOption func(*Event)

// WithMustHandle marks the event as must-handle (spec.md §4.1, §9 decision 3).
func WithMustHandle() EventOption { return func(e *Event) { e.MustHandle = true } }

// WithAssert sets an "assert <= n" cardinality invariant on this event type
// in the receiver's inbox (spec.md §4.1).
func WithAssert(n int) EventOption { return func(e *Event) { e.AssertLimit = n } }

// WithAssume sets an "assume <= n" constraint the scheduler must respect
// (spec.md §4.1, §9 decision 1).
func WithAssume(n int) EventOption { return func(e *Event) { e.AssumeLimit = n } }

// WithHashedState contributes to the cycle-detection hash (spec.md §4.4).
func WithHashedState(h uint64) EventOption { return func(e *Event) { e.HashedState = h } }

// NewEvent constructs an Event ready to pass to Runtime.Send.
func NewEvent(eventType EventType, payload interface{}, opts ...EventOption) *Event {
	ev := &Event{Type: eventType, Payload: payload}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// actorState is the per-operation actor substrate: inbox, handler-table
// driven dispatch, and the state stack (spec.md §4.1). All mutation happens
// while the owning Runtime holds its scheduling mutex — see the comment on
// Registry for the same invariant.
type actorState struct {
	spec  *StateMachineSpec
	stack []string // state stack; stack[len-1] is current

	inbox   []*Event
	raised  *Event
	halted  bool

	assertCounts map[EventType]int

	ctx *Context
}

func newActorState(spec *StateMachineSpec, ctx *Context) *actorState {
	return &actorState{
		spec:         spec,
		stack:        []string{spec.Start},
		assertCounts: make(map[EventType]int),
		ctx:          ctx,
	}
}

func (a *actorState) current() *StateDef {
	return a.spec.States[a.stack[len(a.stack)-1]]
}

// dispatchableIndex scans the inbox in arrival order for the first event
// classified Handle (or Ignore/Halt — those are also "dispatchable", they
// just don't run user code) in the current state, honoring defer (skip,
// leave in place). It returns -1 if no event is currently dispatchable.
//
// Callers must only trust this once unhandledIndex reports -1: an
// unclassified event earlier in the inbox is the real dequeue point and
// must be resolved (as a safety violation) before anything behind it, so
// this scan's own skip-unclassified-and-keep-looking behavior is only
// safe under that precondition.
func (a *actorState) dispatchableIndex() int {
	state := a.current()
	for i, ev := range a.inbox {
		tr, ok := state.Handlers[ev.Type]
		if !ok {
			continue
		}
		if tr.Action == ActionDefer {
			continue
		}
		return i
	}
	return -1
}

// unhandledIndex returns the index of the inbox event that would be
// dequeued next (the first non-deferred event, in arrival order) if that
// event is unhandled: its type has no Transition entry at all in the
// current state, or its sender marked it MustHandle but the current state
// classifies it Ignore (spec.md §9 decision 3: MustHandle overrides
// Ignore). Returns -1 if the next dequeue candidate is dispatchable
// instead, or if every event is deferred.
//
// Only the actual dequeue point matters here: an unhandled event queued
// behind a dispatchable one (spec.md §4.1 step 2, first permitted event in
// arrival order) must wait its turn, since dispatching what's ahead of it
// may goto a state that makes it handleable.
func (a *actorState) unhandledIndex() int {
	state := a.current()
	for i, ev := range a.inbox {
		tr, ok := state.Handlers[ev.Type]
		if !ok {
			return i
		}
		if tr.Action == ActionDefer {
			continue
		}
		if ev.MustHandle && tr.Action == ActionIgnore {
			return i
		}
		return -1
	}
	return -1
}

// pendingEventTypes returns the set of event types this actor is currently
// willing to dispatch, used to populate BlockOnInbox.
func (a *actorState) pendingEventTypes() map[EventType]struct{} {
	state := a.current()
	out := make(map[EventType]struct{}, len(state.Handlers))
	for t, tr := range state.Handlers {
		if tr.Action != ActionDefer {
			out[t] = struct{}{}
		}
	}
	return out
}

// applyTransition executes one dispatched event: exit/entry actions, the
// user handler, and goto/push/pop bookkeeping. It does not itself touch the
// inbox; the caller removes the dispatched event first.
func (a *actorState) applyTransition(tr Transition, ev *Event) error {
	if tr.Action == ActionHalt {
		a.halted = true
		return nil
	}
	if tr.Action == ActionIgnore {
		return nil
	}

	fromState := a.current()
	ev.OriginState = fromState.Name

	if tr.Handler != nil {
		if err := tr.Handler(a.ctx, ev); err != nil {
			return err
		}
	}

	switch {
	case tr.Pop:
		if len(a.stack) > 1 {
			if fromState.Exit != nil {
				if err := fromState.Exit(a.ctx); err != nil {
					return err
				}
			}
			a.stack = a.stack[:len(a.stack)-1]
		}
	case tr.Push != "":
		if fromState.Exit != nil {
			if err := fromState.Exit(a.ctx); err != nil {
				return err
			}
		}
		a.stack = append(a.stack, tr.Push)
		if next := a.current(); next.Entry != nil {
			if err := next.Entry(a.ctx); err != nil {
				return err
			}
		}
	case tr.Goto != "":
		if fromState.Exit != nil {
			if err := fromState.Exit(a.ctx); err != nil {
				return err
			}
		}
		a.stack[len(a.stack)-1] = tr.Goto
		if next := a.current(); next.Entry != nil {
			if err := next.Entry(a.ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

// enqueue appends ev to the inbox and enforces the "assert <= n" invariant,
// returning a *coyoteerr.CoyoteError if the cardinality bound is violated.
func (a *actorState) enqueue(ev *Event) *coyoteerr.CoyoteError {
	if a.halted {
		return nil // sends to a halted actor are silently ignored
	}
	a.inbox = append(a.inbox, ev)
	if ev.AssertLimit > 0 {
		a.assertCounts[ev.Type]++
		if a.assertCounts[ev.Type] > ev.AssertLimit {
			return coyoteerr.SafetyInboxAssertOverflow(0, string(ev.Type), ev.AssertLimit, a.assertCounts[ev.Type])
		}
	}
	return nil
}

// wouldViolateAssume reports whether enqueueing ev would exceed its
// "assume <= n" bound, without mutating the inbox.
func (a *actorState) wouldViolateAssume(ev *Event) bool {
	if ev.AssumeLimit <= 0 {
		return false
	}
	count := 0
	for _, e := range a.inbox {
		if e.Type == ev.Type {
			count++
		}
	}
	return count+1 > ev.AssumeLimit
}

// dequeueAt removes and returns the event at index i, decrementing its
// assert-cardinality bookkeeping.
func (a *actorState) dequeueAt(i int) *Event {
	ev := a.inbox[i]
	a.inbox = append(a.inbox[:i], a.inbox[i+1:]...)
	if ev.AssertLimit > 0 {
		a.assertCounts[ev.Type]--
	}
	return ev
}

func (a *actorState) String() string {
	return fmt.Sprintf("actor(state=%s, inbox=%d)", a.stack[len(a.stack)-1], len(a.inbox))
}
