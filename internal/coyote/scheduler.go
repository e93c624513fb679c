package coyote

import (
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/orizon-lang/coyote/internal/coyote/coyoteerr"
	"github.com/orizon-lang/coyote/internal/coyote/strategy"
	"github.com/orizon-lang/coyote/internal/coyote/telemetry"
)

// iterationEndSignal unwinds every parked operation's goroutine back to its
// runOperationBody recover point once an iteration-ending condition fires,
// per spec.md §5 "Cancellation": "the scheduler unwinds by marking all ops
// Completed and releasing their waits; user-code must not observe
// scheduling points after iteration end."
type iterationEndSignal struct{}

// EndKind classifies how one testing iteration terminated (spec.md §2,
// "An iteration terminates on normal completion, assertion failure,
// deadlock, max-steps reached, or liveness violation").
type EndKind string

const (
	EndNormal              EndKind = "normal"
	EndSafetyBug           EndKind = "safety"
	EndDeadlock            EndKind = "deadlock"
	EndMaxSteps            EndKind = "max-steps"
	EndLivenessBug         EndKind = "liveness"
	EndUncontrolled        EndKind = "uncontrolled"
	EndReplayMismatch      EndKind = "replay-mismatch"
	EndInternalError       EndKind = "internal"
	EndAbortRequested      EndKind = "abort-requested"
)

// IterationResult is the outcome of one testing iteration, as returned by
// Runtime.Result.
type IterationResult struct {
	Kind          EndKind
	Finding       *coyoteerr.CoyoteError // nil on EndNormal
	Trace         *ExecutionTrace
	FairSteps     int
	UnfairSteps   int
	OperationsMax int
	ConcurrencyMax int
}

// uncontrolledEscape is a user-registered callback for foreign/uncontrolled
// code the scheduler cannot drive directly (spec.md §4.2 "Partially-
// controlled concurrency"). It returns true once the external work has
// resolved.
type uncontrolledEscape struct {
	description string
	resolved    func() bool
}

// Runtime is the Scheduler Core of spec.md §4.2: single-threaded arbiter of
// every controlled Operation. Exactly one Operation is permitted to make
// progress between two scheduling points (spec.md §5's mutual-exclusion
// invariant); this implementation realizes that via concurrency-model
// choice (b) — pooled goroutines gated by a shared mutex plus one
// 1-buffered resume channel per operation.
type Runtime struct {
	cfg Config

	mu       sync.Mutex
	registry *Registry
	trace    *ExecutionTrace
	liveness *LivenessCoordinator

	strategy      strategy.Strategy
	portfolioName string

	fairSteps   int
	unfairSteps int

	maxOperationsSeen   int
	maxConcurrencySeen  int

	ended   bool
	endKind EndKind
	endErr  *coyoteerr.CoyoteError

	pool pond.Pool
	wg   sync.WaitGroup

	clock clockwork.Clock

	uncontrolled []uncontrolledEscape

	telemetry *telemetry.Telemetry

	RunID uuid.UUID
}

// NewRuntime constructs a fresh Runtime for exactly one testing iteration.
// A Runtime is never reused across iterations (spec.md §3's Operation
// "Lifecycle: ... destroyed at iteration end (no cross-iteration identity").
func NewRuntime(cfg Config, st strategy.Strategy, portfolioName string, tel *telemetry.Telemetry) *Runtime {
	lc, err := newLivenessCoordinator(cfg.StateCachingEnabled)
	if err != nil {
		// Construction-time failure of an optional feature degrades to no
		// cycle detection rather than refusing to test at all.
		lc = &LivenessCoordinator{}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	rt := &Runtime{
		cfg:           cfg,
		registry:      newRegistry(),
		trace:         newExecutionTrace(),
		liveness:      lc,
		strategy:      st,
		portfolioName: portfolioName,
		clock:         clock,
		pool:          pond.NewPool(maxPoolWorkers(cfg)),
		telemetry:     tel,
		RunID:         uuid.New(),
	}
	return rt
}

func maxPoolWorkers(cfg Config) int {
	// Bound the goroutine pool generously relative to the step budgets: a
	// pathological test that spawns one operation per step should still be
	// gated by the pool rather than create unbounded goroutines.
	n := cfg.MaxFairSteps + cfg.MaxUnfairSteps
	if n < 64 {
		n = 64
	}
	if n > 4096 {
		n = 4096
	}
	return n
}

// RegisterMonitor attaches a liveness monitor to this iteration.
func (rt *Runtime) RegisterMonitor(m *Monitor) {
	rt.liveness.Register(m)
}

// RegisterUncontrolled records an escape into code the scheduler cannot
// directly drive (spec.md §4.2). resolved is polled with backoff when the
// enabled set is empty and IsPartiallyControlledConcurrencyAllowed is set.
func (rt *Runtime) RegisterUncontrolled(description string, resolved func() bool) {
	rt.mu.Lock()
	rt.uncontrolled = append(rt.uncontrolled, uncontrolledEscape{description: description, resolved: resolved})
	rt.mu.Unlock()
}

// CreateTask spawns a cooperatively-scheduled operation running body
// (spec.md §4.1 create_task). callerOp is the operation performing the
// spawn (zero value for the implicit root creation).
func (rt *Runtime) CreateTask(callerOp OpID, description string, body func(ctx *Context)) *Operation {
	rt.mu.Lock()
	op := rt.registry.create(description)
	op.Status = StatusEnabled
	rt.trackPeaksLocked()
	rt.mu.Unlock()

	ctx := &Context{Self: op.ID, Sender: callerOp, Runtime: rt, Props: make(map[string]interface{})}
	rt.spawn(op, func() { body(ctx) })

	rt.schedulingPoint(callerOp, PointCreate, op.ID, nil)
	return op
}

// CreateActor allocates an actor operation: a dispatch loop operation that
// dequeues and dispatches events per the inbox protocol of spec.md §4.1.
func (rt *Runtime) CreateActor(callerOp OpID, description string, spec *StateMachineSpec, setup *Event) *Operation {
	rt.mu.Lock()
	op := rt.registry.create(description)
	op.Status = StatusEnabled
	ctx := &Context{Self: op.ID, Sender: callerOp, Runtime: rt, Props: make(map[string]interface{})}
	op.actor = newActorState(spec, ctx)
	if setup != nil {
		setup.OriginOp = callerOp
		op.actor.inbox = append(op.actor.inbox, setup)
	}
	rt.trackPeaksLocked()
	rt.mu.Unlock()

	rt.spawn(op, func() { rt.runActorLoop(op) })

	rt.schedulingPoint(callerOp, PointCreate, op.ID, nil)
	return op
}

func (rt *Runtime) spawn(op *Operation, fn func()) {
	rt.wg.Add(1)
	rt.pool.Submit(func() {
		defer rt.wg.Done()
		defer close(op.done)
		rt.runOperationBody(op, fn)
	})
}

// runOperationBody parks the goroutine until first scheduled, then runs fn,
// recovering both the engine's own unwind signal and arbitrary user panics
// (spec.md §7 "user-raised exceptions inside a controlled operation are
// caught at the operation boundary").
func (rt *Runtime) runOperationBody(op *Operation, fn func()) {
	<-op.resume

	rt.mu.Lock()
	ended := rt.ended
	rt.mu.Unlock()
	if ended {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*iterationEndSignal); ok {
				return
			}
			if cerr, ok := r.(*coyoteerr.CoyoteError); ok {
				// Raised by Assert or similar user-facing helpers: already
				// correctly categorized, propagate as-is.
				rt.abort(endKindForCategory(cerr.Category), cerr)
				return
			}
			msg := fmt.Sprintf("unhandled panic of type %T in operation %d (%s): %v", r, op.ID, op.Description, r)
			rt.abort(EndSafetyBug, coyoteerr.SafetyAssertion(msg, map[string]interface{}{"op_id": uint64(op.ID)}))
			return
		}
		rt.onCompleted(op)
	}()

	fn()
}

// endKindForCategory maps an error category back to the iteration-ending
// reason it corresponds to, for panics raised directly by user-facing
// helpers like Assert rather than produced internally by the scheduler.
func endKindForCategory(cat coyoteerr.Category) EndKind {
	switch cat {
	case coyoteerr.CategoryLiveness:
		return EndLivenessBug
	case coyoteerr.CategoryDeadlock:
		return EndDeadlock
	case coyoteerr.CategoryUncontrolled:
		return EndUncontrolled
	case coyoteerr.CategoryReplay:
		return EndReplayMismatch
	case coyoteerr.CategoryInternal:
		return EndInternalError
	default:
		return EndSafetyBug
	}
}

// onCompleted is the implicit OnCompleted scheduling point run just before
// an operation's body returns normally.
func (rt *Runtime) onCompleted(op *Operation) {
	rt.schedulingPoint(op.ID, PointCompleted, 0, nil)
}

// runActorLoop is the dispatch-loop body for an actor operation: it repeats
// the four-step protocol of spec.md §4.1 until halted.
func (rt *Runtime) runActorLoop(op *Operation) {
	a := op.actor
	for {
		rt.mu.Lock()
		if rt.ended {
			rt.mu.Unlock()
			panic(&iterationEndSignal{})
		}
		if a.halted {
			rt.mu.Unlock()
			return
		}

		var ev *Event
		var tr Transition
		var idx int

		if a.raised != nil {
			ev = a.raised
			a.raised = nil
			tr = a.current().Handlers[ev.Type]
			idx = -1 // not in inbox
		} else if ui := a.unhandledIndex(); ui != -1 {
			unhandled := a.inbox[ui]
			state := a.current().Name
			rt.mu.Unlock()
			rt.abort(EndSafetyBug, coyoteerr.SafetyUnhandledEvent(uint64(op.ID), state, string(unhandled.Type)))
			panic(&iterationEndSignal{})
		} else if di := a.dispatchableIndex(); di != -1 {
			idx = di
			ev = a.inbox[di]
			tr = a.current().Handlers[ev.Type]
		} else {
			// Nothing dispatchable: block on the inbox predicate.
			pending := a.pendingEventTypes()
			op.Status = StatusBlocked
			op.BlockedBy = &BlockReason{Kind: BlockOnInbox, EventTypes: pending}
			rt.mu.Unlock()

			rt.schedulingPoint(op.ID, PointReceiveBlocking, 0, op.BlockedBy)
			continue
		}
		rt.mu.Unlock()

		if idx >= 0 {
			rt.mu.Lock()
			a.dequeueAt(idx)
			rt.mu.Unlock()
		}

		if err := a.applyTransition(tr, ev); err != nil {
			rt.abort(EndSafetyBug, coyoteerr.SafetyAssertion(err.Error(), map[string]interface{}{"op_id": uint64(op.ID)}))
			panic(&iterationEndSignal{})
		}

		// Processing one event is itself an interleaving opportunity.
		rt.schedulingPoint(op.ID, PointYield, 0, nil)
	}
}

// Send implements OnSend (spec.md §4.1, §4.2): enqueues ev into target's
// inbox (enforcing "assert <= n"/"assume <= n"), then reaches a scheduling
// point. Sending to a halted actor is silently ignored.
func (rt *Runtime) Send(senderOp OpID, target *Operation, ev *Event) {
	rt.mu.Lock()
	if target.actor == nil {
		rt.mu.Unlock()
		panic(coyoteerr.Internal("Send target is not an actor operation", map[string]interface{}{"op_id": uint64(target.ID)}))
	}

	ev.OriginOp = senderOp

	if target.actor.wouldViolateAssume(ev) {
		rt.mu.Unlock()
		rt.endUninteresting()
		panic(&iterationEndSignal{})
	}

	if cerr := target.actor.enqueue(ev); cerr != nil {
		rt.mu.Unlock()
		rt.abort(EndSafetyBug, cerr)
		panic(&iterationEndSignal{})
	}

	rt.liveness.observeEvent(ev)
	rt.mu.Unlock()

	rt.schedulingPoint(senderOp, PointSend, target.ID, nil)
}

// Raise schedules ev to be handled by the caller's own actor loop next,
// ahead of any queued inbox event (spec.md §4.1 step 1).
func (rt *Runtime) Raise(op *Operation, ev *Event) {
	rt.mu.Lock()
	ev.OriginOp = op.ID
	op.actor.raised = ev
	rt.mu.Unlock()
}

// Yield implements the voluntary OnYield scheduling point.
func (rt *Runtime) Yield(op OpID) {
	rt.schedulingPoint(op, PointYield, 0, nil)
}

// ContinueWith implements OnContinueWith: a task-continuation scheduling
// point, used when a controlled async operation resumes after an await-like
// boundary modeled as a fresh continuation operation (spec.md §9).
func (rt *Runtime) ContinueWith(op, continuation OpID) {
	rt.schedulingPoint(op, PointContinueWith, continuation, nil)
}

// InterleaveMemoryAccess implements the shared-memory scheduling point.
func (rt *Runtime) InterleaveMemoryAccess(op OpID, kind AccessKind, addrHash uint64) {
	rt.mu.Lock()
	opRef := rt.registry.get(op)
	if opRef != nil {
		opRef.LastCallsite = fmt.Sprintf("mem:%s:%x", kind, addrHash)
	}
	rt.mu.Unlock()
	rt.schedulingPoint(op, PointInterleaveMemoryAccess, 0, nil)
}

// InterleaveControlFlow implements the conditional-branch scheduling point.
func (rt *Runtime) InterleaveControlFlow(op OpID) {
	rt.schedulingPoint(op, PointInterleaveControlFlow, 0, nil)
}

// Operation looks up a live operation by id, for callers (like Context) that
// only carry an OpID and need the *Operation handle Send/AcquireResource
// expect.
func (rt *Runtime) Operation(id OpID) *Operation {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.registry.get(id)
}

// AcquireResource implements OnResourceAcquire: blocks the caller until the
// resource's capacity predicate holds, then acquires a slot.
func (rt *Runtime) AcquireResource(op *Operation, res *Resource) {
	for {
		rt.mu.Lock()
		if res.satisfied() {
			res.acquire()
			rt.mu.Unlock()
			rt.schedulingPoint(op.ID, PointResourceAcquire, 0, nil)
			return
		}
		op.Status = StatusBlocked
		op.BlockedBy = &BlockReason{Kind: BlockOnResource, Resource: res.id}
		blockReason := op.BlockedBy
		rt.mu.Unlock()

		rt.schedulingPoint(op.ID, PointResourceAcquire, 0, blockReason)
	}
}

// ReleaseResource implements OnResourceRelease. Every operation blocked on a
// resource with res's id is re-enabled; each re-checks the resource in its
// own AcquireResource loop when it next runs.
func (rt *Runtime) ReleaseResource(op *Operation, res *Resource) {
	res.release()
	rt.mu.Lock()
	for _, waiter := range rt.registry.all() {
		if waiter.Status == StatusBlocked && waiter.BlockedBy != nil &&
			waiter.BlockedBy.Kind == BlockOnResource && waiter.BlockedBy.Resource == res.id {
			waiter.Status = StatusEnabled
			waiter.BlockedBy = nil
		}
	}
	rt.mu.Unlock()
	rt.schedulingPoint(op.ID, PointResourceRelease, 0, nil)
}

// NondetBoolean implements the NondeterministicBoolean scheduling point
// (spec.md §4.2 step 5: no context switch is implied).
func (rt *Runtime) NondetBoolean(op OpID) bool {
	return rt.schedulingDataPoint(op, PointNondetBoolean, 2).value == 1
}

// NondetInteger implements NondeterministicInteger.
func (rt *Runtime) NondetInteger(op OpID, max int) int {
	if max < 1 {
		max = 1
	}
	return rt.schedulingDataPoint(op, PointNondetInteger, max).value
}

type dataChoice struct{ value int }

func (rt *Runtime) schedulingDataPoint(op OpID, kind PointKind, max int) dataChoice {
	rt.mu.Lock()
	rt.checkEndedLocked() // unlocks and panics if the iteration already ended

	caller := rt.registry.get(op)
	caller.SequenceID++
	rt.reevaluateLocked()
	caller.Status = StatusEnabled

	var d SchedulingDecision
	d.CurrentOp = op
	d.SequenceID = caller.SequenceID
	d.Kind = kind
	d.IsDataChoice = true

	var value int
	if kind == PointNondetBoolean {
		b := rt.strategy.NextBoolean(rt.trace.History())
		d.BoolValue = b
		if b {
			value = 1
		}
	} else {
		value = rt.strategy.NextInteger(rt.trace.History(), max)
		if value < 0 {
			value = 0
		}
		if value >= max {
			value = max - 1
		}
		d.IntValue = value
	}

	rt.trace.append(d)
	rt.accountStepLocked()
	ended := rt.ended
	rt.mu.Unlock()
	if ended {
		panic(&iterationEndSignal{})
	}
	return dataChoice{value: value}
}

// schedulingPoint is the single implementation of the spec.md §4.2
// arbitration algorithm. blockReason, if non-nil, overrides step 3's
// default "treat X as Enabled" with "X is Blocked for this reason" — used
// by OnReceiveBlocking and OnResourceAcquire.
func (rt *Runtime) schedulingPoint(callerID OpID, kind PointKind, targetHint OpID, blockReason *BlockReason) {
	rt.mu.Lock()
	rt.checkEndedLocked()

	caller := rt.registry.get(callerID)
	if caller == nil {
		// The implicit root creation call (callerID == 0) has no
		// registered operation of its own; nothing to update.
		rt.mu.Unlock()
		return
	}
	caller.SequenceID++
	if targetHint != 0 {
		caller.LastCallsite = fmt.Sprintf("%s->op(%d)", kind, targetHint)
	} else {
		caller.LastCallsite = kind.String()
	}

	rt.reevaluateLocked()

	switch {
	case kind == PointCompleted:
		caller.Status = StatusCompleted
	case blockReason != nil:
		caller.Status = StatusBlocked
		caller.BlockedBy = blockReason
	default:
		caller.Status = StatusEnabled
		caller.BlockedBy = nil
	}

	rt.trackPeaksLocked()

	enabled := rt.registry.enabled()
	if len(enabled) == 0 {
		if rt.handleNoEnabledLocked() {
			// The iteration has ended (mu already released). A completing
			// operation simply finishes its own goroutine normally; every
			// other caller must unwind via the iteration-end signal rather
			// than observe a scheduling point past iteration end.
			if kind == PointCompleted {
				return
			}
			panic(&iterationEndSignal{})
		}
		enabled = rt.registry.enabled()
		if len(enabled) == 0 {
			// handleNoEnabledLocked resolved uncontrolled concurrency but
			// nothing became enabled; nothing left to do this step.
			rt.mu.Unlock()
			panic(&iterationEndSignal{})
		}
	}

	choices := make([]strategy.Enabled, len(enabled))
	for i, op := range enabled {
		choices[i] = strategy.Enabled{ID: strategy.OpID(op.ID), GroupID: op.GroupID}
	}

	var chosen *Operation
	chosenID, mismatch := rt.pickNext(choices)
	if mismatch != nil {
		rt.mu.Unlock()
		kind := EndReplayMismatch
		if mismatch.Category != coyoteerr.CategoryReplay {
			kind = EndInternalError
		}
		rt.abort(kind, mismatch)
		panic(&iterationEndSignal{})
	}
	for _, op := range enabled {
		if op.ID == OpID(chosenID) {
			chosen = op
			break
		}
	}
	if chosen == nil {
		chosen = enabled[0]
	}

	rt.trace.append(SchedulingDecision{
		CurrentOp:  callerID,
		SequenceID: caller.SequenceID,
		Kind:       kind,
		NextOp:     chosen.ID,
		NextSeq:    chosen.SequenceID,
	})

	rt.accountStepLocked()
	if rt.ended {
		rt.mu.Unlock()
		panic(&iterationEndSignal{})
	}

	sameOp := chosen.ID == callerID
	if !sameOp {
		rt.signalResume(chosen)
	}
	rt.mu.Unlock()

	// A completing operation is never resumed again: its goroutine returns
	// right after this point instead of waiting for its turn.
	if !sameOp && kind != PointCompleted {
		<-caller.resume
		rt.mu.Lock()
		ended := rt.ended
		rt.mu.Unlock()
		if ended {
			panic(&iterationEndSignal{})
		}
	}
}

// Start performs the engine's own implicit first scheduling point: with no
// operation yet holding the floor, the Runtime itself must pick which newly
// created operation (normally just the root) runs first. Callers create the
// root operation via CreateTask/CreateActor with callerOp 0 (a no-op as far
// as schedulingPoint is concerned, since there is no caller operation to
// update) and then call Start exactly once to kick off the iteration, and
// Wait to block until it concludes.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	rt.reevaluateLocked()

	enabled := rt.registry.enabled()
	if len(enabled) == 0 {
		if rt.handleNoEnabledLocked() {
			return
		}
		enabled = rt.registry.enabled()
		if len(enabled) == 0 {
			rt.mu.Unlock()
			return
		}
	}

	choices := make([]strategy.Enabled, len(enabled))
	for i, op := range enabled {
		choices[i] = strategy.Enabled{ID: strategy.OpID(op.ID), GroupID: op.GroupID}
	}

	chosenID, mismatch := rt.pickNext(choices)
	if mismatch != nil {
		rt.endLocked(EndReplayMismatch, mismatch)
		rt.mu.Unlock()
		return
	}

	var chosen *Operation
	for _, op := range enabled {
		if op.ID == OpID(chosenID) {
			chosen = op
			break
		}
	}
	if chosen == nil {
		chosen = enabled[0]
	}

	rt.trace.append(SchedulingDecision{Kind: PointCreate, NextOp: chosen.ID, NextSeq: chosen.SequenceID})
	rt.accountStepLocked()
	rt.signalResume(chosen)
	rt.mu.Unlock()
}

// pickNext calls the strategy, converting a *strategy.ReplayMismatchError
// panic (raised by strategy.Replay) into a returned error instead of letting
// it propagate as a bare panic through user-operation goroutines.
func (rt *Runtime) pickNext(enabled []strategy.Enabled) (id strategy.OpID, mismatch *coyoteerr.CoyoteError) {
	defer func() {
		if r := recover(); r != nil {
			if rme, ok := r.(interface{ Error() string }); ok {
				mismatch = coyoteerr.New(coyoteerr.CategoryReplay, "DECISION_MISMATCH", rme.Error(), nil)
			} else {
				mismatch = coyoteerr.Internal(fmt.Sprintf("strategy panicked: %v", r), nil)
			}
		}
	}()
	return rt.strategy.NextOperation(rt.trace.History(), enabled), nil
}

// signalResume wakes an operation's goroutine; non-blocking since the
// channel is 1-buffered and only ever has one outstanding wake.
func (rt *Runtime) signalResume(op *Operation) {
	select {
	case op.resume <- struct{}{}:
	default:
	}
}

// reevaluateLocked promotes every Blocked operation whose predicate now
// holds to Enabled (spec.md §4.2 step 2). Called with rt.mu held.
func (rt *Runtime) reevaluateLocked() {
	for _, op := range rt.registry.all() {
		if op.Status != StatusBlocked || op.BlockedBy == nil {
			continue
		}
		if rt.predicateHolds(op.BlockedBy) {
			op.Status = StatusEnabled
			op.BlockedBy = nil
		}
	}
}

func (rt *Runtime) predicateHolds(reason *BlockReason) bool {
	switch reason.Kind {
	case BlockOnOperation:
		target := rt.registry.get(reason.WaitOp)
		return target == nil || target.Status == StatusCompleted
	case BlockOnResource:
		// Resource identity is looked up by the caller at acquire time;
		// the registry only records the pending resource's id, so
		// re-checking happens in the AcquireResource retry loop itself.
		// Conservatively report not-yet-satisfied here; ReleaseResource
		// re-enables the waiters, and AcquireResource's own loop
		// re-validates on every wake.
		return false
	case BlockOnInbox:
		// The owning operation is the only one with access to its own
		// actorState; find it back through the registry.
		for _, op := range rt.registry.all() {
			if op.BlockedBy == reason && op.actor != nil {
				return op.actor.dispatchableIndex() != -1 || op.actor.raised != nil || op.actor.unhandledIndex() != -1
			}
		}
		return false
	default:
		return false
	}
}

// trackPeaksLocked updates the all-time-high operation/concurrency counters
// reported in TestReport.
func (rt *Runtime) trackPeaksLocked() {
	all := rt.registry.all()
	if len(all) > rt.maxOperationsSeen {
		rt.maxOperationsSeen = len(all)
	}
	active := 0
	for _, op := range all {
		if op.Status == StatusEnabled || op.Status == StatusBlocked {
			active++
		}
	}
	if active > rt.maxConcurrencySeen {
		rt.maxConcurrencySeen = active
	}
	if rt.telemetry != nil {
		rt.telemetry.SetActiveOperations(active)
	}
}

// accountStepLocked advances the fair/unfair step counters, ticks liveness
// on fair steps, and enforces step budgets (spec.md §4.2 steps 7-8).
func (rt *Runtime) accountStepLocked() {
	fair := rt.strategy.IsFair()
	if fair {
		rt.fairSteps++
	} else {
		rt.unfairSteps++
	}

	if rt.cfg.LivenessCheckingEnabled && fair {
		if cerr := rt.liveness.tick(rt.cfg.LivenessTemperatureThreshold, rt.registry); cerr != nil {
			rt.endLocked(EndLivenessBug, cerr)
			return
		}
	}

	if rt.fairSteps > rt.cfg.MaxFairSteps || rt.unfairSteps > rt.cfg.MaxUnfairSteps {
		if rt.telemetry != nil {
			rt.telemetry.MaxStepsBoundHit()
		}
		rt.endLocked(EndMaxSteps, nil)
	}
}

// handleNoEnabledLocked runs when the enabled set is empty (spec.md §4.2
// step 4). It returns true if the iteration has ended as a result (the
// caller must not proceed past this scheduling point). mu is held on entry
// and released before returning true; it remains held on returning false.
func (rt *Runtime) handleNoEnabledLocked() bool {
	if len(rt.registry.nonCompleted()) == 0 {
		rt.endLocked(EndNormal, nil)
		rt.mu.Unlock()
		return true
	}

	if rt.cfg.IsPartiallyControlledConcurrencyAllowed && len(rt.uncontrolled) > 0 {
		uncontrolled := append([]uncontrolledEscape{}, rt.uncontrolled...)
		attempts := rt.cfg.UncontrolledConcurrencyResolutionAttempts
		delay := rt.cfg.UncontrolledConcurrencyResolutionDelay
		rt.mu.Unlock()

		resolved := rt.pollUncontrolled(uncontrolled, attempts, delay)

		rt.mu.Lock()
		if resolved {
			return false // caller re-checks the enabled set
		}
		rt.endLocked(EndUncontrolled, coyoteerr.UncontrolledInvocation(
			fmt.Sprintf("%d uncontrolled invocation(s) did not resolve within %d attempts", len(uncontrolled), attempts)))
		rt.mu.Unlock()
		return true
	}

	// No uncontrolled escapes are registered, so nothing outside the
	// Runtime's own mutex-protected state could ever change here; waiting
	// out cfg.DeadlockTimeout would be a pure stall. DeadlockTimeout is
	// still recorded in trace Settings (spec.md §6) for replay fidelity,
	// but only the uncontrolled-concurrency path above actually sleeps.
	blocked := make([]uint64, 0)
	for _, op := range rt.registry.nonCompleted() {
		blocked = append(blocked, uint64(op.ID))
	}
	rt.endLocked(EndDeadlock, coyoteerr.Deadlock(blocked))
	rt.mu.Unlock()
	return true
}

// pollUncontrolled polls every registered uncontrolled escape with a
// constant backoff (SPEC_FULL.md's cenkalti/backoff wiring), sleeping on the
// Runtime's injected clockwork.Clock rather than real time so tests can
// substitute a clockwork.FakeClock and advance it deterministically.
func (rt *Runtime) pollUncontrolled(escapes []uncontrolledEscape, attempts int, delay time.Duration) bool {
	resolved := func() bool {
		for _, e := range escapes {
			if !e.resolved() {
				return false
			}
		}
		return true
	}

	if resolved() {
		return true
	}

	bo := backoff.NewConstantBackOff(delay)
	for i := 0; i < attempts; i++ {
		rt.clock.Sleep(bo.NextBackOff())
		if resolved() {
			return true
		}
	}
	return false
}

// checkEndedLocked panics the iteration-end signal if the iteration already
// concluded, preventing any further user-visible scheduling points.
func (rt *Runtime) checkEndedLocked() {
	if rt.ended {
		rt.mu.Unlock()
		panic(&iterationEndSignal{})
	}
}

// endLocked marks the iteration ended and wakes every parked operation so
// their goroutines unwind via iterationEndSignal. Must be called with mu
// held; it does not release mu.
func (rt *Runtime) endLocked(kind EndKind, err *coyoteerr.CoyoteError) {
	if rt.ended {
		return
	}
	rt.ended = true
	rt.endKind = kind
	rt.endErr = err
	if rt.telemetry != nil && err != nil {
		rt.telemetry.BugFound(string(err.Category))
	}
	for _, op := range rt.registry.all() {
		if op.Status != StatusCompleted {
			rt.signalResume(op)
		}
	}
}

// abort is the externally-callable counterpart of endLocked for call sites
// that do not already hold rt.mu.
func (rt *Runtime) abort(kind EndKind, err *coyoteerr.CoyoteError) {
	rt.mu.Lock()
	rt.endLocked(kind, err)
	rt.mu.Unlock()
}

// endUninteresting aborts the iteration benignly (spec.md §4.1 "assume"
// violation: "the iteration is aborted as uninteresting, not failing").
func (rt *Runtime) endUninteresting() {
	rt.abort(EndNormal, nil)
}

// Abort stops the iteration in progress from outside any controlled
// operation, e.g. an engine-level wall-clock timeout wrapping one call to
// RunTest. Safe to call more than once or after the iteration has already
// concluded on its own.
func (rt *Runtime) Abort(reason string) {
	rt.abort(EndAbortRequested, coyoteerr.New(coyoteerr.CategoryInternal, "ABORT_REQUESTED", reason, nil))
}

// Result finalizes and returns the outcome of this iteration. Callers must
// call Wait first to ensure every operation goroutine has unwound.
func (rt *Runtime) Result() IterationResult {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.trace.Descriptions = rt.registry.descriptions()
	return IterationResult{
		Kind:           rt.endKind,
		Finding:        rt.endErr,
		Trace:          rt.trace,
		FairSteps:      rt.fairSteps,
		UnfairSteps:    rt.unfairSteps,
		OperationsMax:  rt.maxOperationsSeen,
		ConcurrencyMax: rt.maxConcurrencySeen,
	}
}

// Wait blocks until every spawned operation goroutine has returned and
// shuts down the goroutine pool.
func (rt *Runtime) Wait() {
	rt.wg.Wait()
	rt.pool.StopAndWait()
}

