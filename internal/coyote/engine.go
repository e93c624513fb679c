package coyote

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orizon-lang/coyote/internal/coyote/coyoteerr"
	"github.com/orizon-lang/coyote/internal/coyote/telemetry"
)

// TestFunc is a user-written systematic test: the body of the implicit root
// operation (spec.md §4.1 "the root operation exists implicitly before any
// create_task/create_actor call").
type TestFunc func(ctx *Context)

// RunTest drives cfg.TestingIterations iterations of fn, stopping early if
// the strategy's PrepareNextIteration declines to continue (spec.md §4.3),
// and folds every iteration into one TestReport (spec.md §6).
func RunTest(testName string, fn TestFunc, cfg Config, tel *telemetry.Telemetry) *TestReport {
	if tel == nil {
		tel = telemetry.New(testName)
	}

	report := NewTestReport(testName)

	// One Strategy instance is shared across every iteration of this run: a
	// stateful strategy (DepthFirst's backtracking cursor, Random's rng
	// sequence, Portfolio's rotation) needs PrepareNextIteration's bookkeeping
	// to carry forward, which a strategy rebuilt from scratch each iteration
	// would silently discard.
	st := buildStrategy(cfg, cfg.RandomSeed, nil)

	// Every iteration's Runtime carries the same id for this run.
	runID := uuid.New()

	for i := 0; i < cfg.TestingIterations; i++ {
		tel.IterationStarted()

		rt := NewRuntime(cfg, st, "", tel)
		rt.RunID = runID

		start := time.Now()
		runIteration(rt, fn)
		elapsed := time.Since(start)

		// Bug and max-steps counters are recorded by the Runtime itself
		// when the iteration ends.
		result := rt.Result()
		tel.StepsRecorded(result.FairSteps + result.UnfairSteps)

		report.RecordIteration(i, result, elapsed)

		if !st.PrepareNextIteration() {
			break
		}
	}

	return report
}

// runIteration creates the root operation, kicks off the first scheduling
// decision, and waits for every spawned goroutine to unwind before the
// caller reads back the iteration's Result.
func runIteration(rt *Runtime, fn TestFunc) {
	rt.CreateTask(0, "root", func(ctx *Context) { fn(ctx) })
	rt.Start()
	rt.Wait()
}

// ReplayTrace re-drives exactly the schedule recorded in tj against fn,
// returning the single iteration's outcome (spec.md §6 "Replay"). A
// replay-mismatch finding means fn's schedulable choice points no longer
// line up with the recorded trace, e.g. because fn itself changed.
func ReplayTrace(tj *TraceJSON, fn TestFunc, tel *telemetry.Telemetry) (IterationResult, error) {
	if tel == nil {
		tel = telemetry.New(tj.TestName)
	}

	history, err := tj.ToHistory()
	if err != nil {
		return IterationResult{}, err
	}

	cfg := tj.ToConfig()
	st := buildStrategy(cfg, cfg.RandomSeed, history)
	rt := NewRuntime(cfg, st, "replay", tel)

	runIteration(rt, fn)

	return rt.Result(), nil
}

// Assert panics with a categorized safety finding when cond is false,
// recognized and propagated by runOperationBody without being mistaken for
// an arbitrary user panic (spec.md §7 "Assert(condition, message)").
func Assert(ctx *Context, cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	panic(coyoteerr.SafetyAssertion(sprintfOrPlain(format, args...), map[string]interface{}{"op_id": uint64(ctx.Self)}))
}

func sprintfOrPlain(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// CreateTask spawns a new operation from ctx's own operation.
func (ctx *Context) CreateTask(description string, body func(ctx *Context)) *Operation {
	return ctx.Runtime.CreateTask(ctx.Self, description, body)
}

// CreateActor spawns a new actor operation from ctx's own operation.
func (ctx *Context) CreateActor(description string, spec *StateMachineSpec, setup *Event) *Operation {
	return ctx.Runtime.CreateActor(ctx.Self, description, spec, setup)
}

// Send delivers ev to target's inbox (spec.md §4.1 send).
func (ctx *Context) Send(target *Operation, ev *Event) {
	ctx.Runtime.Send(ctx.Self, target, ev)
}

// Raise enqueues ev to be dispatched by ctx's own operation before any other
// pending event (spec.md §4.1 raise).
func (ctx *Context) Raise(ev *Event) {
	ctx.Runtime.Raise(ctx.Runtime.Operation(ctx.Self), ev)
}

// Yield introduces a scheduling point without blocking (spec.md §4.1 yield).
func (ctx *Context) Yield() {
	ctx.Runtime.Yield(ctx.Self)
}

// NondetBoolean returns a controlled nondeterministic boolean choice.
func (ctx *Context) NondetBoolean() bool {
	return ctx.Runtime.NondetBoolean(ctx.Self)
}

// NondetInteger returns a controlled nondeterministic value in [0, max).
func (ctx *Context) NondetInteger(max int) int {
	return ctx.Runtime.NondetInteger(ctx.Self, max)
}

// AcquireResource blocks ctx's operation until res can be acquired, then
// takes it (spec.md §4.1 resource acquire).
func (ctx *Context) AcquireResource(res *Resource) {
	ctx.Runtime.AcquireResource(ctx.Runtime.Operation(ctx.Self), res)
}

// ReleaseResource releases res held by ctx's operation.
func (ctx *Context) ReleaseResource(res *Resource) {
	ctx.Runtime.ReleaseResource(ctx.Runtime.Operation(ctx.Self), res)
}

// InterleaveMemoryAccess offers the scheduler a context switch around one
// shared-memory access (spec.md §4.2 InterleaveMemoryAccess).
func (ctx *Context) InterleaveMemoryAccess(kind AccessKind, addrHash uint64) {
	ctx.Runtime.InterleaveMemoryAccess(ctx.Self, kind, addrHash)
}

// InterleaveControlFlow offers the scheduler a context switch at an
// arbitrary user-chosen control-flow point.
func (ctx *Context) InterleaveControlFlow() {
	ctx.Runtime.InterleaveControlFlow(ctx.Self)
}
