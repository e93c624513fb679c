package coyote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/coyote/internal/coyote/telemetry"
)

// racyFlag mirrors spec.md §8 scenario S1: two tasks race on an unsynchronized
// flag, one of them asserting it never observes the other's write.
func racyFlag(ctx *Context) {
	flag := new(bool)

	ctx.CreateTask("op0: set flag", func(ctx *Context) {
		ctx.Yield()
		*flag = true
	})
	ctx.CreateTask("op1: assert flag false", func(ctx *Context) {
		ctx.Yield()
		Assert(ctx, !*flag, "flag was concurrently set to true")
	})
}

// alwaysSafe never violates any assertion; every exploration of it must end
// normally.
func alwaysSafe(ctx *Context) {
	ctx.CreateTask("op0", func(ctx *Context) { ctx.Yield() })
	ctx.CreateTask("op1", func(ctx *Context) { ctx.Yield() })
}

func TestRunTestFindsRaceWithDepthFirstExhaustiveExploration(t *testing.T) {
	cfg := NewConfig(WithStrategy(StrategyDepthFirst), WithIterations(16))
	report := RunTest("racy-flag", racyFlag, cfg, telemetry.New("test"))

	assert.NotEmpty(t, report.BugMessages, "exhaustive depth-first exploration of a 2-op race must surface the bad interleaving")
}

func TestRunTestOnSafeTestNeverReportsABug(t *testing.T) {
	cfg := NewConfig(WithStrategy(StrategyRandom), WithSeed(1), WithIterations(25))
	report := RunTest("always-safe", alwaysSafe, cfg, telemetry.New("test"))

	assert.Empty(t, report.BugMessages)
	assert.Equal(t, 25, report.IterationsRun)
}

func TestRunTestIsDeterministicUnderTheSameSeed(t *testing.T) {
	cfg := NewConfig(WithStrategy(StrategyRandom), WithSeed(99), WithIterations(10))

	r1 := RunTest("racy-flag", racyFlag, cfg, telemetry.New("t1"))
	r2 := RunTest("racy-flag", racyFlag, cfg, telemetry.New("t2"))

	assert.Equal(t, r1.IterationsRun, r2.IterationsRun)
	assert.Equal(t, len(r1.BugMessages), len(r2.BugMessages))
	assert.Equal(t, r1.FairSteps, r2.FairSteps)
}

func TestRunTestDetectsDeadlockWhenNoOperationCanProgress(t *testing.T) {
	const ping EventType = "ping"

	deadlockTest := func(ctx *Context) {
		var a, b *Operation

		waiter := func(target func() *Operation) *StateMachineSpec {
			return &StateMachineSpec{
				Name:  "waiter",
				Start: "waiting",
				States: map[string]*StateDef{
					"waiting": {
						Name: "waiting",
						Handlers: map[EventType]Transition{
							ping: {
								Action: ActionHandle,
								Handler: func(ctx *Context, ev *Event) error {
									ctx.Send(target(), NewEvent(ping, nil))
									return nil
								},
							},
						},
					},
				},
			}
		}

		a = ctx.CreateActor("actor A", waiter(func() *Operation { return b }), nil)
		b = ctx.CreateActor("actor B", waiter(func() *Operation { return a }), nil)
	}

	cfg := NewConfig(WithStrategy(StrategyRandom), WithSeed(5), WithIterations(1))
	report := RunTest("deadlock", deadlockTest, cfg, telemetry.New("t"))

	require.Len(t, report.Notebook, 1)
	assert.NotEmpty(t, report.Notebook[0].BugMessage)
}

func TestReplayTraceReproducesOriginalOutcome(t *testing.T) {
	cfg := NewConfig(WithStrategy(StrategyDepthFirst), WithIterations(16))
	report := RunTest("racy-flag", racyFlag, cfg, telemetry.New("t"))
	require.NotEmpty(t, report.BugTraces, "expected at least one recorded bug trace to replay")

	var tj *TraceJSON
	for _, tr := range report.BugTraces {
		tj = tr.ToJSON("racy-flag", cfg, "")
		break
	}
	require.NotNil(t, tj)

	result, err := ReplayTrace(tj, racyFlag, telemetry.New("replay"))
	require.NoError(t, err)
	assert.Equal(t, EndSafetyBug, result.Kind)
	require.NotNil(t, result.Finding)
	assert.Contains(t, result.Finding.Error(), "flag was concurrently set to true")
}

func TestAssertPassesSilentlyWhenConditionHolds(t *testing.T) {
	cfg := NewConfig(WithStrategy(StrategyRandom), WithSeed(1), WithIterations(1))
	passing := func(ctx *Context) {
		Assert(ctx, true, "never fires")
	}
	report := RunTest("trivially-true", passing, cfg, telemetry.New("t"))
	assert.Empty(t, report.BugMessages)
}
