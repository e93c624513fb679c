// Package demo holds small, self-contained systematic tests used by
// cmd/coyote-test's "run" subcommand to exercise the engine end-to-end
// without requiring a user-supplied test binary. Each demo mirrors one of
// the scenarios in spec.md §8's testable-properties table.
package demo

import "github.com/orizon-lang/coyote/internal/coyote"

// Names lists the demos runnable by name.
var Names = []string{"racy-flag", "deadlock"}

// Lookup returns the TestFunc registered under name, or nil if unknown.
func Lookup(name string) coyote.TestFunc {
	switch name {
	case "racy-flag":
		return RacyFlag
	case "deadlock":
		return Deadlock
	default:
		return nil
	}
}

// RacyFlag is spec.md §8 scenario S1: two operations share a flag with no
// synchronization; op1 asserts what op0 is concurrently mutating. Run under
// enough iterations of any strategy, this reliably surfaces a safety bug.
func RacyFlag(ctx *coyote.Context) {
	flag := new(bool)

	ctx.CreateTask("op0: set flag", func(ctx *coyote.Context) {
		ctx.Yield()
		*flag = true
	})

	ctx.CreateTask("op1: assert flag false", func(ctx *coyote.Context) {
		ctx.Yield()
		coyote.Assert(ctx, !*flag, "flag was concurrently set to true")
	})
}

// Deadlock is spec.md §8 scenario S6: two actors each wait on a receive from
// the other, so neither can ever become enabled again once both are
// blocked — the Scheduler Core must report EndDeadlock rather than hang.
func Deadlock(ctx *coyote.Context) {
	const ping coyote.EventType = "ping"

	var actorA, actorB *coyote.Operation

	waitThenReply := func(target func() *coyote.Operation) *coyote.StateMachineSpec {
		return &coyote.StateMachineSpec{
			Name:  "waiter",
			Start: "waiting",
			States: map[string]*coyote.StateDef{
				"waiting": {
					Name: "waiting",
					Handlers: map[coyote.EventType]coyote.Transition{
						ping: {
							Action: coyote.ActionHandle,
							Handler: func(ctx *coyote.Context, ev *coyote.Event) error {
								ctx.Send(target(), coyote.NewEvent(ping, nil))
								return nil
							},
						},
					},
				},
			},
		}
	}

	actorA = ctx.CreateActor("actor A", waitThenReply(func() *coyote.Operation { return actorB }), nil)
	actorB = ctx.CreateActor("actor B", waitThenReply(func() *coyote.Operation { return actorA }), nil)

	// Neither actor has received anything yet: both stay parked on an empty
	// inbox until the other's reply arrives, which never happens because
	// delivering that reply itself requires the sender to run first.
}
