package coyote

import (
	"hash/fnv"
	"sort"

	"github.com/dgraph-io/ristretto"

	"github.com/orizon-lang/coyote/internal/coyote/coyoteerr"
)

// Monitor is a liveness monitor: a hierarchical state machine with the same
// handler-table semantics as an actor (spec.md §4.1), except it never
// blocks, never appears in the enabled set, and its states are tagged
// hot/cold/neutral (spec.md §4.4).
type Monitor struct {
	Name string

	state       *actorState
	temperature int
	inHandler   bool // reentrancy guard: spec.md §9 decision 2
}

// NewMonitor instantiates a liveness monitor from a state machine spec.
// Monitors are not schedulable operations: create_monitor in spec.md §4.1
// does not go through the Operation Registry.
func NewMonitor(spec *StateMachineSpec) *Monitor {
	ctx := &Context{Props: make(map[string]interface{})}
	return &Monitor{Name: spec.Name, state: newActorState(spec, ctx)}
}

// Notify dispatches an event synchronously to the monitor (spec.md §4.4 (a):
// "events to monitors are dispatched synchronously from the sender's op (no
// scheduling point is introduced)"). Nested sends from inside the monitor's
// own handler are rejected per SPEC_FULL.md open-question decision 2.
func (m *Monitor) Notify(senderOp OpID, eventType EventType, payload interface{}) error {
	if m.inHandler {
		return coyoteerr.Internal("nested monitor send rejected: a monitor handler attempted to notify its own monitor",
			map[string]interface{}{"monitor": m.Name, "event_type": string(eventType)})
	}

	ev := &Event{Type: eventType, Payload: payload, OriginOp: senderOp}
	state := m.state.current()
	tr, ok := state.Handlers[eventType]
	if !ok {
		return coyoteerr.SafetyUnhandledEvent(uint64(senderOp), state.Name, string(eventType))
	}
	if tr.Action == ActionDefer {
		// Monitors never block, so "defer" has no queue to leave the event
		// in; treat it as a silent no-op transition.
		return nil
	}

	m.inHandler = true
	defer func() { m.inHandler = false }()

	return m.state.applyTransition(tr, ev)
}

// CurrentState returns the monitor's current state name.
func (m *Monitor) CurrentState() string {
	return m.state.stack[len(m.state.stack)-1]
}

// tag returns the StateTag of the monitor's current state.
func (m *Monitor) tag() StateTag {
	return m.state.current().Tag
}

// tick advances temperature by spec.md §4.4's rule and returns a
// liveness-bug error if the configured threshold is exceeded.
func (m *Monitor) tick(threshold int) *coyoteerr.CoyoteError {
	switch m.tag() {
	case StateHot:
		m.temperature++
		if m.temperature > threshold {
			return coyoteerr.LivenessTemperature(m.Name, m.CurrentState(), m.temperature, threshold)
		}
	case StateCold:
		m.temperature = 0
	}
	return nil
}

// LivenessCoordinator owns every Monitor instantiated for one iteration,
// plus the optional state-caching cycle detector of spec.md §4.4.
type LivenessCoordinator struct {
	monitors []*Monitor

	cycleCache *ristretto.Cache // hash -> empty marker that the hash was seen; nil unless state caching enabled
	accum      uint64           // running XOR of delivered events' HashedState contributions
}

func newLivenessCoordinator(stateCaching bool) (*LivenessCoordinator, error) {
	lc := &LivenessCoordinator{}
	if stateCaching {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, coyoteerr.Wrap(coyoteerr.CategoryInternal, "CACHE_INIT_FAILED", "failed to initialize state-caching cycle detector", err, nil)
		}
		lc.cycleCache = cache
	}
	return lc, nil
}

// Register adds a monitor to the coordinator.
func (lc *LivenessCoordinator) Register(m *Monitor) {
	lc.monitors = append(lc.monitors, m)
}

// observeEvent folds an event's hashed-state contribution into the running
// global-state accumulator (spec.md §3 Event "hashed_state").
func (lc *LivenessCoordinator) observeEvent(ev *Event) {
	lc.accum ^= ev.HashedState
}

// tick runs one fair scheduling step over every monitor (spec.md §4.2 step 7,
// §4.4), returning the first liveness violation encountered, if any.
func (lc *LivenessCoordinator) tick(threshold int, registry *Registry) *coyoteerr.CoyoteError {
	for _, m := range lc.monitors {
		if err := m.tick(threshold); err != nil {
			return err
		}
	}

	if lc.cycleCache == nil {
		return nil
	}
	return lc.checkCycle(registry)
}

// checkCycle hashes the current global state (every non-completed
// operation's status plus the accumulated event hash) and reports a
// liveness violation if that exact hash was already seen while some monitor
// is hot, and is seen again while a monitor is still hot.
func (lc *LivenessCoordinator) checkCycle(registry *Registry) *coyoteerr.CoyoteError {
	var hotMonitor *Monitor
	for _, m := range lc.monitors {
		if m.tag() == StateHot {
			hotMonitor = m
			break
		}
	}
	if hotMonitor == nil {
		return nil
	}

	h := lc.globalStateHash(registry)
	if _, found := lc.cycleCache.Get(h); found {
		return coyoteerr.LivenessCycle(hotMonitor.Name, hotMonitor.CurrentState(), h)
	}
	lc.cycleCache.Set(h, struct{}{}, 1)
	lc.cycleCache.Wait()
	return nil
}

func (lc *LivenessCoordinator) globalStateHash(registry *Registry) uint64 {
	ops := registry.all()
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })

	h := fnv.New64a()
	for _, op := range ops {
		if op.Status == StatusCompleted {
			continue
		}
		_, _ = h.Write([]byte{byte(op.ID), byte(op.ID >> 8), byte(op.Status)})
	}
	base := h.Sum64()
	return base ^ lc.accum
}
