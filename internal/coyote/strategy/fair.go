package strategy

// Fair wraps an unfair inner strategy per spec.md §4.3 #5: for the first
// maxUnfairSteps scheduling decisions of an iteration it delegates to inner,
// then switches to round-robin over the enabled set for the rest of the
// iteration. The whole schedule is reported fair, which is what makes
// liveness checking sound when layered over an otherwise-unfair strategy
// (spec.md §8 invariant 6).
type Fair struct {
	inner          Strategy
	maxUnfairSteps int

	steps      int
	rrPosition int // index into the last-seen enabled set, round-robin cursor
	lastSeen   []OpID
}

// NewFair constructs the wrapper.
func NewFair(inner Strategy, maxUnfairSteps int) *Fair {
	if maxUnfairSteps < 0 {
		maxUnfairSteps = 0
	}
	return &Fair{inner: inner, maxUnfairSteps: maxUnfairSteps}
}

func (s *Fair) Name() string { return "fair(" + s.inner.Name() + ")" }

func (s *Fair) useInner() bool {
	return s.steps < s.maxUnfairSteps
}

func (s *Fair) NextOperation(history History, enabled []Enabled) OpID {
	defer func() { s.steps++ }()
	if s.useInner() {
		return s.inner.NextOperation(history, enabled)
	}

	// Round robin: advance from the last scheduled position, wrapping, and
	// always picking the next *enabled* op in op_id order relative to the
	// previously chosen id. This guarantees any continuously-enabled op is
	// chosen within len(enabled) steps (spec.md §8 invariant 6).
	ids := make([]OpID, len(enabled))
	for i, e := range enabled {
		ids[i] = e.ID
	}
	if len(s.lastSeen) == 0 {
		s.rrPosition = 0
	} else {
		// Find the smallest id strictly greater than the last chosen one;
		// wrap to the smallest id if none remains.
		last := s.lastSeen[s.rrPosition%len(s.lastSeen)]
		next := -1
		for i, id := range ids {
			if id > last {
				next = i
				break
			}
		}
		if next == -1 {
			next = 0
		}
		s.rrPosition = next
	}
	s.lastSeen = ids
	return ids[s.rrPosition]
}

func (s *Fair) NextBoolean(history History) bool {
	defer func() { s.steps++ }()
	if s.useInner() {
		return s.inner.NextBoolean(history)
	}
	// Beyond the unfair budget, alternate deterministically so replays of
	// the fair tail remain stable without consuming inner's randomness.
	return s.steps%2 == 0
}

func (s *Fair) NextInteger(history History, max int) int {
	defer func() { s.steps++ }()
	if s.useInner() {
		return s.inner.NextInteger(history, max)
	}
	return s.steps % max
}

func (s *Fair) PrepareNextIteration() bool {
	s.steps = 0
	s.rrPosition = 0
	s.lastSeen = nil
	return s.inner.PrepareNextIteration()
}

// IsFair always reports true: this is the entire point of the wrapper.
func (s *Fair) IsFair() bool { return true }
