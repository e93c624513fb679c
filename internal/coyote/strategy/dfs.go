package strategy

// DepthFirst enumerates all decision sequences up to maxDepth choices,
// lexicographic over the enabled set, per spec.md §4.3 #4. It is unfair and
// intended for tiny search spaces where exhaustive coverage is tractable.
//
// The implementation keeps, across iterations, the index chosen at each
// decision point of the previous run plus how many alternatives existed at
// that point. PrepareNextIteration finds the rightmost decision point that
// still has an untried alternative, increments it, and discards everything
// after it — classic depth-first backtracking.
type DepthFirst struct {
	maxDepth int

	// schedule is the sequence of choice indices to replay for the run
	// currently in progress.
	schedule []int
	// sizes[i] is the number of alternatives that were available when
	// schedule[i] was chosen, recorded as the run progresses.
	sizes []int

	// replay cursor into schedule/sizes for the run in progress.
	cursor int
	// recorded choices made so far this run, rebuilt from scratch each run.
	recordedSizes []int

	exhausted bool
	started   bool
}

// NewDepthFirst constructs the strategy with a bound on decisions explored
// per iteration.
func NewDepthFirst(maxDepth int) *DepthFirst {
	if maxDepth <= 0 {
		maxDepth = 10000
	}
	return &DepthFirst{maxDepth: maxDepth}
}

func (s *DepthFirst) Name() string { return "depth-first" }

// nextIndex returns the choice index to use for a decision point offering
// `size` alternatives, replaying the previous run's choice where available
// and otherwise picking index 0 (lexicographically smallest).
func (s *DepthFirst) nextIndex(size int) int {
	var idx int
	if s.cursor < len(s.schedule) {
		idx = s.schedule[s.cursor]
		if idx >= size {
			idx = size - 1 // alternative set shrank; clamp defensively
		}
	} else {
		idx = 0
	}
	s.recordedSizes = append(s.recordedSizes, size)
	if s.cursor < len(s.schedule) {
		s.schedule[s.cursor] = idx
	} else {
		s.schedule = append(s.schedule, idx)
	}
	s.cursor++
	return idx
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *DepthFirst) NextOperation(_ History, enabled []Enabled) OpID {
	if len(s.recordedSizes) >= s.maxDepth {
		return enabled[0].ID
	}
	return enabled[s.nextIndex(len(enabled))].ID
}

func (s *DepthFirst) NextBoolean(_ History) bool {
	if len(s.recordedSizes) >= s.maxDepth {
		return false
	}
	return s.nextIndex(2) == 1
}

func (s *DepthFirst) NextInteger(_ History, max int) int {
	if max < 1 {
		max = 1
	}
	if len(s.recordedSizes) >= s.maxDepth {
		return 0
	}
	return s.nextIndex(max)
}

// PrepareNextIteration backtracks to the next unexplored lexicographic
// sequence, or reports false once the whole bounded tree has been covered.
func (s *DepthFirst) PrepareNextIteration() bool {
	if s.exhausted {
		return false
	}
	if !s.started {
		s.started = true
		s.cursor = 0
		s.recordedSizes = nil
		return true
	}

	// schedule/sizes now hold the run just completed (recordedSizes has the
	// authoritative per-position alternative counts; schedule has the
	// choices made).
	sizes := s.recordedSizes
	choices := s.schedule
	if len(choices) > len(sizes) {
		// The run ended before replaying the whole schedule.
		choices = choices[:len(sizes)]
	}
	for i := len(choices) - 1; i >= 0; i-- {
		if choices[i]+1 < sizes[i] {
			s.schedule = append([]int{}, choices[:i]...)
			s.schedule = append(s.schedule, choices[i]+1)
			s.cursor = 0
			s.recordedSizes = nil
			return true
		}
	}

	s.exhausted = true
	return false
}

func (s *DepthFirst) IsFair() bool { return false }
