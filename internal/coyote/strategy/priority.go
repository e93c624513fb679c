package strategy

import "math/rand"

// PriorityBounded implements spec.md §4.3 #3: a total priority order over
// operations, with up to `bound` random priority-change points injected
// per iteration. At each scheduling point it picks the highest-priority
// enabled operation. It is unfair — a low-priority operation can be starved
// indefinitely — so liveness checking requires wrapping it with Fair.
type PriorityBounded struct {
	rng   *rand.Rand
	bound int

	priority     []OpID // priority[0] is highest
	changePoints map[int]struct{}
	step         int
}

// NewPriorityBounded constructs the strategy with up to `bound`
// priority-change points per iteration.
func NewPriorityBounded(seed int64, bound int) *PriorityBounded {
	if bound < 0 {
		bound = 0
	}
	return &PriorityBounded{rng: rand.New(rand.NewSource(seed)), bound: bound}
}

func (s *PriorityBounded) Name() string { return "priority-based-bounded" }

// ensurePriority lazily appends any newly-seen operation ids to the back of
// the current priority order (lowest priority), preserving the order of
// previously-seen ids.
func (s *PriorityBounded) ensurePriority(enabled []Enabled) {
	seen := make(map[OpID]struct{}, len(s.priority))
	for _, id := range s.priority {
		seen[id] = struct{}{}
	}
	for _, e := range enabled {
		if _, ok := seen[e.ID]; !ok {
			s.priority = append(s.priority, e.ID)
			seen[e.ID] = struct{}{}
		}
	}
}

func (s *PriorityBounded) NextOperation(_ History, enabled []Enabled) OpID {
	s.ensurePriority(enabled)
	s.step++

	if _, ok := s.changePoints[s.step]; ok && len(s.priority) > 1 {
		// Move a random operation to the front, demoting the rest by one.
		i := s.rng.Intn(len(s.priority))
		chosen := s.priority[i]
		rest := append(append([]OpID{}, s.priority[:i]...), s.priority[i+1:]...)
		s.priority = append([]OpID{chosen}, rest...)
	}

	enabledSet := make(map[OpID]struct{}, len(enabled))
	for _, e := range enabled {
		enabledSet[e.ID] = struct{}{}
	}
	for _, id := range s.priority {
		if _, ok := enabledSet[id]; ok {
			return id
		}
	}
	// Unreachable if ensurePriority ran correctly, but fall back safely.
	return enabled[0].ID
}

func (s *PriorityBounded) NextBoolean(_ History) bool {
	return s.rng.Intn(2) == 1
}

func (s *PriorityBounded) NextInteger(_ History, max int) int {
	return s.rng.Intn(max)
}

func (s *PriorityBounded) PrepareNextIteration() bool {
	s.priority = nil
	s.step = 0
	s.changePoints = make(map[int]struct{}, s.bound)
	// Spread up to `bound` change points over the next iteration's first
	// 1000 steps; iterations with fewer steps simply see fewer fire.
	for i := 0; i < s.bound; i++ {
		s.changePoints[s.rng.Intn(1000)+1] = struct{}{}
	}
	return true
}

func (s *PriorityBounded) IsFair() bool { return false }
