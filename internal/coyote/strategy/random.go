package strategy

import "math/rand"

// Random chooses uniformly among the enabled set on every scheduling point
// and uniformly among booleans/integers. It is fair: every continuously
// enabled operation has, on each step, a nonzero chance of being picked, so
// over a sufficiently long run it is eventually chosen (spec.md §4.3 #1).
type Random struct {
	rng *rand.Rand
}

// NewRandom constructs a Random strategy seeded deterministically. Two
// instances built with the same seed produce identical decision sequences
// given identical (history, enabled) inputs, satisfying spec.md §8
// invariant 3 (determinism under seed).
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (s *Random) Name() string { return "random" }

func (s *Random) NextOperation(_ History, enabled []Enabled) OpID {
	return enabled[s.rng.Intn(len(enabled))].ID
}

func (s *Random) NextBoolean(_ History) bool {
	return s.rng.Intn(2) == 1
}

func (s *Random) NextInteger(_ History, max int) int {
	return s.rng.Intn(max)
}

func (s *Random) PrepareNextIteration() bool { return true }

func (s *Random) IsFair() bool { return true }
