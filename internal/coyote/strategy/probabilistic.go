package strategy

import "math/rand"

// Probabilistic implements spec.md §4.3 #2: with probability 1/(2^bound) it
// makes a fresh pick, uniformly over all enabled operations (so the pick may
// land on the previously scheduled operation again); otherwise it keeps
// running the previous operation if it is still enabled. This biases toward long runs
// of a single operation, which tends to surface starvation bugs that a
// uniformly-random strategy dilutes across many short runs. Fair.
type Probabilistic struct {
	rng     *rand.Rand
	bound   int
	current OpID
	haveCur bool
}

// NewProbabilistic constructs the strategy with swap probability 1/(2^bound).
// bound must be >= 0; bound == 0 degenerates to "always swap" (equivalent to
// uniform random).
func NewProbabilistic(seed int64, bound int) *Probabilistic {
	if bound < 0 {
		bound = 0
	}
	return &Probabilistic{rng: rand.New(rand.NewSource(seed)), bound: bound}
}

func (s *Probabilistic) Name() string { return "probabilistic-random" }

func (s *Probabilistic) NextOperation(_ History, enabled []Enabled) OpID {
	swap := true
	if s.bound > 0 {
		denom := 1 << uint(s.bound)
		swap = s.rng.Intn(denom) == 0
	}

	if !swap && s.haveCur {
		for _, e := range enabled {
			if e.ID == s.current {
				return s.current
			}
		}
		// Previous op is no longer enabled; fall through to a fresh pick.
	}

	choice := enabled[s.rng.Intn(len(enabled))].ID
	s.current = choice
	s.haveCur = true
	return choice
}

func (s *Probabilistic) NextBoolean(_ History) bool {
	return s.rng.Intn(2) == 1
}

func (s *Probabilistic) NextInteger(_ History, max int) int {
	return s.rng.Intn(max)
}

func (s *Probabilistic) PrepareNextIteration() bool {
	s.haveCur = false
	return true
}

func (s *Probabilistic) IsFair() bool { return true }
