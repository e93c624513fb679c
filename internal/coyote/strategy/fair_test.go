package strategy

import "testing"

func TestFairAlwaysReportsFair(t *testing.T) {
	f := NewFair(NewPriorityBounded(0, 3), 10)
	if !f.IsFair() {
		t.Fatal("Fair wrapper must always report fair regardless of inner strategy")
	}
}

func TestFairEventuallySchedulesEveryEnabledOp(t *testing.T) {
	// Once past the unfair budget, round robin must reach every
	// continuously-enabled operation within len(enabled) steps
	// (spec.md §8 invariant 6).
	f := NewFair(NewPriorityBounded(0, 0), 0)
	enabled := []Enabled{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}

	seen := make(map[OpID]bool)
	for i := 0; i < len(enabled); i++ {
		seen[f.NextOperation(nil, enabled)] = true
	}

	for _, e := range enabled {
		if !seen[e.ID] {
			t.Fatalf("op %d never scheduled within one round of round-robin", e.ID)
		}
	}
}

func TestFairUsesInnerDuringUnfairBudget(t *testing.T) {
	inner := NewRandom(7)
	f := NewFair(inner, 3)
	enabled := []Enabled{{ID: 1}, {ID: 2}}

	innerCheck := NewRandom(7)
	for i := 0; i < 3; i++ {
		got := f.NextOperation(nil, enabled)
		want := innerCheck.NextOperation(nil, enabled)
		if got != want {
			t.Fatalf("step %d within unfair budget: got %d, want delegate's choice %d", i, got, want)
		}
	}
}

func TestFairPrepareNextIterationResetsBudget(t *testing.T) {
	f := NewFair(NewRandom(0), 1)
	enabled := []Enabled{{ID: 1}, {ID: 2}}
	f.NextOperation(nil, enabled) // consumes the single unfair step

	if !f.PrepareNextIteration() {
		t.Fatal("PrepareNextIteration should delegate to inner's result")
	}
	if !f.useInner() {
		t.Fatal("budget must reset to 0 steps consumed after PrepareNextIteration")
	}
}
