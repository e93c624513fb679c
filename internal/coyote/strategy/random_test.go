package strategy

import "testing"

func TestRandomDeterministicUnderSeed(t *testing.T) {
	enabled := []Enabled{{ID: 1}, {ID: 2}, {ID: 3}}

	a := NewRandom(42)
	b := NewRandom(42)

	for i := 0; i < 50; i++ {
		if got, want := a.NextOperation(nil, enabled), b.NextOperation(nil, enabled); got != want {
			t.Fatalf("step %d: got %d, want %d (same seed must reproduce)", i, got, want)
		}
	}
}

func TestRandomOnlyChoosesEnabled(t *testing.T) {
	enabled := []Enabled{{ID: 5}, {ID: 9}}
	s := NewRandom(1)

	for i := 0; i < 100; i++ {
		id := s.NextOperation(nil, enabled)
		if id != 5 && id != 9 {
			t.Fatalf("chose %d, not in enabled set", id)
		}
	}
}

func TestRandomIsFair(t *testing.T) {
	if !NewRandom(0).IsFair() {
		t.Fatal("Random must report fair")
	}
}
