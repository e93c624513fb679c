package coyote

import (
	"time"

	"github.com/orizon-lang/coyote/internal/coyote/coyoteerr"
)

// aggregate tracks a running min/max/sum/count so that Merge can recombine
// two aggregates associatively (spec.md §8 invariant 5) without needing the
// original per-iteration samples.
type aggregate struct {
	Min, Max int
	Sum      int64
	N        int
}

func (a *aggregate) observe(v int) {
	if a.N == 0 || v < a.Min {
		a.Min = v
	}
	if a.N == 0 || v > a.Max {
		a.Max = v
	}
	a.Sum += int64(v)
	a.N++
}

// Avg returns the mean of every observed sample, or 0 if none were recorded.
func (a aggregate) Avg() float64 {
	if a.N == 0 {
		return 0
	}
	return float64(a.Sum) / float64(a.N)
}

func mergeAggregate(a, b aggregate) aggregate {
	if a.N == 0 {
		return b
	}
	if b.N == 0 {
		return a
	}
	out := aggregate{Sum: a.Sum + b.Sum, N: a.N + b.N}
	out.Min = a.Min
	if b.Min < out.Min {
		out.Min = b.Min
	}
	out.Max = a.Max
	if b.Max > out.Max {
		out.Max = b.Max
	}
	return out
}

// NotebookEntry is a human-scannable summary of one testing iteration
// (SPEC_FULL.md [REPORT], supplementing spec.md §6's TestReport with the
// upstream tool's per-iteration history view).
type NotebookEntry struct {
	Iteration         int
	OperationCount    int
	ConcurrencyDegree int
	FairSteps         int
	UnfairSteps       int
	BugMessage        string // empty unless this iteration found something
	Elapsed           time.Duration
}

// TestReport aggregates the outcome of N testing iterations over one test
// (spec.md §6 "Test result surface"). Zero value is a valid, empty report.
type TestReport struct {
	TestName string

	IterationsRun int

	OperationCount    aggregate
	ConcurrencyDegree aggregate
	FairSteps         aggregate
	UnfairSteps       aggregate

	MaxStepsBoundHits int

	// BugMessages is the set of distinct bug messages across every
	// iteration (spec.md §7 "Findings are deduplicated by bug-message
	// string at report level").
	BugMessages map[string]struct{}

	UncontrolledDescriptions map[string]struct{}
	InternalErrors           map[string]struct{}

	// Coverage is a coarse scheduling-point-kind hit count, the "merged
	// coverage info" of spec.md §6.
	Coverage map[string]int

	Notebook []NotebookEntry

	// BugTraces maps each distinct bug message to the first trace that
	// reproduced it (upstream's "reproducible bug traces" set).
	BugTraces map[string]*ExecutionTrace
}

// NewTestReport returns an empty report for testName.
func NewTestReport(testName string) *TestReport {
	return &TestReport{
		TestName:                 testName,
		BugMessages:              make(map[string]struct{}),
		UncontrolledDescriptions: make(map[string]struct{}),
		InternalErrors:           make(map[string]struct{}),
		Coverage:                 make(map[string]int),
		BugTraces:                make(map[string]*ExecutionTrace),
	}
}

// RecordIteration folds one IterationResult into the report.
func (r *TestReport) RecordIteration(iteration int, result IterationResult, elapsed time.Duration) {
	r.IterationsRun++
	r.OperationCount.observe(result.OperationsMax)
	r.ConcurrencyDegree.observe(result.ConcurrencyMax)
	r.FairSteps.observe(result.FairSteps)
	r.UnfairSteps.observe(result.UnfairSteps)

	if result.Kind == EndMaxSteps {
		r.MaxStepsBoundHits++
	}

	entry := NotebookEntry{
		Iteration:         iteration,
		OperationCount:    result.OperationsMax,
		ConcurrencyDegree: result.ConcurrencyMax,
		FairSteps:         result.FairSteps,
		UnfairSteps:       result.UnfairSteps,
		Elapsed:           elapsed,
	}

	if result.Trace != nil {
		for _, step := range result.Trace.Steps {
			r.Coverage[step.Kind.String()]++
		}
	}

	if result.Finding != nil {
		msg := result.Finding.Error()
		entry.BugMessage = msg

		switch result.Finding.Category {
		case coyoteerr.CategorySafety, coyoteerr.CategoryLiveness, coyoteerr.CategoryDeadlock, coyoteerr.CategoryReplay:
			r.BugMessages[msg] = struct{}{}
			if _, seen := r.BugTraces[msg]; !seen && result.Trace != nil {
				r.BugTraces[msg] = result.Trace
			}
		case coyoteerr.CategoryUncontrolled:
			r.UncontrolledDescriptions[msg] = struct{}{}
		case coyoteerr.CategoryInternal:
			r.InternalErrors[msg] = struct{}{}
		}
	}

	r.Notebook = append(r.Notebook, entry)
}

// Merge combines r with other into a new TestReport, associatively (spec.md
// §8 invariant 5). Both reports must share TestName. When other is nil, r
// itself is returned rather than a new report.
func (r *TestReport) Merge(other *TestReport) (*TestReport, error) {
	if other == nil {
		return r, nil
	}
	if r.TestName != "" && other.TestName != "" && r.TestName != other.TestName {
		return nil, coyoteerr.Internal("cannot merge TestReports for different tests",
			map[string]interface{}{"a": r.TestName, "b": other.TestName})
	}

	name := r.TestName
	if name == "" {
		name = other.TestName
	}

	out := NewTestReport(name)
	out.IterationsRun = r.IterationsRun + other.IterationsRun
	out.MaxStepsBoundHits = r.MaxStepsBoundHits + other.MaxStepsBoundHits

	out.OperationCount = mergeAggregate(r.OperationCount, other.OperationCount)
	out.ConcurrencyDegree = mergeAggregate(r.ConcurrencyDegree, other.ConcurrencyDegree)
	out.FairSteps = mergeAggregate(r.FairSteps, other.FairSteps)
	out.UnfairSteps = mergeAggregate(r.UnfairSteps, other.UnfairSteps)

	for _, src := range []*TestReport{r, other} {
		for k := range src.BugMessages {
			out.BugMessages[k] = struct{}{}
		}
		for k := range src.UncontrolledDescriptions {
			out.UncontrolledDescriptions[k] = struct{}{}
		}
		for k := range src.InternalErrors {
			out.InternalErrors[k] = struct{}{}
		}
		for k, v := range src.Coverage {
			out.Coverage[k] += v
		}
		for msg, tr := range src.BugTraces {
			if _, exists := out.BugTraces[msg]; !exists {
				out.BugTraces[msg] = tr
			}
		}
		out.Notebook = append(out.Notebook, src.Notebook...)
	}

	return out, nil
}
