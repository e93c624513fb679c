package coyote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/coyote/internal/coyote/coyoteerr"
)

func TestRecordIterationClassifiesFindingByCategory(t *testing.T) {
	r := NewTestReport("t")

	safety := coyoteerr.SafetyAssertion("boom", nil)
	r.RecordIteration(0, IterationResult{Kind: EndSafetyBug, Finding: safety, FairSteps: 3, UnfairSteps: 1, OperationsMax: 2}, time.Millisecond)

	assert.Equal(t, 1, r.IterationsRun)
	assert.Len(t, r.BugMessages, 1)
	assert.Empty(t, r.UncontrolledDescriptions)
	assert.Empty(t, r.InternalErrors)
	require.Len(t, r.Notebook, 1)
	assert.NotEmpty(t, r.Notebook[0].BugMessage)
}

func TestRecordIterationTracksMaxStepsBoundHits(t *testing.T) {
	r := NewTestReport("t")
	r.RecordIteration(0, IterationResult{Kind: EndMaxSteps}, time.Millisecond)
	r.RecordIteration(1, IterationResult{Kind: EndNormal}, time.Millisecond)

	assert.Equal(t, 1, r.MaxStepsBoundHits)
	assert.Equal(t, 2, r.IterationsRun)
}

func TestRecordIterationAggregatesCoverageFromTrace(t *testing.T) {
	r := NewTestReport("t")
	tr := sampleTrace()
	r.RecordIteration(0, IterationResult{Kind: EndNormal, Trace: tr}, time.Millisecond)

	assert.Equal(t, 1, r.Coverage[PointCreate.String()])
	assert.Equal(t, 1, r.Coverage[PointYield.String()])
}

func TestMergeIsAssociativeOnAggregates(t *testing.T) {
	a := NewTestReport("t")
	a.RecordIteration(0, IterationResult{OperationsMax: 2, FairSteps: 5}, time.Millisecond)
	b := NewTestReport("t")
	b.RecordIteration(0, IterationResult{OperationsMax: 9, FairSteps: 1}, time.Millisecond)
	c := NewTestReport("t")
	c.RecordIteration(0, IterationResult{OperationsMax: 4, FairSteps: 7}, time.Millisecond)

	ab, err := a.Merge(b)
	require.NoError(t, err)
	abc, err := ab.Merge(c)
	require.NoError(t, err)

	bc, err := b.Merge(c)
	require.NoError(t, err)
	abc2, err := a.Merge(bc)
	require.NoError(t, err)

	assert.Equal(t, abc.OperationCount, abc2.OperationCount)
	assert.Equal(t, abc.FairSteps, abc2.FairSteps)
	assert.Equal(t, 3, abc.IterationsRun)
	assert.Equal(t, 2, abc.OperationCount.Min)
	assert.Equal(t, 9, abc.OperationCount.Max)
}

func TestMergeRejectsMismatchedTestNames(t *testing.T) {
	a := NewTestReport("a")
	b := NewTestReport("b")
	_, err := a.Merge(b)
	require.Error(t, err)
}

func TestMergeDedupesBugMessagesAndKeepsFirstTrace(t *testing.T) {
	a := NewTestReport("t")
	finding := coyoteerr.SafetyAssertion("same bug", nil)
	traceA := sampleTrace()
	a.RecordIteration(0, IterationResult{Finding: finding, Trace: traceA}, time.Millisecond)

	b := NewTestReport("t")
	traceB := sampleTrace()
	b.RecordIteration(0, IterationResult{Finding: finding, Trace: traceB}, time.Millisecond)

	merged, err := a.Merge(b)
	require.NoError(t, err)
	assert.Len(t, merged.BugMessages, 1)
	assert.Same(t, traceA, merged.BugTraces[finding.Error()])
}

func TestMergeWithNilOtherIsIdentity(t *testing.T) {
	a := NewTestReport("t")
	a.RecordIteration(0, IterationResult{OperationsMax: 3}, time.Millisecond)
	merged, err := a.Merge(nil)
	require.NoError(t, err)
	assert.Same(t, a, merged)
}
