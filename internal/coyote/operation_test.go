package coyote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateAssignsMonotonicIDs(t *testing.T) {
	r := newRegistry()
	a := r.create("a")
	b := r.create("b")

	assert.Equal(t, OpID(1), a.ID)
	assert.Equal(t, OpID(2), b.ID)
	assert.Same(t, a, r.get(a.ID))
}

func TestRegistryEnabledFiltersByStatus(t *testing.T) {
	r := newRegistry()
	a := r.create("a")
	b := r.create("b")
	a.Status = StatusEnabled
	b.Status = StatusBlocked

	enabled := r.enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, a.ID, enabled[0].ID)
}

func TestRegistryAllIsOpIDAscending(t *testing.T) {
	r := newRegistry()
	r.create("a")
	r.create("b")
	r.create("c")

	all := r.all()
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestRegistryNonCompletedExcludesCompleted(t *testing.T) {
	r := newRegistry()
	a := r.create("a")
	b := r.create("b")
	a.Status = StatusCompleted
	b.Status = StatusEnabled

	nc := r.nonCompleted()
	require.Len(t, nc, 1)
	assert.Equal(t, b.ID, nc[0].ID)
}

func TestResourceSatisfiedRespectsMaxHold(t *testing.T) {
	res := NewResource("lock", 1)
	assert.True(t, res.satisfied())

	res.acquire()
	assert.False(t, res.satisfied())

	res.release()
	assert.True(t, res.satisfied())
}

func TestResourceCountingSemaphore(t *testing.T) {
	res := NewResource("sem", 2)
	res.acquire()
	assert.True(t, res.satisfied())
	res.acquire()
	assert.False(t, res.satisfied())
	res.release()
	assert.True(t, res.satisfied())
}

func TestNewResourceClampsNonPositiveMaxHold(t *testing.T) {
	res := NewResource("lock", 0)
	assert.True(t, res.satisfied())
	res.acquire()
	assert.False(t, res.satisfied())
}
