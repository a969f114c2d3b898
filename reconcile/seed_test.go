package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

func TestSeedSplitsByRunningCounters(t *testing.T) {
	r, ev, _ := newTestReconciler()
	reg := registry.New(99)

	m := testMachine("D D D D I I x x", 8)
	setCounters(m, 3, 2, 3, 2)
	r.Seed(reg, m, base)

	// Two on-demand rentals share four slots; the interruptible pair is
	// one rental.
	require.Len(t, reg.Sessions, 3)

	a := reg.Get("m99-0001")
	require.NotNil(t, a)
	assert.Equal(t, "D", a.Category)
	assert.Equal(t, []int{0, 1, 2}, a.GPUs)
	assert.Equal(t, 2.0, a.CurrentGPURate())

	b := reg.Get("m99-0002")
	require.NotNil(t, b)
	assert.Equal(t, []int{3}, b.GPUs)

	c := reg.Get("m99-0003")
	require.NotNil(t, c)
	assert.Equal(t, "I", c.Category)
	assert.Equal(t, []int{4, 5}, c.GPUs)
	assert.Equal(t, 1.0, c.CurrentGPURate())

	for _, s := range reg.Sessions {
		assert.Equal(t, session.Running, s.Status)
		assert.Equal(t, 0.2, s.CurrentStorageRate())
		assert.Equal(t, 0.2, s.StorageContractedRate)
	}
	assert.Equal(t, m.GPUOccupancy, reg.GPUOccupancy)
	assert.Empty(t, ev.started, "seeding announces nothing")
	assertConsistent(t, reg)
}

func TestSeedWithZeroCountersTracksEverything(t *testing.T) {
	r, _, _ := newTestReconciler()
	reg := registry.New(99)

	// Counters lag occupancy sometimes; occupied slots must still be
	// billed, as a single rental per group.
	m := testMachine("D D x x", 4)
	r.Seed(reg, m, base)

	require.Len(t, reg.Sessions, 1)
	s := reg.Get("m99-0001")
	require.NotNil(t, s)
	assert.Equal(t, []int{0, 1}, s.GPUs)
}

func TestSeedIsIdempotent(t *testing.T) {
	r, _, _ := newTestReconciler()
	reg := registry.New(99)

	m := testMachine("D D x x", 4)
	setCounters(m, 1, 1, 1, 1)
	r.Seed(reg, m, base)
	r.Seed(reg, m, base.Add(time.Minute))

	assert.Len(t, reg.Sessions, 1)
	assert.Equal(t, 1, reg.NextSeq)
}

func TestSplitSlots(t *testing.T) {
	tests := []struct {
		name  string
		slots []int
		count int
		want  [][]int
	}{
		{"empty", nil, 2, nil},
		{"one each", []int{0, 1}, 2, [][]int{{0}, {1}}},
		{"surplus goes first", []int{0, 1, 2, 3, 4}, 2, [][]int{{0, 1, 2, 3}, {4}}},
		{"count above len", []int{0, 1}, 5, [][]int{{0}, {1}}},
		{"count below one", []int{0, 1, 2}, 0, [][]int{{0, 1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSlots(tt.slots, tt.count))
		})
	}
}
