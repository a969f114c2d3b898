package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rentwatch/rentwatch/api"
)

func counters(resident, residentOD, running, runningOD int) *api.Machine {
	return &api.Machine{
		CurrentRentalsResident:        resident,
		CurrentRentalsOnDemand:        residentOD,
		CurrentRentalsRunning:         running,
		CurrentRentalsRunningOnDemand: runningOD,
	}
}

func TestEstimateBudgets(t *testing.T) {
	tests := []struct {
		name string
		prev *api.Machine
		cur  *api.Machine
		want Budgets
	}{
		{
			name: "on-demand rental stops running",
			prev: counters(1, 1, 1, 1),
			cur:  counters(1, 1, 0, 0),
			want: Budgets{OnDemand: 1},
		},
		{
			name: "interruptible rental stops running",
			prev: counters(2, 1, 2, 1),
			cur:  counters(2, 1, 1, 1),
			want: Budgets{Other: 1},
		},
		{
			name: "rental leaves entirely",
			prev: counters(1, 1, 1, 1),
			cur:  counters(0, 0, 0, 0),
			want: Budgets{},
		},
		{
			name: "stored count shrinks",
			prev: counters(2, 2, 1, 1),
			cur:  counters(2, 2, 2, 2),
			want: Budgets{},
		},
		{
			name: "both classes at once",
			prev: counters(3, 1, 3, 1),
			cur:  counters(3, 1, 1, 0),
			want: Budgets{OnDemand: 1, Other: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateBudgets(tt.prev, tt.cur))
		})
	}
}

func TestBudgetTake(t *testing.T) {
	b := Budgets{OnDemand: 1, Other: 0}

	assert.True(t, b.Available(api.CodeOnDemand))
	b.Take(api.CodeOnDemand)
	assert.False(t, b.Available(api.CodeOnDemand))

	assert.False(t, b.Available(api.CodeInterruptible))
	assert.False(t, b.Available(api.CodeReserved))
}
