package reconcile

import "github.com/rentwatch/rentwatch/api"

// Budgets caps how many fully-released sessions may pause rather than end
// this cycle, split by demand class. The upstream counters are the only
// signal distinguishing a client who stopped their instance from one who
// destroyed it.
type Budgets struct {
	OnDemand int
	Other    int
}

// EstimateBudgets derives the cycle's pause allowance from the growth in
// stored rentals, where stored means resident but not running.
func EstimateBudgets(prev, cur *api.Machine) Budgets {
	return Budgets{
		OnDemand: clampPos(storedOnDemand(cur) - storedOnDemand(prev)),
		Other:    clampPos(storedOther(cur) - storedOther(prev)),
	}
}

func storedOnDemand(m *api.Machine) int {
	return clampPos(m.CurrentRentalsOnDemand - m.CurrentRentalsRunningOnDemand)
}

func storedOther(m *api.Machine) int {
	resident := clampPos(m.CurrentRentalsResident - m.CurrentRentalsOnDemand)
	running := clampPos(m.CurrentRentalsRunning - m.CurrentRentalsRunningOnDemand)
	return clampPos(resident - running)
}

// Available reports whether a budget unit remains for a rental category.
func (b *Budgets) Available(category string) bool {
	if category == api.CodeOnDemand {
		return b.OnDemand > 0
	}
	return b.Other > 0
}

// Take consumes a budget unit for a rental category.
func (b *Budgets) Take(category string) {
	if category == api.CodeOnDemand {
		b.OnDemand--
		return
	}
	b.Other--
}

func clampPos(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
