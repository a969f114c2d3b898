// Package reconcile infers rental lifecycle transitions from successive
// machine snapshots. The marketplace never reports session identifiers or
// start/stop events, only current occupancy and a few aggregate counters,
// so every transition here is reconstructed from diffs plus heuristics.
package reconcile

import "github.com/rentwatch/rentwatch/api"

// Diff compares two slot code lists and reports which slot indices ended
// and which started. The prior list is padded with the free code to the
// current list's length. A slot that flips between two occupied codes
// appears in both sets: whatever held it before is gone and something new
// took its place.
func Diff(prev, cur []string) (ended, started []int) {
	for i, code := range cur {
		before := api.CodeFree
		if i < len(prev) {
			before = prev[i]
		}
		switch {
		case api.Occupied(before) && !api.Occupied(code):
			ended = append(ended, i)
		case !api.Occupied(before) && api.Occupied(code):
			started = append(started, i)
		case api.Occupied(before) && api.Occupied(code) && before != code:
			ended = append(ended, i)
			started = append(started, i)
		}
	}
	return ended, started
}
