package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name    string
		prev    []string
		cur     []string
		ended   []int
		started []int
	}{
		{
			name:    "no change",
			prev:    []string{"D", "x"},
			cur:     []string{"D", "x"},
			ended:   nil,
			started: nil,
		},
		{
			name:    "claim",
			prev:    []string{"x", "x"},
			cur:     []string{"D", "x"},
			ended:   nil,
			started: []int{0},
		},
		{
			name:    "release",
			prev:    []string{"D", "I"},
			cur:     []string{"D", "x"},
			ended:   []int{1},
			started: nil,
		},
		{
			name:    "reassignment reported on both sides",
			prev:    []string{"D", "D"},
			cur:     []string{"I", "D"},
			ended:   []int{0},
			started: []int{0},
		},
		{
			name:    "short prior list pads as free",
			prev:    []string{"D"},
			cur:     []string{"D", "I", "R"},
			ended:   nil,
			started: []int{1, 2},
		},
		{
			name:    "mixed",
			prev:    []string{"D", "D", "I", "x"},
			cur:     []string{"D", "x", "R", "I"},
			ended:   []int{1, 2},
			started: []int{2, 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ended, started := Diff(tt.prev, tt.cur)
			assert.Equal(t, tt.ended, ended)
			assert.Equal(t, tt.started, started)
		})
	}
}
