// Package session models a single billable rental: the GPU slots it owns,
// its storage allocation, and the rate-segmented ledger its earnings are
// computed from.
package session

import (
	"sort"
	"time"
)

// Status describes a session's lifecycle state.
type Status string

const (
	// Running sessions hold GPU slots and bill for both dimensions.
	Running Status = "running"

	// Stored sessions have released their GPUs but remain resident and
	// keep billing for storage.
	Stored Status = "stored"

	// Ended sessions are finalized and no longer bill.
	Ended Status = "ended"
)

// GPUSegment is a continuous interval during which one GPU rate and count
// were in effect. A nil End marks the open (current) segment.
type GPUSegment struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`

	// Rate in $/GPU/hr.
	Rate     float64 `json:"rate"`
	GPUCount int     `json:"gpu_count"`
}

// StorageSegment is a continuous interval during which one storage rate was
// in effect, in $/GB/month.
type StorageSegment struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`

	RatePerGBMonth float64 `json:"rate_per_gb_month"`
}

// Session is one tracked rental on a machine.
type Session struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	// Category is the occupancy code the rental was observed under
	// (D, I or R).
	Category string `json:"category"`

	// GPUs holds the owned slot indices, kept sorted.
	GPUs []int `json:"gpus"`

	StartTime       time.Time `json:"start_time"`
	LastStateChange time.Time `json:"last_state_change"`

	// StorageGB is the storage attributed to the session, in GB.
	StorageGB float64 `json:"storage_gb"`

	// Contract ceilings, fixed at first observation and never raised.
	// A zero ceiling means none was recorded; billing then follows the
	// observed market rate.
	GPUContractedRate     float64 `json:"gpu_contracted_rate"`
	StorageContractedRate float64 `json:"storage_contracted_rate"`

	GPUSegments     []GPUSegment     `json:"gpu_segments"`
	StorageSegments []StorageSegment `json:"storage_segments"`

	// ClientRef links the session to the marketplace client record whose
	// storage hint seeded it, when one could be attributed.
	ClientRef int64 `json:"client_ref,omitempty"`

	// ClientEndDate is the externally contracted end, when known.
	ClientEndDate *time.Time `json:"client_end_date,omitempty"`

	// Set by Finalize.
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	EarnedGPU       float64    `json:"earned_gpu,omitempty"`
	EarnedStorage   float64    `json:"earned_storage,omitempty"`
	EarnedTotal     float64    `json:"earned_total,omitempty"`
}

// New creates a running session owning the given slots, with contract
// ceilings fixed to the first observed rates.
func New(id, category string, slots []int, gpuRate, storageRate float64, now time.Time) *Session {
	owned := append([]int(nil), slots...)
	sort.Ints(owned)
	return &Session{
		ID:                    id,
		Status:                Running,
		Category:              category,
		GPUs:                  owned,
		StartTime:             now,
		LastStateChange:       now,
		GPUContractedRate:     gpuRate,
		StorageContractedRate: storageRate,
	}
}

// SetGPUs replaces the owned slot set, keeping it sorted.
func (s *Session) SetGPUs(slots []int) {
	s.GPUs = append(s.GPUs[:0:0], slots...)
	sort.Ints(s.GPUs)
}

// OwnsExactly reports whether the session owns exactly the given slot set.
func (s *Session) OwnsExactly(slots []int) bool {
	if len(s.GPUs) != len(slots) {
		return false
	}
	sorted := append([]int(nil), slots...)
	sort.Ints(sorted)
	for i, slot := range sorted {
		if s.GPUs[i] != slot {
			return false
		}
	}
	return true
}

// EffectiveRate caps an observed GPU rate at the session's contracted
// ceiling. A zero ceiling does not cap.
func (s *Session) EffectiveRate(observed float64) float64 {
	if s.GPUContractedRate == 0 || observed < s.GPUContractedRate {
		return observed
	}
	return s.GPUContractedRate
}

// OpenGPUSegment closes any open GPU segment at ts and starts a new one.
// The session becomes Running.
func (s *Session) OpenGPUSegment(rate float64, count int, ts time.Time) {
	s.CloseGPUSegment(ts)
	s.GPUSegments = append(s.GPUSegments, GPUSegment{
		Start:    ts,
		Rate:     rate,
		GPUCount: count,
	})
	s.LastStateChange = ts
	s.Status = Running
}

// CloseGPUSegment ends the open GPU segment, if any.
func (s *Session) CloseGPUSegment(ts time.Time) {
	if n := len(s.GPUSegments); n > 0 && s.GPUSegments[n-1].End == nil {
		end := ts
		s.GPUSegments[n-1].End = &end
		s.LastStateChange = ts
	}
}

// OpenStorageSegment starts a new storage segment at ts. Storage pricing is
// monotonic non-increasing: if a segment is already open, only a strictly
// lower rate replaces it; a raise is ignored.
func (s *Session) OpenStorageSegment(rate float64, ts time.Time) {
	if n := len(s.StorageSegments); n > 0 && s.StorageSegments[n-1].End == nil {
		if rate >= s.StorageSegments[n-1].RatePerGBMonth {
			return
		}
		end := ts
		s.StorageSegments[n-1].End = &end
	}
	s.StorageSegments = append(s.StorageSegments, StorageSegment{
		Start:          ts,
		RatePerGBMonth: rate,
	})
}

// CloseStorageSegment ends the open storage segment, if any.
func (s *Session) CloseStorageSegment(ts time.Time) {
	if n := len(s.StorageSegments); n > 0 && s.StorageSegments[n-1].End == nil {
		end := ts
		s.StorageSegments[n-1].End = &end
	}
}

// Clone returns a deep copy. Notification delivery runs concurrently with
// reconciliation, so events carry copies, never live records.
func (s *Session) Clone() *Session {
	dup := *s
	dup.GPUs = append([]int(nil), s.GPUs...)
	dup.GPUSegments = append([]GPUSegment(nil), s.GPUSegments...)
	dup.StorageSegments = append([]StorageSegment(nil), s.StorageSegments...)
	if s.ClientEndDate != nil {
		end := *s.ClientEndDate
		dup.ClientEndDate = &end
	}
	if s.EndTime != nil {
		end := *s.EndTime
		dup.EndTime = &end
	}
	for i := range dup.GPUSegments {
		if e := dup.GPUSegments[i].End; e != nil {
			end := *e
			dup.GPUSegments[i].End = &end
		}
	}
	for i := range dup.StorageSegments {
		if e := dup.StorageSegments[i].End; e != nil {
			end := *e
			dup.StorageSegments[i].End = &end
		}
	}
	return &dup
}
