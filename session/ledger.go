package session

import (
	"math"
	"time"
)

// HoursPerMonth converts monthly storage rates to hourly accrual. Billing
// uses a fixed-length month regardless of the calendar.
const HoursPerMonth = 730.0

// Earnings is the money a session has accrued up to some instant.
type Earnings struct {
	Duration time.Duration
	GPU      float64
	Storage  float64
	Total    float64
}

func segmentHours(start time.Time, end *time.Time, asOf time.Time) float64 {
	until := asOf
	if end != nil {
		until = *end
	}
	h := until.Sub(start).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// CurrentGPURate returns the open GPU segment's rate, or 0 if none is open.
func (s *Session) CurrentGPURate() float64 {
	if n := len(s.GPUSegments); n > 0 && s.GPUSegments[n-1].End == nil {
		return s.GPUSegments[n-1].Rate
	}
	return 0
}

// CurrentGPUCount returns the open GPU segment's count, or 0 if none is open.
func (s *Session) CurrentGPUCount() int {
	if n := len(s.GPUSegments); n > 0 && s.GPUSegments[n-1].End == nil {
		return s.GPUSegments[n-1].GPUCount
	}
	return 0
}

// CurrentStorageRate returns the open storage segment's rate, or 0 if none
// is open.
func (s *Session) CurrentStorageRate() float64 {
	if n := len(s.StorageSegments); n > 0 && s.StorageSegments[n-1].End == nil {
		return s.StorageSegments[n-1].RatePerGBMonth
	}
	return 0
}

// HourlyEstimate is the session's projected earnings for the next hour at
// its current open rates.
func (s *Session) HourlyEstimate() float64 {
	gpu := s.CurrentGPURate() * float64(s.CurrentGPUCount())
	storage := s.CurrentStorageRate() * s.StorageGB / HoursPerMonth
	return gpu + storage
}

// EarningsAt sums every ledger segment up to asOf. Open segments accrue
// through asOf, so successive calls with a later instant never report less.
func (s *Session) EarningsAt(asOf time.Time) Earnings {
	var e Earnings
	for _, seg := range s.GPUSegments {
		e.GPU += seg.Rate * float64(seg.GPUCount) * segmentHours(seg.Start, seg.End, asOf)
	}
	for _, seg := range s.StorageSegments {
		e.Storage += seg.RatePerGBMonth * s.StorageGB / HoursPerMonth * segmentHours(seg.Start, seg.End, asOf)
	}
	e.Total = e.GPU + e.Storage

	until := asOf
	if s.EndTime != nil {
		until = *s.EndTime
	}
	if d := until.Sub(s.StartTime); d > 0 {
		e.Duration = d
	}
	return e
}

// Finalize closes every open segment at ts, marks the session Ended and
// freezes its duration and earnings. Finalizing twice is a no-op.
func (s *Session) Finalize(ts time.Time) {
	if s.Status == Ended {
		return
	}
	s.CloseGPUSegment(ts)
	s.CloseStorageSegment(ts)
	end := ts
	s.EndTime = &end
	s.Status = Ended
	s.LastStateChange = ts

	e := s.EarningsAt(ts)
	s.DurationSeconds = e.Duration.Seconds()
	s.EarnedGPU = round6(e.GPU)
	s.EarnedStorage = round6(e.Storage)
	s.EarnedTotal = round6(e.Total)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
