package reconcile

import (
	"log/slog"
	"math"
	"time"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

// DiskTolerance is the slack, in GB, allowed when matching an allocated
// storage change against a session's held storage. Two simultaneous
// releases of near-identical size can land inside it and be read as one.
const DiskTolerance = 1.0

// residualDiskFloor filters out rounding noise in the allocated storage
// figure before the disk-only termination check runs.
const residualDiskFloor = 0.1

// Notifier receives lifecycle events as transitions commit. Delivery runs
// independently of reconciliation and must never block it.
type Notifier interface {
	SessionStarted(m *api.Machine, reg *registry.Registry, s *session.Session)
	SessionEnded(m *api.Machine, reg *registry.Registry, s *session.Session)
	SessionPaused(m *api.Machine, reg *registry.Registry, s *session.Session)
	SessionResumed(m *api.Machine, reg *registry.Registry, s *session.Session, observedRate float64)
}

// Archiver persists finalized sessions durably before they leave the
// registry.
type Archiver interface {
	ArchiveSession(s *session.Session) error
}

// Reconciler applies one snapshot pair per machine per cycle, mutating the
// registry and emitting lifecycle events. It holds no per-machine state of
// its own, so one instance serves any number of machines.
type Reconciler struct {
	log      *slog.Logger
	notifier Notifier
	archiver Archiver
}

// New returns a reconciler. The notifier may be nil to run silent.
func New(log *slog.Logger, notifier Notifier, archiver Archiver) *Reconciler {
	return &Reconciler{
		log:      log,
		notifier: notifier,
		archiver: archiver,
	}
}

// slotGroup is a set of newly claimed slots sharing one rental category and
// observed rate, presumed to belong to a single rental.
type slotGroup struct {
	category string
	rate     float64
	slots    []int
}

// Apply reconciles one machine for one cycle. Every mutation is computed
// against the single prev/cur snapshot pair; the caller persists the
// registry once after the pass, so no partially reconciled state is ever
// durably observable.
func (r *Reconciler) Apply(reg *registry.Registry, prev, cur *api.Machine, now time.Time) {
	budgets := EstimateBudgets(prev, cur)

	curCodes := cur.SlotCodes()
	ended, started := Diff(reg.SlotCodes(cur.NumGPUs), curCodes)

	diskDelta := cur.AllocDiskSpace - prev.AllocDiskSpace

	// Caches can refresh as soon as the diff is taken; event payloads then
	// describe the machine as it is, not as it was.
	reg.UpdateFromMachine(cur)

	diskExplained := r.releaseSlots(reg, cur, ended, curCodes, diskDelta, &budgets, now)
	r.claimSlots(reg, cur, started, curCodes, diskDelta, now)
	if !diskExplained {
		r.residualTermination(reg, cur, diskDelta, now)
	}
}

// releaseSlots handles every slot that left its session this cycle. It
// reports whether a session end already accounts for the cycle's disk
// delta, which suppresses the disk-only termination check.
func (r *Reconciler) releaseSlots(reg *registry.Registry, cur *api.Machine, ended []int, curCodes []string, diskDelta float64, budgets *Budgets, now time.Time) bool {
	freedBy := make(map[string][]int)
	var order []string
	for _, slot := range ended {
		owner := reg.OwnerOf(slot)
		if owner == "" {
			continue
		}
		reg.Release([]int{slot})
		if _, seen := freedBy[owner]; !seen {
			order = append(order, owner)
		}
		freedBy[owner] = append(freedBy[owner], slot)
	}

	diskExplained := false
	for _, sid := range order {
		freed := freedBy[sid]
		s := reg.Get(sid)
		if s == nil {
			continue
		}

		remaining := subtractSlots(s.GPUs, freed)
		if len(remaining) > 0 {
			// Partial release: the rental rescaled but kept going.
			// Reprice the remaining GPUs at today's market, capped by
			// the contract.
			s.CloseGPUSegment(now)
			s.SetGPUs(remaining)
			rate := 0.0
			if remaining[0] < len(curCodes) {
				rate = cur.RateForCode(curCodes[remaining[0]])
			}
			s.OpenGPUSegment(s.EffectiveRate(rate), len(remaining), now)
			r.log.Debug("gpus released",
				"machine", cur.MachineID,
				"session", sid,
				"freed", freed,
				"remaining", remaining,
			)
			continue
		}

		// Full release: the disk delta decides between a pause and an end.
		if budgets.Available(s.Category) && math.Abs(diskDelta) < DiskTolerance {
			budgets.Take(s.Category)
			s.CloseGPUSegment(now)
			s.Status = session.Stored
			r.log.Info("session paused",
				"machine", cur.MachineID,
				"session", sid,
				"released", freed,
			)
			if r.notifier != nil {
				r.notifier.SessionPaused(cur, reg, s)
			}
			continue
		}

		if math.Abs(diskDelta+s.StorageGB) < DiskTolerance {
			diskExplained = true
		} else {
			r.log.Warn("ambiguous disk change, treating session as ended",
				"machine", cur.MachineID,
				"session", sid,
				"delta_gb", diskDelta,
			)
		}
		r.endSession(reg, cur, s, now, "rental ended")
	}
	return diskExplained
}

// claimSlots handles every slot that gained an occupant this cycle,
// grouped by (category, rate). Matching priority: a running session that
// already owns the exact set, then a stored session with the exact set,
// then the sole stored session when disk is unchanged, and only then a
// brand new session.
func (r *Reconciler) claimSlots(reg *registry.Registry, cur *api.Machine, started []int, curCodes []string, diskDelta float64, now time.Time) {
	var groups []*slotGroup
	index := make(map[slotGroupKey]*slotGroup)
	for _, slot := range started {
		code := ""
		if slot < len(curCodes) {
			code = curCodes[slot]
		}
		key := slotGroupKey{code, cur.RateForCode(code)}
		g := index[key]
		if g == nil {
			g = &slotGroup{category: key.category, rate: key.rate}
			index[key] = g
			groups = append(groups, g)
		}
		g.slots = append(g.slots, slot)
	}

	for _, g := range groups {
		if s := findExact(reg.Running(), g.slots); s != nil {
			// Same rental observed under a fresh mapping; nothing
			// actually changed, so no segment churn.
			reg.Claim(g.slots, s.ID)
			r.log.Debug("continuity detected",
				"machine", cur.MachineID,
				"session", s.ID,
				"gpus", g.slots,
			)
			continue
		}

		if s := findExact(reg.Stored(), g.slots); s != nil {
			r.resume(reg, cur, s, g, now, "session resumed")
			continue
		}

		if math.Abs(diskDelta) < DiskTolerance {
			if stored := reg.Stored(); len(stored) == 1 {
				s := stored[0]
				s.SetGPUs(g.slots)
				r.resume(reg, cur, s, g, now, "session resumed (disk continuity)")
				continue
			}
		}

		r.startSession(reg, cur, g, diskDelta, now)
	}
}

type slotGroupKey struct {
	category string
	rate     float64
}

func (r *Reconciler) resume(reg *registry.Registry, cur *api.Machine, s *session.Session, g *slotGroup, now time.Time, msg string) {
	s.OpenGPUSegment(s.EffectiveRate(g.rate), len(g.slots), now)
	s.Category = g.category
	reg.Claim(g.slots, s.ID)
	r.log.Info(msg,
		"machine", cur.MachineID,
		"session", s.ID,
		"gpus", g.slots,
	)
	if r.notifier != nil {
		r.notifier.SessionResumed(cur, reg, s, g.rate)
	}
}

func (r *Reconciler) startSession(reg *registry.Registry, cur *api.Machine, g *slotGroup, diskDelta float64, now time.Time) {
	s := session.New(reg.NextID(), g.category, g.slots, g.rate, cur.ListedStorageCost, now)

	if hint := pickClientHint(cur, reg, diskDelta); hint != nil {
		s.StorageGB = hint.StorageGB
		s.ClientRef = hint.ID
		if hint.EndDate != nil && *hint.EndDate > 0 {
			end := time.Unix(int64(*hint.EndDate), 0).UTC()
			s.ClientEndDate = &end
		}
	} else if diskDelta > 0 {
		s.StorageGB = diskDelta
	}

	s.OpenStorageSegment(cur.ListedStorageCost, now)
	s.OpenGPUSegment(g.rate, len(g.slots), now)
	reg.Add(s)

	r.log.Info("new rental",
		"machine", cur.MachineID,
		"session", s.ID,
		"category", g.category,
		"rate", g.rate,
		"gpus", g.slots,
	)
	if r.notifier != nil {
		r.notifier.SessionStarted(cur, reg, s)
	}
}

// residualTermination covers storage teardown with no GPU slot change: a
// stored session's disk disappears and that drop is the only trace of its
// end. The stored session holding the closest storage amount is finalized,
// provided it matches within tolerance.
func (r *Reconciler) residualTermination(reg *registry.Registry, cur *api.Machine, diskDelta float64, now time.Time) {
	if diskDelta >= -residualDiskFloor {
		return
	}
	stored := reg.Stored()
	if len(stored) == 0 {
		return
	}

	target := -diskDelta
	best := stored[0]
	bestDiff := math.Abs(best.StorageGB - target)
	for _, s := range stored[1:] {
		if diff := math.Abs(s.StorageGB - target); diff < bestDiff {
			best, bestDiff = s, diff
		}
	}
	if bestDiff > DiskTolerance {
		r.log.Warn("storage drop matched no stored session",
			"machine", cur.MachineID,
			"drop_gb", target,
		)
		return
	}
	r.endSession(reg, cur, best, now, "rental ended (disk only)")
}

func (r *Reconciler) endSession(reg *registry.Registry, cur *api.Machine, s *session.Session, now time.Time, msg string) {
	s.Finalize(now)
	if r.archiver != nil {
		if err := r.archiver.ArchiveSession(s); err != nil {
			r.log.Error("failed to archive session", "session", s.ID, "error", err)
		}
	}
	reg.Remove(s.ID)
	r.log.Info(msg,
		"machine", cur.MachineID,
		"session", s.ID,
		"earned", s.EarnedTotal,
	)
	if r.notifier != nil {
		r.notifier.SessionEnded(cur, reg, s)
	}
}

// pickClientHint selects an unattributed marketplace client record for a
// new session, preferring the one whose storage is closest to the cycle's
// disk growth.
func pickClientHint(cur *api.Machine, reg *registry.Registry, diskDelta float64) *api.ClientHint {
	if len(cur.Clients) == 0 {
		return nil
	}
	taken := make(map[int64]bool)
	for _, s := range reg.Sessions {
		if s.ClientRef != 0 {
			taken[s.ClientRef] = true
		}
	}

	grow := 0.0
	if diskDelta > 0 {
		grow = diskDelta
	}

	var best *api.ClientHint
	var bestDiff float64
	for i := range cur.Clients {
		hint := &cur.Clients[i]
		if hint.ID == 0 || taken[hint.ID] {
			continue
		}
		diff := math.Abs(hint.StorageGB - grow)
		if best == nil || diff < bestDiff {
			best, bestDiff = hint, diff
		}
	}
	return best
}

func findExact(sessions []*session.Session, slots []int) *session.Session {
	for _, s := range sessions {
		if s.OwnsExactly(slots) {
			return s
		}
	}
	return nil
}

func subtractSlots(owned, freed []int) []int {
	gone := make(map[int]bool, len(freed))
	for _, slot := range freed {
		gone[slot] = true
	}
	var remaining []int
	for _, slot := range owned {
		if !gone[slot] {
			remaining = append(remaining, slot)
		}
	}
	return remaining
}
