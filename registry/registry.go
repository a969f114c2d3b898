// Package registry tracks, per machine, which GPU slots belong to which
// session and indexes every live session, with a file-backed store for
// snapshots and finalized-session archives.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/session"
)

// Registry is the authoritative rental state for one machine.
type Registry struct {
	MachineID int64 `json:"machine_id"`

	// GPUs maps an occupied slot index to the session that owns it.
	// Free slots are absent.
	GPUs map[int]string `json:"gpus"`

	// Sessions holds every session not yet archived, keyed by id.
	Sessions map[string]*session.Session `json:"sessions"`

	// NextSeq feeds session id generation and never runs backwards.
	NextSeq int `json:"next_session_seq"`

	// Machine state cached at the end of the last reconciled cycle. The
	// occupancy string is the prior side of the next cycle's diff.
	GPUOccupancy string `json:"gpu_occupancy,omitempty"`
	GPUName      string `json:"gpu_name,omitempty"`
	NumGPUs      int    `json:"num_gpus,omitempty"`

	CurrentRentalsRunning         int `json:"current_rentals_running"`
	CurrentRentalsRunningOnDemand int `json:"current_rentals_running_on_demand"`
	CurrentRentalsResident        int `json:"current_rentals_resident"`
	CurrentRentalsOnDemand        int `json:"current_rentals_on_demand"`

	// Cooldown marks so repeated machine errors and timeouts do not ping
	// on every cycle.
	LastErrorNotifiedAt   *time.Time `json:"last_error_notified_at,omitempty"`
	LastTimeoutNotifiedAt *time.Time `json:"last_timeout_notified_at,omitempty"`
}

// New returns an empty registry for a machine.
func New(machineID int64) *Registry {
	return &Registry{
		MachineID: machineID,
		GPUs:      make(map[int]string),
		Sessions:  make(map[string]*session.Session),
	}
}

// SlotCodes returns the cached occupancy as one code per slot, padded with
// the free code to at least n entries. A registry that has never seen the
// machine reads as fully free.
func (r *Registry) SlotCodes(n int) []string {
	codes := strings.Fields(r.GPUOccupancy)
	for len(codes) < n {
		codes = append(codes, api.CodeFree)
	}
	return codes
}

// UpdateFromMachine refreshes the cached machine state after a cycle.
func (r *Registry) UpdateFromMachine(m *api.Machine) {
	r.GPUOccupancy = m.GPUOccupancy
	r.GPUName = m.GPUName
	r.NumGPUs = m.NumGPUs
	r.CurrentRentalsRunning = m.CurrentRentalsRunning
	r.CurrentRentalsRunningOnDemand = m.CurrentRentalsRunningOnDemand
	r.CurrentRentalsResident = m.CurrentRentalsResident
	r.CurrentRentalsOnDemand = m.CurrentRentalsOnDemand
}

// NextID mints the next session id for this machine.
func (r *Registry) NextID() string {
	r.NextSeq++
	return fmt.Sprintf("m%d-%04d", r.MachineID, r.NextSeq)
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id string) *session.Session {
	return r.Sessions[id]
}

// Add indexes a session and claims its slots.
func (r *Registry) Add(s *session.Session) {
	r.Sessions[s.ID] = s
	for _, slot := range s.GPUs {
		r.GPUs[slot] = s.ID
	}
}

// Remove drops a session from the index and frees any slots still held.
func (r *Registry) Remove(id string) {
	delete(r.Sessions, id)
	for slot, owner := range r.GPUs {
		if owner == id {
			delete(r.GPUs, slot)
		}
	}
}

// OwnerOf returns the session id holding a slot, or "" if it is free.
func (r *Registry) OwnerOf(slot int) string {
	return r.GPUs[slot]
}

// Claim records slot ownership for a session.
func (r *Registry) Claim(slots []int, id string) {
	for _, slot := range slots {
		r.GPUs[slot] = id
	}
}

// Release frees the given slots regardless of owner.
func (r *Registry) Release(slots []int) {
	for _, slot := range slots {
		delete(r.GPUs, slot)
	}
}

// SlotsOwnedBy returns the sorted slot indices a session holds.
func (r *Registry) SlotsOwnedBy(id string) []int {
	var slots []int
	for slot, owner := range r.GPUs {
		if owner == id {
			slots = append(slots, slot)
		}
	}
	sort.Ints(slots)
	return slots
}

// byStatus returns sessions in a status, ordered by id for deterministic
// iteration.
func (r *Registry) byStatus(status session.Status) []*session.Session {
	var out []*session.Session
	for _, s := range r.Sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Running returns the sessions currently holding GPUs, ordered by id.
func (r *Registry) Running() []*session.Session {
	return r.byStatus(session.Running)
}

// Stored returns the paused, storage-only sessions, ordered by id.
func (r *Registry) Stored() []*session.Session {
	return r.byStatus(session.Stored)
}

// Active returns every non-ended session, ordered by id.
func (r *Registry) Active() []*session.Session {
	out := append(r.Running(), r.Stored()...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HourlyEstimate sums the projected next-hour earnings of every active
// session on the machine.
func (r *Registry) HourlyEstimate() float64 {
	var total float64
	for _, s := range r.Sessions {
		if s.Status != session.Ended {
			total += s.HourlyEstimate()
		}
	}
	return total
}

// Snapshot deep-copies the active sessions for use outside the
// reconciliation loop.
func (r *Registry) Snapshot() []*session.Session {
	active := r.Active()
	out := make([]*session.Session, len(active))
	for i, s := range active {
		out[i] = s.Clone()
	}
	return out
}
