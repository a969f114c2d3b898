package reconcile

import (
	"sort"
	"time"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

// Seed creates sessions for GPUs already occupied when monitoring begins,
// so rentals that predate the monitor still accrue earnings from first
// sight. Slots are grouped by (category, rate) and each group is split
// into as many sessions as the running counters allow for its demand
// class. No lifecycle events are emitted; nothing started, it was merely
// noticed.
func (r *Reconciler) Seed(reg *registry.Registry, cur *api.Machine, now time.Time) {
	codes := cur.SlotCodes()

	groups := make(map[slotGroupKey][]int)
	for slot, code := range codes {
		if !api.Occupied(code) || reg.OwnerOf(slot) != "" {
			continue
		}
		key := slotGroupKey{code, cur.RateForCode(code)}
		groups[key] = append(groups[key], slot)
	}

	keys := make([]slotGroupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		return keys[i].rate < keys[j].rate
	})

	remainingOnDemand := cur.CurrentRentalsRunningOnDemand
	remainingOther := clampPos(cur.CurrentRentalsRunning - cur.CurrentRentalsRunningOnDemand)

	for _, key := range keys {
		slots := groups[key]

		var desired int
		if key.category == api.CodeOnDemand {
			if remainingOnDemand > 0 {
				desired = min(len(slots), remainingOnDemand)
			}
			remainingOnDemand = clampPos(remainingOnDemand - desired)
		} else {
			if remainingOther > 0 {
				desired = min(len(slots), remainingOther)
			}
			remainingOther = clampPos(remainingOther - desired)
		}

		for _, chunk := range splitSlots(slots, desired) {
			s := session.New(reg.NextID(), key.category, chunk, key.rate, cur.ListedStorageCost, now)
			s.OpenGPUSegment(key.rate, len(chunk), now)
			s.OpenStorageSegment(cur.ListedStorageCost, now)
			reg.Add(s)
			r.log.Info("detected ongoing rental at startup",
				"machine", cur.MachineID,
				"session", s.ID,
				"category", key.category,
				"rate", key.rate,
				"gpus", chunk,
			)
		}
	}

	reg.UpdateFromMachine(cur)
}

// splitSlots divides a slot group into count sessions. The counters only
// say how many rentals exist, not how the slots divide between them, so
// the first session takes the surplus and the rest get one slot each. A
// count below one still yields a single session covering the whole group.
func splitSlots(slots []int, count int) [][]int {
	if len(slots) == 0 {
		return nil
	}
	if count < 1 {
		count = 1
	}
	if count > len(slots) {
		count = len(slots)
	}

	chunks := make([][]int, 0, count)
	cursor := 0
	remaining := len(slots)
	for i := 0; i < count; i++ {
		left := count - i
		take := remaining - (left - 1)
		if take < 1 {
			take = 1
		}
		chunks = append(chunks, slots[cursor:cursor+take])
		cursor += take
		remaining -= take
	}
	return chunks
}
