package api

import (
	"encoding/json"
	"strings"
)

// Occupancy codes reported per GPU slot by the marketplace.
const (
	CodeOnDemand      = "D"
	CodeInterruptible = "I"
	CodeReserved      = "R"
	CodeFree          = "x"
)

// Occupied reports whether a slot code denotes an occupied slot.
func Occupied(code string) bool {
	return code != "" && code != CodeFree
}

// Machine is a hosted machine as listed by the marketplace. Only the fields
// the monitor consumes are modeled; the upstream record is much wider.
type Machine struct {
	ID        int64  `json:"id"`
	MachineID int64  `json:"machine_id"`
	Hostname  string `json:"hostname"`
	Location  string `json:"geolocation"`

	NumGPUs int    `json:"num_gpus"`
	GPUName string `json:"gpu_name"`

	// GPUOccupancy is a space-separated slot code list, e.g. "D D x x".
	GPUOccupancy string `json:"gpu_occupancy"`

	Listed       bool   `json:"listed"`
	Verification string `json:"verification"`

	// Listed and bid prices per rental category.
	ListedGPUCost     float64 `json:"listed_gpu_cost"`
	ListedStorageCost float64 `json:"listed_storage_cost"`
	MinBidPrice       float64 `json:"min_bid_price"`
	BidGPUCost        float64 `json:"bid_gpu_cost"`

	// Disk figures in GB. AllocDiskSpace is the total storage currently
	// allocated to clients and drives storage attribution.
	DiskSpace      float64 `json:"disk_space"`
	MaxDiskSpace   float64 `json:"max_disk_space"`
	AllocDiskSpace float64 `json:"alloc_disk_space"`
	AvailDiskSpace float64 `json:"avail_disk_space"`

	// Aggregate rental counters, split by demand class.
	CurrentRentalsRunning         int `json:"current_rentals_running"`
	CurrentRentalsRunningOnDemand int `json:"current_rentals_running_on_demand"`
	CurrentRentalsResident        int `json:"current_rentals_resident"`
	CurrentRentalsOnDemand        int `json:"current_rentals_on_demand"`

	// Upstream earnings estimates, reported for display only.
	EarnHour float64 `json:"earn_hour"`
	EarnDay  float64 `json:"earn_day"`

	Reliability      float64 `json:"reliability2"`
	NumRecentReports int     `json:"num_recent_reports"`

	// Operational signals.
	ErrorDescription string `json:"error_description"`
	Timeout          int64  `json:"timeout"`

	// ClientEndDate is an optional contract end for the machine's current
	// client, as a Unix timestamp.
	ClientEndDate *float64 `json:"client_end_date"`

	// Clients carries optional per-client storage hints.
	Clients []ClientHint `json:"clients"`

	// Maintenance is kept raw: the upstream API reports either a string or
	// a window list, and the monitor only diffs it for change detection.
	Maintenance json.RawMessage `json:"machine_maintenance,omitempty"`

	DriverVersion string `json:"driver_version"`
}

// ClientHint is the per-client record the marketplace optionally attaches to
// a machine. Storage figures are in GB.
type ClientHint struct {
	ID        int64    `json:"id"`
	StorageGB float64  `json:"storage_gb"`
	EndDate   *float64 `json:"end_date"`
}

// SlotCodes returns the machine's occupancy as a slice with one code per
// slot, padded with the free code up to NumGPUs.
func (m *Machine) SlotCodes() []string {
	codes := strings.Fields(m.GPUOccupancy)
	for len(codes) < m.NumGPUs {
		codes = append(codes, CodeFree)
	}
	return codes
}

// RateForCode returns the machine's current market rate in $/GPU/hr for a
// slot code. Unknown codes price at zero.
func (m *Machine) RateForCode(code string) float64 {
	switch code {
	case CodeOnDemand:
		return m.ListedGPUCost
	case CodeInterruptible:
		return m.MinBidPrice
	case CodeReserved:
		return m.BidGPUCost
	default:
		return 0
	}
}

// MachinePage is the marketplace response wrapper for the machine listing.
type MachinePage struct {
	Machines []Machine `json:"machines"`
}
