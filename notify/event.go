// Package notify fans typed lifecycle events out to configured targets.
// Delivery runs on a bounded worker pool and is never allowed to block or
// roll back reconciliation.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

// EventType classifies a notification.
type EventType string

const (
	// EventSystem covers monitor lifecycle messages.
	EventSystem EventType = "system"

	// EventStartup is the summary of rentals found already running when
	// monitoring begins.
	EventStartup EventType = "startup"

	EventRentalStart  EventType = "rental_start"
	EventRentalEnd    EventType = "rental_end"
	EventRentalPause  EventType = "rental_pause"
	EventRentalResume EventType = "rental_resume"

	// EventError and EventRecovery track machine-level faults such as an
	// upstream error description or a connectivity timeout.
	EventError    EventType = "error"
	EventRecovery EventType = "recovery"
)

// Event is one notification as handed to every matching target.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	Title string `json:"title"`
	Body  string `json:"body"`

	MachineID int64 `json:"machine_id,omitempty"`

	// Session is a copy of the affected session; delivery runs
	// concurrently with reconciliation and must never see live records.
	Session *session.Session `json:"session,omitempty"`

	Machine *MachineSummary `json:"machine,omitempty"`
}

// MachineSummary is the occupancy and earnings snapshot attached to
// machine-scoped events.
type MachineSummary struct {
	MachineID int64  `json:"machine_id"`
	Hostname  string `json:"hostname,omitempty"`
	GPUName   string `json:"gpu_name,omitempty"`
	NumGPUs   int    `json:"num_gpus"`
	Occupancy string `json:"occupancy"`

	RunningSessions int `json:"running_sessions"`
	StoredSessions  int `json:"stored_sessions"`

	// HourlyEstimate is the projected next-hour earnings across every
	// active session, in dollars.
	HourlyEstimate float64 `json:"hourly_estimate"`

	// EarnedTotal is the cumulative earnings of every active session as
	// of the event time, in dollars.
	EarnedTotal float64 `json:"earned_total"`
}

// Summarize captures a machine's occupancy and earnings state.
func Summarize(m *api.Machine, reg *registry.Registry, asOf time.Time) *MachineSummary {
	sum := &MachineSummary{
		MachineID: m.MachineID,
		Hostname:  m.Hostname,
		GPUName:   m.GPUName,
		NumGPUs:   m.NumGPUs,
		Occupancy: m.GPUOccupancy,
	}
	if reg != nil {
		sum.RunningSessions = len(reg.Running())
		sum.StoredSessions = len(reg.Stored())
		sum.HourlyEstimate = reg.HourlyEstimate()
		for _, s := range reg.Active() {
			sum.EarnedTotal += s.EarningsAt(asOf).Total
		}
	}
	return sum
}

func newEvent(t EventType, title, body string) Event {
	return Event{
		ID:    uuid.NewString(),
		Type:  t,
		Time:  time.Now().UTC(),
		Title: title,
		Body:  body,
	}
}
