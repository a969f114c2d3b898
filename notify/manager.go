package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/config"
	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

const (
	maxWorkers = 8
	queueDepth = 256
)

// target is one configured destination with its event filter.
type target struct {
	name   string
	sink   Sink
	events map[EventType]bool // nil accepts everything
}

func (t *target) accepts(typ EventType) bool {
	return t.events == nil || t.events[typ]
}

// Manager queues events and delivers them to every matching target from a
// bounded worker pool. Publishing never blocks: when the queue is full the
// event is dropped and logged.
type Manager struct {
	log     *slog.Logger
	targets []*target

	queue chan Event
	wg    sync.WaitGroup
	once  sync.Once
}

// NewManager builds sinks for the enabled targets and starts the delivery
// workers. A manager with no targets is valid and drops everything.
func NewManager(log *slog.Logger, targets []config.Target) (*Manager, error) {
	m := &Manager{
		log:   log,
		queue: make(chan Event, queueDepth),
	}

	for _, tc := range targets {
		if !tc.IsEnabled() {
			continue
		}
		sink, err := sinkForURL(tc.URL, tc.Mention)
		if err != nil {
			return nil, err
		}

		t := &target{name: tc.Name, sink: sink}
		if t.name == "" {
			t.name = tc.URL
		}
		if filter := parseFilter(tc.Events); filter != nil {
			t.events = filter
		}
		m.targets = append(m.targets, t)
	}

	workers := len(m.targets)
	if workers > maxWorkers {
		workers = maxWorkers
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m, nil
}

// parseFilter returns the accepted event set, or nil for accept-all.
func parseFilter(events []string) map[EventType]bool {
	if len(events) == 0 {
		return nil
	}
	filter := make(map[EventType]bool, len(events))
	for _, e := range events {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "*" || e == "all" {
			return nil
		}
		filter[EventType(e)] = true
	}
	return filter
}

// Publish queues an event for delivery.
func (m *Manager) Publish(ev Event) {
	if len(m.targets) == 0 {
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.log.Warn("notification queue full, dropping event",
			"type", ev.Type,
			"title", ev.Title,
		)
	}
}

// Close stops accepting events and waits for queued deliveries to finish.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.queue) })
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for ev := range m.queue {
		for _, t := range m.targets {
			if !t.accepts(ev.Type) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := t.sink.Send(ctx, ev); err != nil {
				m.log.Error("notification delivery failed",
					"target", t.name,
					"type", ev.Type,
					"error", err,
				)
			}
			cancel()
		}
	}
}

// System announces a monitor lifecycle message.
func (m *Manager) System(title, body string) {
	m.Publish(newEvent(EventSystem, title, body))
}

// StartupSummary reports a machine's rentals already in progress when
// monitoring begins.
func (m *Manager) StartupSummary(mach *api.Machine, reg *registry.Registry) {
	ev := newEvent(EventStartup,
		fmt.Sprintf("Monitoring machine %d", mach.MachineID),
		fmt.Sprintf("Tracking %d session(s) already in progress.", len(reg.Active())),
	)
	ev.MachineID = mach.MachineID
	ev.Machine = Summarize(mach, reg, ev.Time)
	m.Publish(ev)
}

// SessionStarted implements reconcile.Notifier.
func (m *Manager) SessionStarted(mach *api.Machine, reg *registry.Registry, s *session.Session) {
	m.sessionEvent(EventRentalStart, mach, reg, s,
		fmt.Sprintf("Rental started on machine %d", mach.MachineID),
		fmt.Sprintf("New %d-GPU rental %s.", len(s.GPUs), s.ID),
	)
}

// SessionEnded implements reconcile.Notifier.
func (m *Manager) SessionEnded(mach *api.Machine, reg *registry.Registry, s *session.Session) {
	m.sessionEvent(EventRentalEnd, mach, reg, s,
		fmt.Sprintf("Rental ended on machine %d", mach.MachineID),
		fmt.Sprintf("Rental %s finished.", s.ID),
	)
}

// SessionPaused implements reconcile.Notifier.
func (m *Manager) SessionPaused(mach *api.Machine, reg *registry.Registry, s *session.Session) {
	m.sessionEvent(EventRentalPause, mach, reg, s,
		fmt.Sprintf("Rental paused on machine %d", mach.MachineID),
		fmt.Sprintf("Rental %s released its GPUs but stays resident; storage keeps billing.", s.ID),
	)
}

// SessionResumed implements reconcile.Notifier.
func (m *Manager) SessionResumed(mach *api.Machine, reg *registry.Registry, s *session.Session, observedRate float64) {
	body := fmt.Sprintf("Rental %s resumed on %d GPU(s).", s.ID, len(s.GPUs))
	if billed := s.CurrentGPURate(); billed < observedRate {
		body += fmt.Sprintf(" Market is at $%.4f, billing the contracted $%.4f.", observedRate, billed)
	}
	m.sessionEvent(EventRentalResume, mach, reg, s,
		fmt.Sprintf("Rental resumed on machine %d", mach.MachineID), body)
}

func (m *Manager) sessionEvent(typ EventType, mach *api.Machine, reg *registry.Registry, s *session.Session, title, body string) {
	ev := newEvent(typ, title, body)
	ev.MachineID = mach.MachineID
	ev.Session = s.Clone()
	ev.Machine = Summarize(mach, reg, ev.Time)
	m.Publish(ev)
}

// MachineError reports an upstream fault description for a machine.
func (m *Manager) MachineError(mach *api.Machine, reg *registry.Registry, desc string) {
	ev := newEvent(EventError,
		fmt.Sprintf("Machine %d reports an error", mach.MachineID), desc)
	ev.MachineID = mach.MachineID
	ev.Machine = Summarize(mach, reg, ev.Time)
	m.Publish(ev)
}

// MachineTimeout reports a machine that stopped responding upstream.
func (m *Manager) MachineTimeout(mach *api.Machine, reg *registry.Registry, timeout int64) {
	ev := newEvent(EventError,
		fmt.Sprintf("Machine %d is timing out", mach.MachineID),
		fmt.Sprintf("Upstream reports a timeout of %ds.", timeout))
	ev.MachineID = mach.MachineID
	ev.Machine = Summarize(mach, reg, ev.Time)
	m.Publish(ev)
}

// MachineRecovered reports that a previously faulted machine is healthy.
func (m *Manager) MachineRecovered(mach *api.Machine, reg *registry.Registry) {
	ev := newEvent(EventRecovery,
		fmt.Sprintf("Machine %d recovered", mach.MachineID),
		"Upstream no longer reports a fault.")
	ev.MachineID = mach.MachineID
	ev.Machine = Summarize(mach, reg, ev.Time)
	m.Publish(ev)
}
