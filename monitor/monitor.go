// Package monitor drives the poll/reconcile loop: one pass per machine per
// cycle, each pass computed against a single snapshot pair and persisted
// whole.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/config"
	"github.com/rentwatch/rentwatch/metrics"
	"github.com/rentwatch/rentwatch/reconcile"
	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

// Poller fetches current machine state, retrying transient failures
// internally. On error the cycle is skipped and prior state is untouched.
type Poller interface {
	Machines(ctx context.Context, ids []int64) ([]api.Machine, error)
}

// Notifier receives lifecycle and machine-fault events. Delivery must not
// block the caller.
type Notifier interface {
	reconcile.Notifier
	StartupSummary(m *api.Machine, reg *registry.Registry)
	MachineError(m *api.Machine, reg *registry.Registry, desc string)
	MachineTimeout(m *api.Machine, reg *registry.Registry, timeout int64)
	MachineRecovered(m *api.Machine, reg *registry.Registry)
}

// Monitor owns every machine's registry between cycles. Machines are
// reconciled independently: a failure on one is logged and skipped, never
// fatal to the loop.
type Monitor struct {
	log      *slog.Logger
	poller   Poller
	store    *registry.Store
	notifier Notifier
	metrics  *metrics.Metrics

	machineIDs       []int64
	interval         time.Duration
	errorPing        time.Duration
	announceExisting bool

	rec        *reconcile.Reconciler
	registries map[int64]*registry.Registry

	// now is replaceable for tests.
	now func() time.Time
}

// New wires a monitor from its collaborators.
func New(
	log *slog.Logger,
	cfg *config.Config,
	poller Poller,
	store *registry.Store,
	notifier Notifier,
	mx *metrics.Metrics,
) *Monitor {
	m := &Monitor{
		log:              log,
		poller:           poller,
		store:            store,
		notifier:         notifier,
		metrics:          mx,
		machineIDs:       cfg.MachineIDs,
		interval:         cfg.Interval(),
		errorPing:        cfg.ErrorPingInterval(),
		announceExisting: cfg.Notify.OnStartupExisting,
		registries:       make(map[int64]*registry.Registry),
		now:              func() time.Time { return time.Now().UTC() },
	}
	m.rec = reconcile.New(log, &countingNotifier{next: notifier, metrics: mx}, store)
	return m
}

// Run polls until the context is canceled. Cancellation is observed only
// between cycles, so an in-flight pass always completes and persists.
func (m *Monitor) Run(ctx context.Context) error {
	regs, err := m.store.LoadRegistries()
	if err != nil {
		// A corrupt registry snapshot is not worth dying over; earnings
		// history for in-flight sessions is lost, new ones track fine.
		m.log.Warn("could not load registry snapshot, starting fresh", "error", err)
		regs = make(map[int64]*registry.Registry)
	}
	m.registries = regs

	m.log.Info("monitoring started",
		"machines", m.machineIDs,
		"interval", m.interval,
	)

	delay := time.NewTimer(0) // No delay on first cycle.
	defer delay.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitoring stopped")
			return nil
		case <-delay.C:
			m.Cycle(ctx)
			delay.Reset(m.interval)
		}
	}
}

// Cycle runs one pass over every monitored machine and persists the
// resulting registries once.
func (m *Monitor) Cycle(ctx context.Context) {
	machines, err := m.poller.Machines(ctx, m.machineIDs)
	if err != nil {
		m.metrics.FetchFailuresTotal.Inc()
		m.log.Error("failed to fetch machines, skipping cycle", "error", err)
		return
	}

	seen := make(map[int64]bool, len(machines))
	for i := range machines {
		mach := &machines[i]
		seen[mach.MachineID] = true
		if err := m.processMachine(mach); err != nil {
			m.log.Error("skipping machine this cycle",
				"machine", mach.MachineID,
				"error", err,
			)
		}
	}
	for _, id := range m.machineIDs {
		if !seen[id] {
			m.log.Warn("machine missing from listing", "machine", id)
		}
	}

	if err := m.store.SaveRegistries(m.registries); err != nil {
		m.log.Error("failed to persist registries", "error", err)
	}
	m.metrics.CyclesTotal.Inc()
}

func (m *Monitor) processMachine(mach *api.Machine) error {
	if mach.NumGPUs <= 0 {
		return errors.New("malformed snapshot: no GPU count")
	}
	now := m.now()

	reg := m.registries[mach.MachineID]
	if reg == nil {
		reg = registry.New(mach.MachineID)
		m.registries[mach.MachineID] = reg
	}

	prev, err := m.store.LoadMachineSnapshot(mach.MachineID)
	if err != nil {
		return err
	}

	if prev == nil || (reg.NumGPUs == 0 && hasOccupied(mach)) {
		// First sight of this machine: synthesize sessions for whatever
		// is already running instead of diffing against nothing.
		m.rec.Seed(reg, mach, now)
		if m.announceExisting && len(reg.Active()) > 0 {
			m.notifier.StartupSummary(mach, reg)
		}
	} else {
		m.rec.Apply(reg, prev, mach, now)
	}

	m.checkFaults(mach, reg, now)

	if err := m.store.SaveMachineSnapshot(mach); err != nil {
		return err
	}
	m.metrics.ObserveRegistry(reg)
	return nil
}

// checkFaults pings on upstream error descriptions and timeouts, with a
// per-machine cooldown so a persistent fault does not ping every cycle,
// and announces recovery when the fault clears.
func (m *Monitor) checkFaults(mach *api.Machine, reg *registry.Registry, now time.Time) {
	if desc := strings.TrimSpace(mach.ErrorDescription); desc != "" {
		if due(reg.LastErrorNotifiedAt, now, m.errorPing) {
			m.log.Warn("machine reports error", "machine", mach.MachineID, "description", desc)
			m.notifier.MachineError(mach, reg, desc)
			reg.LastErrorNotifiedAt = &now
		}
	} else if reg.LastErrorNotifiedAt != nil {
		m.notifier.MachineRecovered(mach, reg)
		reg.LastErrorNotifiedAt = nil
	}

	if mach.Timeout > 0 {
		if due(reg.LastTimeoutNotifiedAt, now, m.errorPing) {
			m.log.Warn("machine timing out", "machine", mach.MachineID, "timeout", mach.Timeout)
			m.notifier.MachineTimeout(mach, reg, mach.Timeout)
			reg.LastTimeoutNotifiedAt = &now
		}
	} else if reg.LastTimeoutNotifiedAt != nil {
		m.notifier.MachineRecovered(mach, reg)
		reg.LastTimeoutNotifiedAt = nil
	}
}

func due(last *time.Time, now time.Time, cooldown time.Duration) bool {
	return last == nil || now.Sub(*last) >= cooldown
}

func hasOccupied(mach *api.Machine) bool {
	for _, code := range mach.SlotCodes() {
		if api.Occupied(code) {
			return true
		}
	}
	return false
}

// Registries exposes the monitor's current per-machine state, for reports.
func (m *Monitor) Registries() map[int64]*registry.Registry {
	return m.registries
}

// countingNotifier forwards lifecycle events to the real notifier and
// bumps the event counters on the way through.
type countingNotifier struct {
	next    Notifier
	metrics *metrics.Metrics
}

func (c *countingNotifier) SessionStarted(mach *api.Machine, reg *registry.Registry, s *session.Session) {
	c.metrics.EventsTotal.WithLabelValues("rental_start").Inc()
	c.next.SessionStarted(mach, reg, s)
}

func (c *countingNotifier) SessionEnded(mach *api.Machine, reg *registry.Registry, s *session.Session) {
	c.metrics.EventsTotal.WithLabelValues("rental_end").Inc()
	c.next.SessionEnded(mach, reg, s)
}

func (c *countingNotifier) SessionPaused(mach *api.Machine, reg *registry.Registry, s *session.Session) {
	c.metrics.EventsTotal.WithLabelValues("rental_pause").Inc()
	c.next.SessionPaused(mach, reg, s)
}

func (c *countingNotifier) SessionResumed(mach *api.Machine, reg *registry.Registry, s *session.Session, observedRate float64) {
	c.metrics.EventsTotal.WithLabelValues("rental_resume").Inc()
	c.next.SessionResumed(mach, reg, s, observedRate)
}
