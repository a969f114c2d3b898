// Package metrics exposes the monitor's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

// Metrics holds every collector the monitor reports.
type Metrics struct {
	CyclesTotal        prometheus.Counter
	FetchFailuresTotal prometheus.Counter
	EventsTotal        *prometheus.CounterVec

	Sessions       *prometheus.GaugeVec
	OccupiedSlots  *prometheus.GaugeVec
	HourlyEarnings *prometheus.GaugeVec
}

// New registers the monitor's collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentwatch_cycles_total",
			Help: "Completed reconciliation cycles.",
		}),
		FetchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentwatch_fetch_failures_total",
			Help: "Machine list fetches that failed after all retries.",
		}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwatch_lifecycle_events_total",
			Help: "Session lifecycle events by type.",
		}, []string{"type"}),
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rentwatch_sessions",
			Help: "Tracked sessions per machine and status.",
		}, []string{"machine", "status"}),
		OccupiedSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rentwatch_occupied_slots",
			Help: "GPU slots currently owned by a session, per machine.",
		}, []string{"machine"}),
		HourlyEarnings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rentwatch_hourly_earnings_dollars",
			Help: "Projected next-hour earnings per machine.",
		}, []string{"machine"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.FetchFailuresTotal,
		m.EventsTotal,
		m.Sessions,
		m.OccupiedSlots,
		m.HourlyEarnings,
	)
	return m
}

// ObserveRegistry refreshes the per-machine gauges after a cycle.
func (m *Metrics) ObserveRegistry(r *registry.Registry) {
	machine := strconv.FormatInt(r.MachineID, 10)
	m.Sessions.WithLabelValues(machine, string(session.Running)).Set(float64(len(r.Running())))
	m.Sessions.WithLabelValues(machine, string(session.Stored)).Set(float64(len(r.Stored())))
	m.OccupiedSlots.WithLabelValues(machine).Set(float64(len(r.GPUs)))
	m.HourlyEarnings.WithLabelValues(machine).Set(r.HourlyEstimate())
}

// Serve exposes /metrics on addr. Errors after startup are delivered on
// the returned channel; the server runs until the process exits.
func Serve(addr string, gatherer prometheus.Gatherer) <-chan error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	return errc
}
