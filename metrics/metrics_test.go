package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

func TestObserveRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := registry.New(42)

	running := session.New(r.NextID(), api.CodeOnDemand, []int{0, 1}, 2.0, 0.2, base)
	running.OpenGPUSegment(2.0, 2, base)
	r.Add(running)

	stored := session.New(r.NextID(), api.CodeInterruptible, nil, 1.0, 0.2, base)
	stored.Status = session.Stored
	stored.StorageGB = 50
	stored.OpenStorageSegment(0.2, base)
	r.Add(stored)

	m.ObserveRegistry(r)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("42", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("42", "stored")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OccupiedSlots.WithLabelValues("42")))
	assert.InDelta(t, 2.0*2+0.2*50/session.HoursPerMonth,
		testutil.ToFloat64(m.HourlyEarnings.WithLabelValues("42")), 1e-9)
}

func TestEventCounter(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.EventsTotal.WithLabelValues("rental_start").Inc()
	m.EventsTotal.WithLabelValues("rental_start").Inc()
	m.EventsTotal.WithLabelValues("rental_end").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("rental_start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("rental_end")))
}
