package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwatch/rentwatch/api"
	"github.com/rentwatch/rentwatch/config"
	"github.com/rentwatch/rentwatch/metrics"
	"github.com/rentwatch/rentwatch/registry"
	"github.com/rentwatch/rentwatch/session"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fakePoller struct {
	responses [][]api.Machine
	err       error
	calls     int
}

func (p *fakePoller) Machines(_ context.Context, _ []int64) ([]api.Machine, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return nil, nil
	}
	next := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return next, nil
}

type notifyRecorder struct {
	started, ended, paused, resumed int
	startups, errors, timeouts      int
	recoveries                      int
}

func (n *notifyRecorder) SessionStarted(*api.Machine, *registry.Registry, *session.Session) {
	n.started++
}
func (n *notifyRecorder) SessionEnded(*api.Machine, *registry.Registry, *session.Session) {
	n.ended++
}
func (n *notifyRecorder) SessionPaused(*api.Machine, *registry.Registry, *session.Session) {
	n.paused++
}
func (n *notifyRecorder) SessionResumed(*api.Machine, *registry.Registry, *session.Session, float64) {
	n.resumed++
}
func (n *notifyRecorder) StartupSummary(*api.Machine, *registry.Registry) { n.startups++ }
func (n *notifyRecorder) MachineError(*api.Machine, *registry.Registry, string) {
	n.errors++
}
func (n *notifyRecorder) MachineTimeout(*api.Machine, *registry.Registry, int64) {
	n.timeouts++
}
func (n *notifyRecorder) MachineRecovered(*api.Machine, *registry.Registry) { n.recoveries++ }

func machine(occ string, resident, residentOD, running, runningOD int) api.Machine {
	return api.Machine{
		MachineID:                     7,
		NumGPUs:                       4,
		GPUName:                       "RTX 4090",
		GPUOccupancy:                  occ,
		ListedGPUCost:                 2.0,
		ListedStorageCost:             0.2,
		MinBidPrice:                   1.0,
		CurrentRentalsResident:        resident,
		CurrentRentalsOnDemand:        residentOD,
		CurrentRentalsRunning:         running,
		CurrentRentalsRunningOnDemand: runningOD,
	}
}

func newTestMonitor(t *testing.T, poller Poller) (*Monitor, *notifyRecorder, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{
		MachineIDs: []int64{7},
		Notify:     config.Notify{OnStartupExisting: true, ErrorPingIntervalMinutes: 60},
	}
	rec := &notifyRecorder{}
	mx := metrics.New(prometheus.NewRegistry())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(log, cfg, poller, registry.NewStore(t.TempDir()), rec, mx)

	clock := base
	m.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return m, rec, mx
}

func TestFirstCycleSeedsThenReconciles(t *testing.T) {
	poller := &fakePoller{responses: [][]api.Machine{
		{machine("D D x x", 1, 1, 1, 1)},
		{machine("D D D x", 2, 2, 2, 2)},
	}}
	m, rec, mx := newTestMonitor(t, poller)

	ctx := context.Background()
	m.Cycle(ctx)

	// First sight: the running rental is seeded, not announced as started.
	reg := m.Registries()[7]
	require.NotNil(t, reg)
	require.Len(t, reg.Running(), 1)
	assert.Equal(t, []int{0, 1}, reg.Running()[0].GPUs)
	assert.Equal(t, 0, rec.started)
	assert.Equal(t, 1, rec.startups)

	m.Cycle(ctx)

	// Second cycle: slot 2 claimed with running count up by one.
	require.Len(t, reg.Running(), 2)
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, []int{2}, reg.Running()[1].GPUs)
	assert.Equal(t, 2.0, testutil.ToFloat64(mx.CyclesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(mx.EventsTotal.WithLabelValues("rental_start")))
}

func TestCyclePersistsRegistries(t *testing.T) {
	poller := &fakePoller{responses: [][]api.Machine{
		{machine("D D x x", 1, 1, 1, 1)},
	}}
	m, _, _ := newTestMonitor(t, poller)
	m.Cycle(context.Background())

	loaded, err := m.store.LoadRegistries()
	require.NoError(t, err)
	require.Contains(t, loaded, int64(7))
	assert.Len(t, loaded[7].Sessions, 1)

	snap, err := m.store.LoadMachineSnapshot(7)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "D D x x", snap.GPUOccupancy)
}

func TestFetchFailureSkipsCycle(t *testing.T) {
	poller := &fakePoller{err: assert.AnError}
	m, _, mx := newTestMonitor(t, poller)
	m.Cycle(context.Background())

	assert.Empty(t, m.Registries())
	assert.Equal(t, 1.0, testutil.ToFloat64(mx.FetchFailuresTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(mx.CyclesTotal))
}

func TestMalformedSnapshotSkipsMachine(t *testing.T) {
	bad := machine("D D x x", 1, 1, 1, 1)
	bad.NumGPUs = 0
	poller := &fakePoller{responses: [][]api.Machine{{bad}}}
	m, rec, _ := newTestMonitor(t, poller)
	m.Cycle(context.Background())

	assert.NotContains(t, m.Registries(), int64(7))
	assert.Equal(t, 0, rec.startups)

	snap, err := m.store.LoadMachineSnapshot(7)
	require.NoError(t, err)
	assert.Nil(t, snap, "a skipped machine must not overwrite its snapshot")
}

func TestFaultPingCooldownAndRecovery(t *testing.T) {
	faulted := machine("x x x x", 0, 0, 0, 0)
	faulted.ErrorDescription = "nvml unreachable"
	healthy := machine("x x x x", 0, 0, 0, 0)

	poller := &fakePoller{responses: [][]api.Machine{
		{faulted},
		{faulted},
		{healthy},
	}}
	m, rec, _ := newTestMonitor(t, poller)

	ctx := context.Background()
	m.Cycle(ctx)
	assert.Equal(t, 1, rec.errors)

	// Still inside the cooldown window: no second ping.
	m.Cycle(ctx)
	assert.Equal(t, 1, rec.errors)

	m.Cycle(ctx)
	assert.Equal(t, 1, rec.recoveries)
	assert.Nil(t, m.Registries()[7].LastErrorNotifiedAt)
}

func TestTimeoutPing(t *testing.T) {
	timingOut := machine("x x x x", 0, 0, 0, 0)
	timingOut.Timeout = 900

	poller := &fakePoller{responses: [][]api.Machine{
		{timingOut},
		{machine("x x x x", 0, 0, 0, 0)},
	}}
	m, rec, _ := newTestMonitor(t, poller)

	ctx := context.Background()
	m.Cycle(ctx)
	assert.Equal(t, 1, rec.timeouts)

	m.Cycle(ctx)
	assert.Equal(t, 1, rec.recoveries)
}

func TestPauseAndEndFlow(t *testing.T) {
	idle := machine("x x x x", 0, 0, 0, 0)

	// A rental starts and brings 50 GB of storage with it.
	running := machine("D D x x", 1, 1, 1, 1)
	running.AllocDiskSpace = 50

	// GPUs released, disk unchanged, stored count up: a pause.
	pausedState := machine("x x x x", 1, 1, 0, 0)
	pausedState.AllocDiskSpace = 50

	// Disk drops by the held storage with no slot change: the stored
	// session is finalized by the residual disk check.
	endedState := machine("x x x x", 0, 0, 0, 0)

	poller := &fakePoller{responses: [][]api.Machine{
		{idle}, {running}, {pausedState}, {endedState},
	}}
	m, rec, _ := newTestMonitor(t, poller)

	ctx := context.Background()
	m.Cycle(ctx)
	reg := m.Registries()[7]
	require.NotNil(t, reg)
	assert.Empty(t, reg.Sessions)

	m.Cycle(ctx)
	assert.Equal(t, 1, rec.started)
	require.Len(t, reg.Running(), 1)
	assert.Equal(t, 50.0, reg.Running()[0].StorageGB)

	m.Cycle(ctx)
	assert.Equal(t, 1, rec.paused)
	require.Len(t, reg.Stored(), 1)

	m.Cycle(ctx)
	assert.Equal(t, 1, rec.ended)
	assert.Empty(t, reg.Sessions)
}
