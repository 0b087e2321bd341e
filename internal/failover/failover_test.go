// internal/failover/failover_test.go
package failover

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/metrics"
	"github.com/harborline/meridian/internal/notify"
	"github.com/harborline/meridian/internal/probe"
	"github.com/harborline/meridian/internal/region"
)

type fakeNotifier struct {
	mu      sync.Mutex
	err     error
	changes []region.Region
}

func (n *fakeNotifier) RegionChanged(_ context.Context, r region.Region, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.changes = append(n.changes, r)
	return nil
}

func (n *fakeNotifier) Close() error { return nil }

func (n *fakeNotifier) changed() []region.Region {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]region.Region(nil), n.changes...)
}

type fakeSink struct {
	metrics.NopSink
	mu        sync.Mutex
	failovers [][2]string
}

func (s *fakeSink) RecordFailover(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failovers = append(s.failovers, [2]string{from, to})
}

func (s *fakeSink) recorded() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]string(nil), s.failovers...)
}

func failingReport(r region.Region) *probe.Report {
	return &probe.Report{
		Region: r.String(),
		Subsystems: map[string]probe.SubsystemHealth{
			probe.SubsystemDatastore:   {Status: probe.StatusUnhealthy, Detail: "connection refused"},
			probe.SubsystemCache:       {Status: probe.StatusUnhealthy, Detail: "connection refused"},
			probe.SubsystemObjectStore: {Status: probe.StatusDegraded, Detail: "slow responses"},
		},
	}
}

func newTestManager(t *testing.T, cfg *Config, prober probe.Prober, notifier notify.Notifier, sink metrics.Sink) *Manager {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.Clock = clockwork.NewFakeClock()
	}
	m, err := New(cfg, prober, notifier, sink, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&Config{InitialRegion: region.Region(42), UnhealthyStreak: 3}, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(&Config{InitialRegion: region.Europe}, nil, nil, nil, nil)
	assert.Error(t, err, "zero streak must be rejected")

	m, err := New(nil, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateStandby, m.GetState())
	assert.Equal(t, region.NorthAmerica, m.GetCurrentRegion())
}

func TestStartStop_Lifecycle(t *testing.T) {
	m := newTestManager(t, nil, nil, nil, nil)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateActive, m.GetState())
	assert.Error(t, m.Start(context.Background()), "double start must fail")

	m.Stop()
	assert.Equal(t, StateStandby, m.GetState())

	// A stopped manager can be started again
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "standby", StateStandby.String())
	assert.Equal(t, "failing_over", StateFailingOver.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "recovering", StateRecovering.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestEvaluate_HysteresisRequiresConsecutiveUnhealthy(t *testing.T) {
	ctx := context.Background()
	prober := probe.NewStaticProber()
	m := newTestManager(t, nil, prober, nil, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	prober.SetReport(region.NorthAmerica, failingReport(region.NorthAmerica))

	// Two unhealthy evaluations stay put
	m.evaluate(ctx)
	m.evaluate(ctx)
	assert.Equal(t, region.NorthAmerica, m.GetCurrentRegion())
	assert.Equal(t, 2, m.GetStatus().UnhealthyStreak)

	// The third consecutive one fails over to the next available region
	m.evaluate(ctx)
	assert.Equal(t, region.SouthAmerica, m.GetCurrentRegion())
	assert.Equal(t, StateActive, m.GetState())
	assert.Equal(t, 0, m.GetStatus().UnhealthyStreak)
}

func TestEvaluate_HealthyResetsStreak(t *testing.T) {
	ctx := context.Background()
	prober := probe.NewStaticProber()
	m := newTestManager(t, nil, prober, nil, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	prober.SetReport(region.NorthAmerica, failingReport(region.NorthAmerica))
	m.evaluate(ctx)
	m.evaluate(ctx)

	prober.SetReport(region.NorthAmerica, probe.AllHealthy(region.NorthAmerica))
	m.evaluate(ctx)
	assert.Equal(t, 0, m.GetStatus().UnhealthyStreak)

	// The streak starts over: two more unhealthy evaluations do not move
	prober.SetReport(region.NorthAmerica, failingReport(region.NorthAmerica))
	m.evaluate(ctx)
	m.evaluate(ctx)
	assert.Equal(t, region.NorthAmerica, m.GetCurrentRegion())

	m.evaluate(ctx)
	assert.Equal(t, region.SouthAmerica, m.GetCurrentRegion())
}

func TestInitiateFailover_SkipsUnavailableCandidates(t *testing.T) {
	ctx := context.Background()
	prober := probe.NewStaticProber()
	prober.SetReport(region.SouthAmerica, failingReport(region.SouthAmerica))
	prober.SetError(region.Europe, fmt.Errorf("probe timeout"))

	m := newTestManager(t, nil, prober, nil, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.InitiateFailover(ctx))
	assert.Equal(t, region.Asia, m.GetCurrentRegion())
}

func TestInitiateFailover_WrapsAroundTheEnum(t *testing.T) {
	ctx := context.Background()
	prober := probe.NewStaticProber()
	for _, r := range region.All() {
		if r != region.NorthAmerica {
			prober.SetReport(r, failingReport(r))
		}
	}

	cfg := DefaultConfig()
	cfg.Clock = clockwork.NewFakeClock()
	cfg.InitialRegion = region.Global
	m := newTestManager(t, cfg, prober, nil, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.InitiateFailover(ctx))
	assert.Equal(t, region.NorthAmerica, m.GetCurrentRegion())
}

func TestInitiateFailover_PublishesAndRecords(t *testing.T) {
	ctx := context.Background()
	prober := probe.NewStaticProber()
	prober.SetReport(region.NorthAmerica, failingReport(region.NorthAmerica))
	notifier := &fakeNotifier{}
	sink := &fakeSink{}

	m := newTestManager(t, nil, prober, notifier, sink)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.InitiateFailover(ctx))

	assert.Equal(t, []region.Region{region.SouthAmerica}, notifier.changed())
	assert.Equal(t, [][2]string{{"north-america", "south-america"}}, sink.recorded())

	events := m.GetEvents(0)
	require.Len(t, events, 2)
	assert.Equal(t, EventFailoverStarted, events[0].Type)
	assert.Equal(t, EventFailoverCompleted, events[1].Type)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEmpty(t, events[1].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.True(t, events[1].Automatic)
	assert.Equal(t, "south-america", events[1].ToRegion)

	status := m.GetStatus()
	assert.Equal(t, int64(1), status.TotalFailovers)
}

func TestInitiateFailover_NotifierFailureDoesNotBlockTransition(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{err: fmt.Errorf("redis gone")}
	m := newTestManager(t, nil, probe.NewStaticProber(), notifier, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.InitiateFailover(ctx))
	assert.Equal(t, StateActive, m.GetState())
	assert.Equal(t, region.SouthAmerica, m.GetCurrentRegion())
}

func TestInitiateFailover_NoTargetParksInFailed(t *testing.T) {
	ctx := context.Background()
	prober := probe.NewStaticProber()
	for _, r := range region.All() {
		prober.SetReport(r, failingReport(r))
	}

	m := newTestManager(t, nil, prober, nil, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	// The third consecutive unhealthy evaluation tries and exhausts every
	// candidate
	m.evaluate(ctx)
	m.evaluate(ctx)
	m.evaluate(ctx)
	require.Equal(t, StateFailed, m.GetState())

	// Failed is terminal for the automatic path
	m.evaluate(ctx)
	assert.Equal(t, StateFailed, m.GetState())
	assert.Error(t, m.InitiateFailover(ctx))

	events := m.GetEvents(0)
	require.NotEmpty(t, events)
	assert.Equal(t, EventFailoverFailed, events[len(events)-1].Type)
}

type gatedProber struct {
	gate  chan struct{}
	inner probe.Prober
}

func (p *gatedProber) Check(ctx context.Context, r region.Region) (*probe.Report, error) {
	<-p.gate
	return p.inner.Check(ctx, r)
}

func TestInitiateFailover_SecondCallerIsRejected(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	prober := &gatedProber{gate: gate, inner: probe.NewStaticProber()}

	m := newTestManager(t, nil, prober, nil, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- m.InitiateFailover(ctx) }()

	require.Eventually(t, func() bool {
		return m.GetState() == StateFailingOver
	}, time.Second, time.Millisecond)

	err := m.InitiateFailover(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing_over")

	close(gate)
	require.NoError(t, <-errCh)
	assert.Equal(t, StateActive, m.GetState())
	assert.Equal(t, int64(1), m.GetStatus().TotalFailovers)
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	prober := probe.NewStaticProber()
	for _, r := range region.All() {
		prober.SetReport(r, failingReport(r))
	}
	notifier := &fakeNotifier{}

	m := newTestManager(t, nil, prober, notifier, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	// Not failed yet: recover refuses
	require.Error(t, m.Recover(ctx))

	m.evaluate(ctx)
	m.evaluate(ctx)
	m.evaluate(ctx)
	require.Equal(t, StateFailed, m.GetState())

	// Nothing available: recovery fails and stays parked
	require.Error(t, m.Recover(ctx))
	assert.Equal(t, StateFailed, m.GetState())

	// Europe comes back; the scan finds it in enum order
	prober.SetReport(region.Europe, probe.AllHealthy(region.Europe))
	require.NoError(t, m.Recover(ctx))
	assert.Equal(t, StateActive, m.GetState())
	assert.Equal(t, region.Europe, m.GetCurrentRegion())
	assert.Equal(t, []region.Region{region.Europe}, notifier.changed())

	events := m.GetEvents(0)
	last := events[len(events)-1]
	assert.Equal(t, EventRecoveryCompleted, last.Type)
	assert.False(t, last.Automatic)
}

func TestEventRing_TrimsToMaxEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clock = clockwork.NewFakeClock()
	cfg.MaxEvents = 5
	m := newTestManager(t, cfg, nil, nil, nil)

	for i := 0; i < 8; i++ {
		m.addEvent(&Event{Type: EventFailoverStarted, Reason: fmt.Sprintf("probe %d", i)})
	}

	events := m.GetEvents(0)
	require.Len(t, events, 5)
	assert.Equal(t, "probe 3", events[0].Reason)
	assert.Equal(t, "probe 7", events[4].Reason)

	tail := m.GetEvents(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "probe 6", tail[0].Reason)
	assert.Equal(t, "probe 7", tail[1].Reason)

	for _, event := range events {
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	}
}

func TestRun_LoopFailsOverAfterThreeTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock
	prober := probe.NewStaticProber()
	prober.SetReport(region.NorthAmerica, failingReport(region.NorthAmerica))
	notifier := &fakeNotifier{}

	m := newTestManager(t, cfg, prober, notifier, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(cfg.CheckInterval)
	}

	require.Eventually(t, func() bool {
		return m.GetCurrentRegion() == region.SouthAmerica
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, m.GetState())
}

func TestRun_TransportErrorsBackOffAndStillCountTowardStreak(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Clock = clock
	prober := probe.NewStaticProber()
	prober.SetError(region.NorthAmerica, fmt.Errorf("probe endpoint unreachable"))

	m := newTestManager(t, cfg, prober, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// First tick: transport error, streak 1, next check delayed 2x
	clock.BlockUntil(1)
	clock.Advance(cfg.CheckInterval)
	require.Eventually(t, func() bool {
		return m.GetStatus().UnhealthyStreak == 1
	}, time.Second, 5*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(cfg.CheckInterval)
	assert.Equal(t, 1, m.GetStatus().UnhealthyStreak, "backoff delays the next evaluation")

	clock.Advance(cfg.CheckInterval)
	require.Eventually(t, func() bool {
		return m.GetStatus().UnhealthyStreak == 2
	}, time.Second, 5*time.Millisecond)

	// Third consecutive failing evaluation completes the failover: the
	// scan lands on SouthAmerica, which probes clean
	clock.BlockUntil(1)
	clock.Advance(4 * cfg.CheckInterval)
	require.Eventually(t, func() bool {
		return m.GetCurrentRegion() == region.SouthAmerica
	}, time.Second, 5*time.Millisecond)
}
