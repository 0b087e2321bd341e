// internal/failover/failover.go
package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/metrics"
	"github.com/harborline/meridian/internal/notify"
	"github.com/harborline/meridian/internal/probe"
	"github.com/harborline/meridian/internal/region"
)

// State is the failover manager lifecycle state
type State int

const (
	StateActive State = iota
	StateStandby
	StateFailingOver
	StateFailed
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStandby:
		return "standby"
	case StateFailingOver:
		return "failing_over"
	case StateFailed:
		return "failed"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// EventType classifies failover events
type EventType string

const (
	EventFailoverStarted   EventType = "failover_started"
	EventFailoverCompleted EventType = "failover_completed"
	EventFailoverFailed    EventType = "failover_failed"
	EventRecoveryStarted   EventType = "recovery_started"
	EventRecoveryCompleted EventType = "recovery_completed"
	EventRecoveryFailed    EventType = "recovery_failed"
)

// Event records one failover lifecycle transition
type Event struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	FromRegion string        `json:"from_region"`
	ToRegion   string        `json:"to_region,omitempty"`
	Reason     string        `json:"reason"`
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration,omitempty"`
	Automatic  bool          `json:"automatic"`
}

// Config holds failover manager settings
type Config struct {
	InitialRegion region.Region
	CheckInterval time.Duration

	// FailingThreshold is the failing-subsystem count at which one
	// evaluation of a region counts as unhealthy
	FailingThreshold int

	// UnhealthyStreak is the number of consecutive unhealthy evaluations
	// of the active region required before failover fires
	UnhealthyStreak int

	MaxEvents  int
	MaxBackoff time.Duration
	Clock      clockwork.Clock
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		InitialRegion:    region.NorthAmerica,
		CheckInterval:    30 * time.Second,
		FailingThreshold: 3,
		UnhealthyStreak:  3,
		MaxEvents:        100,
		MaxBackoff:       5 * time.Minute,
	}
}

// Manager watches the active region and moves traffic to the next
// available region when it stays unhealthy. There is exactly one manager
// per process; a failed search for a target parks it in StateFailed until
// an operator calls Recover.
type Manager struct {
	config   *Config
	prober   probe.Prober
	notifier notify.Notifier
	sink     metrics.Sink
	logger   *zap.Logger
	clock    clockwork.Clock

	mu             sync.RWMutex
	state          State
	currentRegion  region.Region
	unhealthy      int
	totalFailovers int64
	events         []*Event

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a failover manager in StateStandby
func New(config *Config, prober probe.Prober, notifier notify.Notifier, sink metrics.Sink, logger *zap.Logger) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.InitialRegion.Valid() {
		return nil, fmt.Errorf("invalid initial region %d", int(config.InitialRegion))
	}
	if config.UnhealthyStreak <= 0 {
		return nil, fmt.Errorf("unhealthy streak must be positive")
	}
	if prober == nil {
		prober = probe.NewStaticProber()
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Manager{
		config:        config,
		prober:        prober,
		notifier:      notifier,
		sink:          sink,
		logger:        logger,
		clock:         clock,
		state:         StateStandby,
		currentRegion: config.InitialRegion,
		events:        make([]*Event, 0),
		stopCh:        make(chan struct{}),
	}, nil
}

// Start moves the manager to StateActive and launches the health-check
// loop for the active region
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateStandby {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", state)
	}
	m.state = StateActive
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, stopCh)

	m.logger.Info("failover manager started",
		zap.String("region", m.GetCurrentRegion().String()),
		zap.Duration("check_interval", m.config.CheckInterval))
	return nil
}

// Stop halts the health-check loop. A manager parked in StateFailed stays
// failed; an active one returns to standby and may be started again.
func (m *Manager) Stop() {
	m.mu.Lock()
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()

	m.mu.Lock()
	if m.state == StateActive {
		m.state = StateStandby
	}
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	delay := m.config.CheckInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-m.clock.After(delay):
		}

		if transportErr := m.evaluate(ctx); transportErr {
			delay *= 2
			if delay > m.config.MaxBackoff {
				delay = m.config.MaxBackoff
			}
			continue
		}
		delay = m.config.CheckInterval
	}
}

// evaluate probes the active region once and advances the unhealthy
// streak. It reports whether the probe itself failed at the transport
// level, which drives the loop's backoff.
func (m *Manager) evaluate(ctx context.Context) bool {
	current := m.GetCurrentRegion()
	report, err := m.prober.Check(ctx, current)

	var unhealthy, transportErr bool
	switch {
	case err != nil:
		// A probe that cannot be delivered counts as a fully failing
		// evaluation of the region
		unhealthy = true
		transportErr = true
		m.logger.Warn("active region probe failed",
			zap.String("region", current.String()),
			zap.Error(err))
	case report.FailingCount() >= m.config.FailingThreshold:
		unhealthy = true
	}

	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return transportErr
	}
	if !unhealthy {
		if m.unhealthy > 0 {
			m.logger.Info("active region recovered before failover",
				zap.String("region", current.String()),
				zap.Int("streak", m.unhealthy))
		}
		m.unhealthy = 0
		m.mu.Unlock()
		return false
	}
	m.unhealthy++
	streak := m.unhealthy
	m.mu.Unlock()

	m.logger.Warn("active region unhealthy",
		zap.String("region", current.String()),
		zap.Int("consecutive", streak),
		zap.Int("required", m.config.UnhealthyStreak))

	if streak >= m.config.UnhealthyStreak {
		if err := m.InitiateFailover(ctx); err != nil {
			m.logger.Error("failover failed", zap.Error(err))
		}
	}
	return transportErr
}

// InitiateFailover moves the active region to the next available one,
// scanning in enum order after the current region and wrapping. The state
// guard makes a doubly triggered failover impossible: the second caller
// finds StateFailingOver and returns an error. No target at all parks the
// manager in StateFailed for operator recovery.
func (m *Manager) InitiateFailover(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateActive {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("failover unavailable in state %s", state)
	}
	m.state = StateFailingOver
	from := m.currentRegion
	m.mu.Unlock()

	start := m.clock.Now()
	m.addEvent(&Event{
		Type:       EventFailoverStarted,
		FromRegion: from.String(),
		Reason:     "active region unhealthy",
		Automatic:  true,
	})

	for candidate := from.Next(); candidate != from; candidate = candidate.Next() {
		if !m.available(ctx, candidate) {
			continue
		}
		m.completeTransition(ctx, from, candidate, start, true)
		return nil
	}

	m.mu.Lock()
	m.state = StateFailed
	m.mu.Unlock()

	m.addEvent(&Event{
		Type:       EventFailoverFailed,
		FromRegion: from.String(),
		Reason:     "no available region",
		Duration:   m.clock.Now().Sub(start),
		Automatic:  true,
	})
	m.logger.Error("no available failover target, manual recovery required",
		zap.String("from", from.String()))
	return fmt.Errorf("no available failover target from %s", from)
}

// Recover is the operator path out of StateFailed. It re-scans every
// region in enum order, the failed one included, and reactivates on the
// first available; nothing available parks the manager in StateFailed
// again.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateFailed {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("recover requires state failed, currently %s", state)
	}
	m.state = StateRecovering
	from := m.currentRegion
	m.mu.Unlock()

	start := m.clock.Now()
	m.addEvent(&Event{
		Type:       EventRecoveryStarted,
		FromRegion: from.String(),
		Reason:     "operator initiated",
		Automatic:  false,
	})

	for _, r := range region.All() {
		if !m.available(ctx, r) {
			continue
		}
		m.completeTransition(ctx, from, r, start, false)
		return nil
	}

	m.mu.Lock()
	m.state = StateFailed
	m.mu.Unlock()

	m.addEvent(&Event{
		Type:       EventRecoveryFailed,
		FromRegion: from.String(),
		Reason:     "no available region",
		Duration:   m.clock.Now().Sub(start),
		Automatic:  false,
	})
	return fmt.Errorf("recovery found no available region")
}

// available reports whether a region could serve as the active one
func (m *Manager) available(ctx context.Context, r region.Region) bool {
	report, err := m.prober.Check(ctx, r)
	if err != nil {
		m.logger.Debug("candidate probe failed",
			zap.String("region", r.String()),
			zap.Error(err))
		return false
	}
	return report.FailingCount() < m.config.FailingThreshold
}

// completeTransition activates the target region, resets the streak and
// publishes the change. Notification failures are logged, not surfaced:
// the transition itself already happened.
func (m *Manager) completeTransition(ctx context.Context, from, to region.Region, start time.Time, automatic bool) {
	now := m.clock.Now()

	m.mu.Lock()
	m.currentRegion = to
	m.state = StateActive
	m.unhealthy = 0
	m.totalFailovers++
	m.mu.Unlock()

	if err := m.notifier.RegionChanged(ctx, to, now); err != nil {
		m.logger.Warn("region change notification failed", zap.Error(err))
	}
	m.sink.RecordFailover(from.String(), to.String())

	evType, reason := EventFailoverCompleted, "automatic failover"
	if !automatic {
		evType, reason = EventRecoveryCompleted, "operator recovery"
	}
	m.addEvent(&Event{
		Type:       evType,
		FromRegion: from.String(),
		ToRegion:   to.String(),
		Reason:     reason,
		Duration:   now.Sub(start),
		Automatic:  automatic,
	})

	m.logger.Info("region transition complete",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Duration("took", now.Sub(start)))
}

func (m *Manager) addEvent(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.clock.Now()
	}

	m.mu.Lock()
	m.events = append(m.events, event)
	if len(m.events) > m.config.MaxEvents {
		m.events = m.events[len(m.events)-m.config.MaxEvents:]
	}
	m.mu.Unlock()
}

// GetEvents returns up to limit recent events, oldest first. A limit of
// zero or less returns everything retained.
func (m *Manager) GetEvents(limit int) []*Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	result := make([]*Event, limit)
	copy(result, m.events[len(m.events)-limit:])
	return result
}

// GetState returns the current lifecycle state
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetCurrentRegion returns the active region
func (m *Manager) GetCurrentRegion() region.Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentRegion
}

// Status is a point-in-time view of the manager for the operational
// surface
type Status struct {
	State           string   `json:"state"`
	CurrentRegion   string   `json:"current_region"`
	UnhealthyStreak int      `json:"unhealthy_streak"`
	TotalFailovers  int64    `json:"total_failovers"`
	RecentEvents    []*Event `json:"recent_events"`
}

// GetStatus returns the manager status with the ten most recent events
func (m *Manager) GetStatus() *Status {
	m.mu.RLock()
	status := &Status{
		State:           m.state.String(),
		CurrentRegion:   m.currentRegion.String(),
		UnhealthyStreak: m.unhealthy,
		TotalFailovers:  m.totalFailovers,
	}
	m.mu.RUnlock()

	status.RecentEvents = m.GetEvents(10)
	return status
}
