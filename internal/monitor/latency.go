// internal/monitor/latency.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/harborline/meridian/internal/region"
)

// LatencyStats summarizes recent request latencies for one region
type LatencyStats struct {
	AvgLatency  float64
	StdDev      float64
	Weight      float64
	SampleCount int
	UpdatedAt   time.Time
}

// LatencyStore exposes recent latency samples and receives computed stats
type LatencyStore interface {
	Regions() []region.Region
	LatencySamples(r region.Region, n int) []float64
	SetLatencyStats(r region.Region, stats LatencyStats) error
}

// LatencyMonitorConfig holds latency monitor settings
type LatencyMonitorConfig struct {
	Interval    time.Duration
	SampleDepth int
	MaxBackoff  time.Duration
	Clock       clockwork.Clock
}

// DefaultLatencyMonitorConfig returns sensible latency monitor defaults
func DefaultLatencyMonitorConfig() *LatencyMonitorConfig {
	return &LatencyMonitorConfig{
		Interval:    time.Minute,
		SampleDepth: 100,
		MaxBackoff:  5 * time.Minute,
	}
}

// LatencyMonitor periodically recomputes per-region latency statistics
// from recent samples
type LatencyMonitor struct {
	config *LatencyMonitorConfig
	store  LatencyStore
	logger *zap.Logger
	clock  clockwork.Clock

	failures int
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewLatencyMonitor creates a latency monitor
func NewLatencyMonitor(config *LatencyMonitorConfig, store LatencyStore, logger *zap.Logger) (*LatencyMonitor, error) {
	if config == nil {
		config = DefaultLatencyMonitorConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &LatencyMonitor{
		config: config,
		store:  store,
		logger: logger,
		clock:  clock,
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins the periodic recomputation loop
func (m *LatencyMonitor) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop halts the recomputation loop and waits for it to exit
func (m *LatencyMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *LatencyMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	delay := m.config.Interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.clock.After(delay):
		}

		if err := m.collect(); err != nil {
			m.failures++
			delay = backoffDelay(m.config.Interval, m.failures, m.config.MaxBackoff)
			m.logger.Warn("latency recomputation failed",
				zap.Int("consecutive_failures", m.failures),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			continue
		}
		m.failures = 0
		delay = m.config.Interval
	}
}

// collect recomputes stats for every region that has samples. Regions
// without samples keep their previous stats. The pass as a whole fails
// only when every attempted write fails.
func (m *LatencyMonitor) collect() error {
	var attempted, failed int
	for _, r := range m.store.Regions() {
		samples := m.store.LatencySamples(r, m.config.SampleDepth)
		if len(samples) == 0 {
			continue
		}

		stats := computeStats(samples, m.clock.Now())
		attempted++
		if err := m.store.SetLatencyStats(r, stats); err != nil {
			failed++
			m.logger.Warn("recording latency stats",
				zap.String("region", r.String()),
				zap.Error(err))
		}
	}

	if attempted > 0 && failed == attempted {
		return fmt.Errorf("updating latency stats: all %d regions failed", failed)
	}
	return nil
}

// computeStats derives summary statistics from latency samples in seconds.
// Standard deviation needs at least two samples and is zero otherwise.
func computeStats(samples []float64, now time.Time) LatencyStats {
	avg := stat.Mean(samples, nil)
	var sd float64
	if len(samples) >= 2 {
		sd = stat.StdDev(samples, nil)
	}
	return LatencyStats{
		AvgLatency:  avg,
		StdDev:      sd,
		Weight:      1 / (1 + avg),
		SampleCount: len(samples),
		UpdatedAt:   now,
	}
}
