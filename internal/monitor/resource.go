// internal/monitor/resource.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/region"
)

// ResourceUsage is a point-in-time host resource sample
type ResourceUsage struct {
	CPUPercent         float64
	MemoryPercent      float64
	NetworkBytesPerSec float64
	SampledAt          time.Time
}

// Sampler produces host resource samples
type Sampler interface {
	Sample(ctx context.Context) (ResourceUsage, error)
}

// HostSampler reads resource usage from the local host via gopsutil.
// Network throughput is derived from deltas between successive calls,
// so the first sample always reports zero bytes per second.
type HostSampler struct {
	cpuInterval time.Duration

	mu        sync.Mutex
	lastBytes uint64
	lastAt    time.Time
}

// NewHostSampler creates a sampler that blocks for one second per call
// to measure CPU utilization over a real interval
func NewHostSampler() *HostSampler {
	return &HostSampler{cpuInterval: time.Second}
}

// Sample collects CPU, memory and network usage for the local host
func (s *HostSampler) Sample(ctx context.Context) (ResourceUsage, error) {
	percents, err := cpu.PercentWithContext(ctx, s.cpuInterval, false)
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("sampling cpu: %w", err)
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("sampling memory: %w", err)
	}

	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return ResourceUsage{}, fmt.Errorf("sampling network: %w", err)
	}
	var total uint64
	if len(counters) > 0 {
		total = counters[0].BytesSent + counters[0].BytesRecv
	}

	now := time.Now()

	s.mu.Lock()
	var rate float64
	if !s.lastAt.IsZero() && total >= s.lastBytes {
		if elapsed := now.Sub(s.lastAt).Seconds(); elapsed > 0 {
			rate = float64(total-s.lastBytes) / elapsed
		}
	}
	s.lastBytes = total
	s.lastAt = now
	s.mu.Unlock()

	return ResourceUsage{
		CPUPercent:         cpuPct,
		MemoryPercent:      vmem.UsedPercent,
		NetworkBytesPerSec: rate,
		SampledAt:          now,
	}, nil
}

// ResourceStore receives resource samples for each managed region
type ResourceStore interface {
	Regions() []region.Region
	SetResourceUsage(r region.Region, usage ResourceUsage) error
	ObserveLoad(r region.Region)
	ResizeWindows(load float64)
}

// ResourceMonitorConfig holds resource monitor settings
type ResourceMonitorConfig struct {
	Interval   time.Duration
	MaxBackoff time.Duration
	Clock      clockwork.Clock
}

// DefaultResourceMonitorConfig returns sensible resource monitor defaults
func DefaultResourceMonitorConfig() *ResourceMonitorConfig {
	return &ResourceMonitorConfig{
		Interval:   10 * time.Second,
		MaxBackoff: 2 * time.Minute,
	}
}

// ResourceMonitor periodically samples host resources and applies the
// sample to every managed region
type ResourceMonitor struct {
	config  *ResourceMonitorConfig
	sampler Sampler
	store   ResourceStore
	logger  *zap.Logger
	clock   clockwork.Clock

	failures int
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewResourceMonitor creates a resource monitor
func NewResourceMonitor(config *ResourceMonitorConfig, sampler Sampler, store ResourceStore, logger *zap.Logger) (*ResourceMonitor, error) {
	if config == nil {
		config = DefaultResourceMonitorConfig()
	}
	if sampler == nil {
		return nil, fmt.Errorf("sampler required")
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

	return &ResourceMonitor{
		config:  config,
		sampler: sampler,
		store:   store,
		logger:  logger,
		clock:   clock,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins the periodic sampling loop
func (m *ResourceMonitor) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop halts the sampling loop and waits for it to exit
func (m *ResourceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *ResourceMonitor) run(ctx context.Context) {
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

		if err := m.collect(ctx); err != nil {
			m.failures++
			delay = backoffDelay(m.config.Interval, m.failures, m.config.MaxBackoff)
			m.logger.Warn("resource collection failed",
				zap.Int("consecutive_failures", m.failures),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			continue
		}
		m.failures = 0
		delay = m.config.Interval
	}
}

// collect samples the host once and fans the result out to every region.
// A write failure for one region is logged and does not block the others.
func (m *ResourceMonitor) collect(ctx context.Context) error {
	usage, err := m.sampler.Sample(ctx)
	if err != nil {
		return fmt.Errorf("sampling host resources: %w", err)
	}

	for _, r := range m.store.Regions() {
		if err := m.store.SetResourceUsage(r, usage); err != nil {
			m.logger.Warn("recording resource usage",
				zap.String("region", r.String()),
				zap.Error(err))
			continue
		}
		m.store.ObserveLoad(r)
	}

	m.store.ResizeWindows(usage.CPUPercent / 100)
	return nil
}

// backoffDelay doubles the base interval per consecutive failure, capped at max
func backoffDelay(base time.Duration, failures int, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}
