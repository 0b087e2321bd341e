// internal/balancer/state.go
package balancer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/harborline/meridian/internal/breaker"
	"github.com/harborline/meridian/internal/monitor"
	"github.com/harborline/meridian/internal/region"
	"github.com/harborline/meridian/internal/window"
)

// maxHourlySamples bounds each hour-of-day load history bucket
const maxHourlySamples = 100

// regionState is the per-region slice of balancer state. Entries are
// created at construction and never removed; all fields except the
// atomics are guarded by mu.
type regionState struct {
	mu sync.Mutex

	region    region.Region
	requests  int64
	errors    int64
	health    float64
	predicted float64
	usage     monitor.ResourceUsage
	latency   monitor.LatencyStats
	hourly    map[int][]float64

	active  atomic.Int64
	window  *window.Window
	breaker *breaker.Breaker
}

func newRegionState(r region.Region, cfg *Config) *regionState {
	return &regionState{
		region:    r,
		health:    1.0,
		predicted: 1.0,
		latency:   monitor.LatencyStats{Weight: 1},
		hourly:    make(map[int][]float64),
		window:    window.New(cfg.Window),
		breaker:   breaker.New(cfg.Breaker),
	}
}

// Regions lists every managed region in enum order
func (b *Balancer) Regions() []region.Region {
	return region.All()
}

// SetResourceUsage stores a resource sample for one region. This is the
// single write boundary for resource data, so percent fields are clamped
// to [0,100] here; network rates are stored as reported.
func (b *Balancer) SetResourceUsage(r region.Region, usage monitor.ResourceUsage) error {
	st, ok := b.states[r]
	if !ok {
		return fmt.Errorf("unknown region %q", r)
	}

	usage.CPUPercent = clampPercent(usage.CPUPercent)
	usage.MemoryPercent = clampPercent(usage.MemoryPercent)

	st.mu.Lock()
	st.usage = usage
	st.mu.Unlock()

	b.sink.Observe(r.String(), "cpu_percent", usage.CPUPercent)
	b.sink.Observe(r.String(), "memory_percent", usage.MemoryPercent)
	b.sink.Observe(r.String(), "network_bytes_per_sec", usage.NetworkBytesPerSec)
	return nil
}

// ObserveLoad appends the region's current load to its hour-of-day
// history, feeding the hourly prediction
func (b *Balancer) ObserveLoad(r region.Region) {
	st, ok := b.states[r]
	if !ok {
		return
	}

	load := b.liveLoad(st)
	hour := b.clock.Now().Hour()

	st.mu.Lock()
	st.hourly[hour] = append(st.hourly[hour], load)
	if n := len(st.hourly[hour]); n > maxHourlySamples {
		st.hourly[hour] = st.hourly[hour][n-maxHourlySamples:]
	}
	st.mu.Unlock()
}

// ResizeWindows adapts every region's sample window to system load
func (b *Balancer) ResizeWindows(load float64) {
	for _, r := range region.All() {
		b.states[r].window.Resize(load)
	}
}

// LatencySamples returns up to n recent latency samples for one region,
// oldest first
func (b *Balancer) LatencySamples(r region.Region, n int) []float64 {
	st, ok := b.states[r]
	if !ok {
		return nil
	}
	return st.window.LastLatencies(n)
}

// SetLatencyStats stores recomputed latency statistics for one region
func (b *Balancer) SetLatencyStats(r region.Region, stats monitor.LatencyStats) error {
	st, ok := b.states[r]
	if !ok {
		return fmt.Errorf("unknown region %q", r)
	}

	st.mu.Lock()
	st.latency = stats
	st.mu.Unlock()

	b.sink.Observe(r.String(), "avg_latency_seconds", stats.AvgLatency)
	b.sink.Observe(r.String(), "latency_weight", stats.Weight)
	return nil
}

func (b *Balancer) setHealth(r region.Region, score float64) {
	st, ok := b.states[r]
	if !ok {
		return
	}

	score = clamp01(score)
	st.mu.Lock()
	st.health = score
	st.mu.Unlock()

	b.sink.Observe(r.String(), "health_score", score)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// RegionStatus is a point-in-time routing view of one region
type RegionStatus struct {
	Region         string  `json:"region"`
	HealthScore    float64 `json:"health_score"`
	BreakerState   string  `json:"breaker_state"`
	Weight         float64 `json:"weight"`
	Load           float64 `json:"load"`
	ActiveRequests int64   `json:"active_requests"`
	Quarantined    bool    `json:"quarantined"`
}

// GetStatus returns a routing status snapshot per region, in enum order
func (b *Balancer) GetStatus() []RegionStatus {
	weights := b.GetWeights()

	out := make([]RegionStatus, 0, region.Count())
	for _, r := range region.All() {
		st := b.states[r]
		snap := st.breaker.GetSnapshot()

		st.mu.Lock()
		health := st.health
		st.mu.Unlock()

		out = append(out, RegionStatus{
			Region:         r.String(),
			HealthScore:    health,
			BreakerState:   snap.State.String(),
			Weight:         weights[r],
			Load:           b.liveLoad(st),
			ActiveRequests: st.active.Load(),
			Quarantined:    snap.ForcedOpen,
		})
	}
	return out
}

// RegionPerformance is a point-in-time performance view of one region
type RegionPerformance struct {
	Region            string  `json:"region"`
	Requests          int64   `json:"requests"`
	Errors            int64   `json:"errors"`
	ErrorRate         float64 `json:"error_rate"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
	LatencyStdDev     float64 `json:"latency_stddev_seconds"`
	ThroughputRPS     float64 `json:"throughput_rps"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
}

// GetPerformance returns a performance snapshot per region, in enum order
func (b *Balancer) GetPerformance() []RegionPerformance {
	out := make([]RegionPerformance, 0, region.Count())
	for _, r := range region.All() {
		st := b.states[r]
		wstats := st.window.Stats()

		st.mu.Lock()
		perf := RegionPerformance{
			Region:            r.String(),
			Requests:          st.requests,
			Errors:            st.errors,
			AvgLatencySeconds: st.latency.AvgLatency,
			LatencyStdDev:     st.latency.StdDev,
			ThroughputRPS:     wstats.Throughput,
			CPUPercent:        st.usage.CPUPercent,
			MemoryPercent:     st.usage.MemoryPercent,
		}
		if st.requests > 0 {
			perf.ErrorRate = float64(st.errors) / float64(st.requests)
		}
		st.mu.Unlock()

		out = append(out, perf)
	}
	return out
}

// RegionCostReport relates a region's catalog cost to its served traffic
type RegionCostReport struct {
	Region         string  `json:"region"`
	Currency       string  `json:"currency"`
	TotalCost      float64 `json:"total_cost"`
	Requests       int64   `json:"requests"`
	CostPerRequest float64 `json:"cost_per_request"`
	Efficiency     float64 `json:"efficiency"`
}

// GetCostReport returns a cost snapshot per region, in enum order. An idle
// region reports the neutral cost-per-request of 1.
func (b *Balancer) GetCostReport() []RegionCostReport {
	out := make([]RegionCostReport, 0, region.Count())
	for _, r := range region.All() {
		st := b.states[r]
		cost := b.regionCost(r)

		st.mu.Lock()
		requests := st.requests
		st.mu.Unlock()

		cpr := 1.0
		if requests > 0 {
			cpr = cost.Total() / float64(requests)
		}

		out = append(out, RegionCostReport{
			Region:         r.String(),
			Currency:       cost.Currency,
			TotalCost:      cost.Total(),
			Requests:       requests,
			CostPerRequest: cpr,
			Efficiency:     1 / (1 + cpr),
		})
	}
	return out
}

// GetWeights returns a copy of the current weight vector
func (b *Balancer) GetWeights() map[region.Region]float64 {
	b.weightsMu.RLock()
	defer b.weightsMu.RUnlock()

	out := make(map[region.Region]float64, len(b.weights))
	for r, w := range b.weights {
		out[r] = w
	}
	return out
}
