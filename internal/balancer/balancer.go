// internal/balancer/balancer.go
package balancer

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/breaker"
	"github.com/harborline/meridian/internal/metrics"
	"github.com/harborline/meridian/internal/monitor"
	"github.com/harborline/meridian/internal/probe"
	"github.com/harborline/meridian/internal/region"
	"github.com/harborline/meridian/internal/strategy"
	"github.com/harborline/meridian/internal/window"
)

// RequestType classifies a request for composite scoring
type RequestType string

const (
	RequestGeneral        RequestType = "general"
	RequestLowLatency     RequestType = "low_latency"
	RequestHighThroughput RequestType = "high_throughput"
	RequestCostSensitive  RequestType = "cost_sensitive"
	RequestDataLocal      RequestType = "data_local"
)

// ParseRequestType maps a wire name to a request type. Unknown names fall
// back to RequestGeneral so selection never rejects a request.
func ParseRequestType(name string) RequestType {
	switch rt := RequestType(strings.ToLower(name)); rt {
	case RequestGeneral, RequestLowLatency, RequestHighThroughput, RequestCostSensitive, RequestDataLocal:
		return rt
	default:
		return RequestGeneral
	}
}

// Config holds balancer settings
type Config struct {
	DefaultRegion region.Region

	// Strategy forces a fixed routing strategy. Empty selects the
	// composite scoring path.
	Strategy strategy.Strategy

	MaxRequestsPerRegion  int64
	HealthRefreshInterval time.Duration
	PredictiveInterval    time.Duration
	RebalanceInterval     time.Duration

	// RebalanceSpread is the max/min load ratio beyond which the
	// auto-rebalancer fires
	RebalanceSpread   float64
	HighLoadThreshold float64
	LowLoadThreshold  float64

	Costs   region.Catalog
	Breaker *breaker.Config
	Window  *window.Config
	Clock   clockwork.Clock
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultRegion:         region.Global,
		MaxRequestsPerRegion:  1000,
		HealthRefreshInterval: 30 * time.Second,
		PredictiveInterval:    time.Hour,
		RebalanceInterval:     30 * time.Second,
		RebalanceSpread:       1.5,
		HighLoadThreshold:     0.8,
		LowLoadThreshold:      0.3,
	}
}

// Balancer routes requests across the region set. It owns one state entry
// per enumerated region for the lifetime of the process; quarantined
// regions keep their entry and are excluded through their breaker.
type Balancer struct {
	config *Config
	logger *zap.Logger
	clock  clockwork.Clock
	prober probe.Prober
	sink   metrics.Sink
	picker *strategy.Picker

	states map[region.Region]*regionState

	weightsMu sync.RWMutex
	weights   map[region.Region]float64

	costsMu sync.RWMutex
	costs   region.Catalog

	rebalancing atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a balancer with one state entry per region and uniform
// initial weights
func New(config *Config, prober probe.Prober, sink metrics.Sink, picker *strategy.Picker, logger *zap.Logger) (*Balancer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.DefaultRegion.Valid() {
		return nil, fmt.Errorf("invalid default region %d", int(config.DefaultRegion))
	}
	if config.Strategy != "" && !config.Strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy %q", config.Strategy)
	}
	if config.MaxRequestsPerRegion <= 0 {
		return nil, fmt.Errorf("max requests per region must be positive")
	}
	if config.Costs == nil {
		config.Costs = region.DefaultCatalog()
	}
	if err := config.Costs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cost catalog: %w", err)
	}
	if prober == nil {
		prober = probe.NewStaticProber()
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
	if picker == nil {
		picker = strategy.NewPicker(&strategy.PickerConfig{
			DefaultRegion: config.DefaultRegion,
			Logger:        logger,
		})
	}

	states := make(map[region.Region]*regionState, region.Count())
	weights := make(map[region.Region]float64, region.Count())
	equal := 1.0 / float64(region.Count())
	for _, r := range region.All() {
		states[r] = newRegionState(r, config)
		weights[r] = equal
	}

	return &Balancer{
		config:  config,
		logger:  logger,
		clock:   clock,
		prober:  prober,
		sink:    sink,
		picker:  picker,
		states:  states,
		weights: weights,
		costs:   config.Costs.Clone(),
		stopCh:  make(chan struct{}),
	}, nil
}

// ApplyCosts replaces the cost catalog wholesale. Request traffic never
// mutates the catalog; an invalid replacement is rejected and the current
// catalog stays in effect.
func (b *Balancer) ApplyCosts(catalog region.Catalog) error {
	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("invalid cost catalog: %w", err)
	}

	b.costsMu.Lock()
	b.costs = catalog.Clone()
	b.costsMu.Unlock()

	b.logger.Info("cost catalog replaced", zap.Int("regions", len(catalog)))
	return nil
}

func (b *Balancer) regionCost(r region.Region) region.Cost {
	b.costsMu.RLock()
	defer b.costsMu.RUnlock()
	return b.costs[r]
}

// SelectRegion picks the target region for one request. It never blocks on
// the background loops and never fails: any internal fault is logged and
// the default region is returned instead.
func (b *Balancer) SelectRegion(reqType RequestType, clientIP string) (selected region.Region) {
	selected = b.config.DefaultRegion
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("region selection panicked", zap.Any("panic", r))
			selected = b.config.DefaultRegion
		}
	}()

	start := b.clock.Now()
	selected = b.choose(reqType, clientIP)

	st := b.states[selected]
	st.mu.Lock()
	st.requests++
	st.mu.Unlock()
	st.active.Add(1)

	b.sink.RecordSelection(selected.String(), string(reqType))
	b.sink.RecordSelectionDuration(string(reqType), b.clock.Now().Sub(start).Seconds())
	return selected
}

func (b *Balancer) choose(reqType RequestType, clientIP string) region.Region {
	candidates := b.eligibleRegions()
	if len(candidates) == 0 {
		b.logger.Warn("no eligible region, using default",
			zap.String("default", b.config.DefaultRegion.String()))
		return b.config.DefaultRegion
	}

	if b.config.Strategy != "" {
		return b.picker.Pick(b.config.Strategy, b.views(candidates), clientIP)
	}

	// Strict greater-than keeps ties on the lowest ordinal
	best := candidates[0]
	bestScore := b.compositeScore(best, reqType)
	for _, r := range candidates[1:] {
		if score := b.compositeScore(r, reqType); score > bestScore {
			best, bestScore = r, score
		}
	}
	return best
}

// eligibleRegions returns, in enum order, every region whose breaker
// currently admits traffic
func (b *Balancer) eligibleRegions() []region.Region {
	eligible := make([]region.Region, 0, region.Count())
	for _, r := range region.All() {
		if b.states[r].breaker.Allow() {
			eligible = append(eligible, r)
		}
	}
	return eligible
}

// compositeScore blends six equally weighted signals. The load term uses
// live in-flight pressure when any exists and the hourly prediction as a
// soft prior otherwise.
func (b *Balancer) compositeScore(r region.Region, reqType RequestType) float64 {
	st := b.states[r]

	st.mu.Lock()
	health := st.health
	usage := st.usage
	latWeight := st.latency.Weight
	predicted := st.predicted
	st.mu.Unlock()

	load := b.liveLoad(st)
	if st.active.Load() == 0 {
		load = clamp01(1 - predicted)
	}

	res := resourceScore(usage)

	b.weightsMu.RLock()
	weight := b.weights[r]
	b.weightsMu.RUnlock()

	score := health + (1 - load) + weight + res + latWeight
	switch reqType {
	case RequestLowLatency:
		score += latWeight
	case RequestHighThroughput:
		score += res
	case RequestCostSensitive:
		score += b.CostEfficiency(r)
	case RequestDataLocal:
		score += health
	}
	return 0.2 * score
}

// resourceScore folds resource headroom into a single value. Network is
// normalized against a 1 MB/s reference rate and may push the value
// negative on saturated hosts, which ranks the region down.
func resourceScore(u monitor.ResourceUsage) float64 {
	return 0.4*(1-u.CPUPercent/100) +
		0.3*(1-u.MemoryPercent/100) +
		0.3*(1-u.NetworkBytesPerSec/1_000_000)
}

// views assembles read-only snapshots for the fixed strategies
func (b *Balancer) views(candidates []region.Region) []strategy.View {
	b.weightsMu.RLock()
	weights := make(map[region.Region]float64, len(b.weights))
	for r, w := range b.weights {
		weights[r] = w
	}
	b.weightsMu.RUnlock()

	views := make([]strategy.View, 0, len(candidates))
	for _, r := range candidates {
		st := b.states[r]
		wstats := st.window.Stats()
		st.mu.Lock()
		views = append(views, strategy.View{
			Region:     r,
			CPU:        st.usage.CPUPercent,
			Memory:     st.usage.MemoryPercent,
			ErrorRate:  wstats.ErrorRate,
			Throughput: wstats.Throughput,
			Active:     st.active.Load(),
			Weight:     weights[r],
		})
		st.mu.Unlock()
	}
	return views
}

// RecordResult feeds one request outcome back into the region's window,
// error counter and breaker
func (b *Balancer) RecordResult(r region.Region, latency time.Duration, reqErr error) {
	st, ok := b.states[r]
	if !ok {
		b.logger.Warn("result for unknown region", zap.Int("region", int(r)))
		return
	}

	if st.active.Add(-1) < 0 {
		st.active.Store(0)
	}
	st.window.Add(latency.Seconds(), reqErr != nil)

	if reqErr != nil {
		st.mu.Lock()
		st.errors++
		st.mu.Unlock()
		st.breaker.RecordFailure()
		return
	}
	st.breaker.RecordSuccess()
}

// CostEfficiency maps a region's cost-per-request onto (0,1]; higher means
// cheaper per served request. An idle region scores the neutral 0.5.
func (b *Balancer) CostEfficiency(r region.Region) float64 {
	st, ok := b.states[r]
	if !ok {
		return 0
	}

	st.mu.Lock()
	requests := st.requests
	st.mu.Unlock()

	cpr := 1.0
	if requests > 0 {
		cpr = b.regionCost(r).Total() / float64(requests)
	}
	return 1 / (1 + cpr)
}

// PredictedScore reports the cached hourly prediction, 1 meaning the
// region is expected idle this hour
func (b *Balancer) PredictedScore(r region.Region) float64 {
	st, ok := b.states[r]
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.predicted
}

// liveLoad is in-flight pressure against configured capacity, in [0,1]
func (b *Balancer) liveLoad(st *regionState) float64 {
	load := float64(st.active.Load()) / float64(b.config.MaxRequestsPerRegion)
	return clamp01(load)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
