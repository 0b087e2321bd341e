// internal/strategy/strategy.go
package strategy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/region"
)

// Strategy identifies a fixed routing strategy.
type Strategy string

const (
	Geographic         Strategy = "geographic"
	WeightedRoundRobin Strategy = "weighted_round_robin"
	LeastConnections   Strategy = "least_connections"
	Adaptive           Strategy = "adaptive"
)

// Default is the strategy applied when a fixed strategy is requested
// without naming a known one.
const Default = Adaptive

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case Geographic, WeightedRoundRobin, LeastConnections, Adaptive:
		return true
	}
	return false
}

// Parse converts a strategy name to its enumerated value.
func Parse(name string) (Strategy, error) {
	s := Strategy(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown strategy: %q", name)
	}
	return s, nil
}

// View is a read-only snapshot of one candidate region. Strategies only
// ever see snapshots, never live orchestrator state.
type View struct {
	Region     region.Region
	CPU        float64 // percent
	Memory     float64 // percent
	ErrorRate  float64 // [0,1]
	Throughput float64 // samples per second
	Active     int64   // in-flight requests
	Weight     float64 // routing probability mass
}

// PickerConfig configures a Picker.
type PickerConfig struct {
	Resolver      Resolver
	DefaultRegion region.Region
	Seed          int64
	Logger        *zap.Logger
}

// Picker applies a fixed strategy over candidate views. The random source
// is seeded explicitly so weighted draws are reproducible in tests; a zero
// seed falls back to wall-clock seeding.
type Picker struct {
	mu            sync.Mutex
	rand          *rand.Rand
	resolver      Resolver
	defaultRegion region.Region
	logger        *zap.Logger
}

// NewPicker creates a picker.
func NewPicker(cfg *PickerConfig) *Picker {
	if cfg == nil {
		cfg = &PickerConfig{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Picker{
		rand:          rand.New(rand.NewSource(seed)),
		resolver:      cfg.Resolver,
		defaultRegion: cfg.DefaultRegion,
		logger:        logger,
	}
}

// Pick selects a region among the candidates using the given strategy.
// Unknown strategies fall back to Adaptive; an empty candidate list
// returns the default region. Ties keep the earliest candidate, so callers
// passing views in ordinal order get deterministic tie-breaking.
func (p *Picker) Pick(s Strategy, views []View, clientIP string) region.Region {
	if len(views) == 0 {
		return p.defaultRegion
	}

	switch s {
	case Geographic:
		return p.geographic(views, clientIP)
	case WeightedRoundRobin:
		return p.weightedRoundRobin(views)
	case LeastConnections:
		return p.leastConnections(views)
	default:
		return p.adaptive(views)
	}
}

func (p *Picker) weightedRoundRobin(views []View) region.Region {
	total := 0.0
	for _, v := range views {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return views[0].Region
	}

	target := p.float64() * total
	cumulative := 0.0
	for _, v := range views {
		if v.Weight <= 0 {
			continue
		}
		cumulative += v.Weight
		if target < cumulative {
			return v.Region
		}
	}
	return views[len(views)-1].Region
}

func (p *Picker) leastConnections(views []View) region.Region {
	selected := views[0]
	for _, v := range views[1:] {
		if v.Active < selected.Active {
			selected = v
		}
	}
	return selected.Region
}

func (p *Picker) float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rand.Float64()
}
