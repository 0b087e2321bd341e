// internal/balancer/rebalance.go
package balancer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/region"
)

const (
	hotWeightFactor  = 0.9
	coldWeightFactor = 1.1
)

// Rebalance shifts weight away from regions above the high-load threshold
// and toward regions below the low-load threshold, then renormalizes the
// vector to sum to one. Overlapping calls collapse into a single pass.
func (b *Balancer) Rebalance() {
	if !b.rebalancing.CompareAndSwap(false, true) {
		return
	}
	defer b.rebalancing.Store(false)

	loads := make(map[region.Region]float64, len(b.states))
	for r, st := range b.states {
		loads[r] = b.liveLoad(st)
	}

	b.weightsMu.Lock()
	for r, w := range b.weights {
		switch {
		case loads[r] > b.config.HighLoadThreshold:
			b.weights[r] = w * hotWeightFactor
		case loads[r] < b.config.LowLoadThreshold:
			b.weights[r] = w * coldWeightFactor
		}
	}
	b.renormalizeLocked()
	snapshot := make(map[region.Region]float64, len(b.weights))
	for r, w := range b.weights {
		snapshot[r] = w
	}
	b.weightsMu.Unlock()

	b.sink.RecordRebalance()
	for r, w := range snapshot {
		b.sink.Observe(r.String(), "weight", w)
	}
	b.logger.Info("rebalanced region weights", zap.Int("regions", len(snapshot)))
}

// shouldRebalance reports whether current loads are spread widely enough
// to warrant a rebalance pass
func (b *Balancer) shouldRebalance() bool {
	var min, max float64
	first := true
	for _, st := range b.states {
		load := b.liveLoad(st)
		if first {
			min, max = load, load
			first = false
			continue
		}
		if load < min {
			min = load
		}
		if load > max {
			max = load
		}
	}
	if first {
		return false
	}
	return max > b.config.RebalanceSpread*min
}

// SetWeight replaces one region's raw weight. The vector is renormalized
// afterwards, so the stored value is the region's share of the new sum.
func (b *Balancer) SetWeight(r region.Region, weight float64) error {
	if _, ok := b.states[r]; !ok {
		return fmt.Errorf("unknown region %q", r)
	}
	if weight < 0 || weight > 1 {
		return fmt.Errorf("weight %.3f outside [0, 1]", weight)
	}

	b.weightsMu.Lock()
	b.weights[r] = weight
	b.renormalizeLocked()
	normalized := b.weights[r]
	b.weightsMu.Unlock()

	b.sink.Observe(r.String(), "weight", normalized)
	b.logger.Info("region weight set",
		zap.String("region", r.String()),
		zap.Float64("requested", weight),
		zap.Float64("normalized", normalized))
	return nil
}

// QuarantineRegion takes a region out of rotation without dropping its
// state: weight goes to zero and the breaker is pinned open until the
// process restarts
func (b *Balancer) QuarantineRegion(r region.Region) error {
	st, ok := b.states[r]
	if !ok {
		return fmt.Errorf("unknown region %q", r)
	}

	st.breaker.ForceOpen()

	b.weightsMu.Lock()
	b.weights[r] = 0
	b.renormalizeLocked()
	b.weightsMu.Unlock()

	b.sink.Observe(r.String(), "weight", 0)
	b.logger.Info("region quarantined", zap.String("region", r.String()))
	return nil
}

// renormalizeLocked scales weights to sum to one. A degenerate all-zero
// vector resets to uniform; breakers still keep quarantined regions out
// of selection in that case.
func (b *Balancer) renormalizeLocked() {
	var sum float64
	for _, w := range b.weights {
		sum += w
	}
	if sum <= 0 {
		equal := 1.0 / float64(len(b.weights))
		for r := range b.weights {
			b.weights[r] = equal
		}
		return
	}
	for r, w := range b.weights {
		b.weights[r] = w / sum
	}
}
