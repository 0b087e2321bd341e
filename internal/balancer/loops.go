// internal/balancer/loops.go
package balancer

import (
	"context"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/harborline/meridian/internal/region"
)

// Start launches the health refresh, predictive update and auto-rebalance
// loops
func (b *Balancer) Start(ctx context.Context) error {
	b.wg.Add(3)
	go b.healthLoop(ctx)
	go b.predictiveLoop(ctx)
	go b.rebalanceLoop(ctx)

	b.logger.Info("balancer started",
		zap.Duration("health_refresh", b.config.HealthRefreshInterval),
		zap.Duration("predictive", b.config.PredictiveInterval),
		zap.Duration("rebalance", b.config.RebalanceInterval))
	return nil
}

// Stop halts the background loops and waits for them to exit
func (b *Balancer) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

func (b *Balancer) healthLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := b.clock.NewTicker(b.config.HealthRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.Chan():
			b.refreshHealth(ctx)
		}
	}
}

func (b *Balancer) predictiveLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := b.clock.NewTicker(b.config.PredictiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.Chan():
			b.refreshPredictions()
		}
	}
}

func (b *Balancer) rebalanceLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := b.clock.NewTicker(b.config.RebalanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.Chan():
			if b.shouldRebalance() {
				b.Rebalance()
			}
		}
	}
}

// refreshHealth probes every region once. A probe failure zeroes that
// region's health and the pass moves on to the next region.
func (b *Balancer) refreshHealth(ctx context.Context) {
	for _, r := range region.All() {
		report, err := b.prober.Check(ctx, r)
		if err != nil {
			b.logger.Warn("health probe failed",
				zap.String("region", r.String()),
				zap.Error(err))
			b.setHealth(r, 0)
			continue
		}
		b.setHealth(r, report.Score())
	}
}

// refreshPredictions recomputes each region's prediction for the current
// hour from its observed load history. No history means an expected-idle
// score of 1.
func (b *Balancer) refreshPredictions() {
	hour := b.clock.Now().Hour()
	for _, r := range region.All() {
		st := b.states[r]

		st.mu.Lock()
		var mean float64
		if samples := st.hourly[hour]; len(samples) > 0 {
			mean = stat.Mean(samples, nil)
		}
		st.predicted = clamp01(1 - mean)
		predicted := st.predicted
		st.mu.Unlock()

		b.sink.Observe(r.String(), "predicted_score", predicted)
	}
}

// RefreshNow runs one synchronous pass of every background refresh.
// Intended for startup so the first selections see probed health instead
// of construction defaults.
func (b *Balancer) RefreshNow(ctx context.Context) {
	b.refreshHealth(ctx)
	b.refreshPredictions()
}
