// Package balancer routes requests across geographic regions and keeps the
// routing signals that drive those decisions fresh.
//
// # Overview
//
// The balancer owns one state entry per enumerated region for the lifetime
// of the process. Each entry carries:
//   - Request and error counters
//   - An adaptive sample window of recent latencies
//   - A health score refreshed from subsystem probes
//   - Resource usage (CPU, memory, network) from the resource monitor
//   - Latency statistics from the latency monitor
//   - An hourly load history feeding a per-hour prediction
//   - A circuit breaker gating selection attempts
//
// Regions are never deleted. Quarantining a region zeroes its weight and
// pins its breaker open, which removes it from rotation while preserving
// its history.
//
// # Selection
//
// SelectRegion scores every region whose breaker admits traffic and picks
// the maximum; ties resolve to the lowest enum ordinal. The composite
// score blends six equally weighted signals:
//
//	score = 0.2*health + 0.2*(1-load) + 0.2*weight +
//	        0.2*resource + 0.2*latency + 0.2*bonus(requestType)
//
// where the bonus doubles down on the signal the request type cares about:
// latency weight for low_latency, resource headroom for high_throughput,
// cost efficiency for cost_sensitive, health for data_local. When no
// region is eligible the configured default region is returned, so
// selection always produces an answer.
//
// A fixed strategy (geographic, weighted_round_robin, least_connections,
// adaptive) can be configured instead, in which case selection delegates
// to the strategy picker over the same eligible set.
//
// # Quick Start
//
//	b, err := balancer.New(nil, prober, metrics.NewPromSink(), nil, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := b.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer b.Stop()
//
//	r := b.SelectRegion(balancer.RequestLowLatency, clientIP)
//	err = serve(r)
//	b.RecordResult(r, time.Since(start), err)
//
// # Background Loops
//
// Start launches three loops: a health refresher that probes every region,
// a predictive updater that recomputes hourly load expectations, and an
// auto-rebalancer that shifts weight off hot regions when the max/min load
// spread crosses the configured ratio. The resource and latency monitors
// in internal/monitor feed the balancer through its store interfaces.
package balancer
