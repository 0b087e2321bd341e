// internal/window/window.go
package window

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sample is one observed request outcome.
type Sample struct {
	Latency   float64 // seconds
	Err       bool
	Timestamp time.Time
}

// Stats summarizes the current window contents.
type Stats struct {
	AvgLatency float64
	ErrorRate  float64
	Throughput float64 // samples per second
}

// Config bounds the adaptive window.
type Config struct {
	MinSize     int
	MaxSize     int
	InitialSize int
	HighLoad    float64
	LowLoad     float64
	Clock       clockwork.Clock
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		MinSize:     10,
		MaxSize:     1000,
		InitialSize: 100,
		HighLoad:    0.8,
		LowLoad:     0.3,
		Clock:       clockwork.NewRealClock(),
	}
}

// Window is an adaptive-size buffer of recent request samples. Shrinking
// under high system load caps the cost of rolling statistics exactly when
// the process is busiest; growing under low load improves statistical
// stability. It is safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	cfg     *Config
	clock   clockwork.Clock
	samples []Sample
	size    int
}

// New creates a window at its initial size.
func New(cfg *Config) *Window {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 10
	}
	if cfg.MaxSize < cfg.MinSize {
		cfg.MaxSize = 1000
	}
	if cfg.InitialSize < cfg.MinSize || cfg.InitialSize > cfg.MaxSize {
		cfg.InitialSize = 100
	}
	if cfg.HighLoad == 0 {
		cfg.HighLoad = 0.8
	}
	if cfg.LowLoad == 0 {
		cfg.LowLoad = 0.3
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Window{
		cfg:   cfg,
		clock: clock,
		size:  cfg.InitialSize,
	}
}

// Add appends a sample stamped with the current time, dropping the oldest
// entries beyond the current window size.
func (w *Window) Add(latency float64, isErr bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, Sample{
		Latency:   latency,
		Err:       isErr,
		Timestamp: w.clock.Now(),
	})
	w.trimLocked()
}

// Resize adapts the window size to system load: halve above HighLoad,
// double below LowLoad, floored and capped at the configured bounds.
// Buffered samples beyond the new size are dropped immediately.
func (w *Window) Resize(systemLoad float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case systemLoad > w.cfg.HighLoad:
		w.size /= 2
		if w.size < w.cfg.MinSize {
			w.size = w.cfg.MinSize
		}
	case systemLoad < w.cfg.LowLoad:
		w.size *= 2
		if w.size > w.cfg.MaxSize {
			w.size = w.cfg.MaxSize
		}
	}
	w.trimLocked()
}

func (w *Window) trimLocked() {
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}
}

// Stats computes rolling statistics over the buffered samples. An empty
// window reports zeros; throughput is zero when all samples share one
// timestamp.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.samples)
	if n == 0 {
		return Stats{}
	}

	var totalLatency float64
	var errs int
	for _, s := range w.samples {
		totalLatency += s.Latency
		if s.Err {
			errs++
		}
	}

	stats := Stats{
		AvgLatency: totalLatency / float64(n),
		ErrorRate:  float64(errs) / float64(n),
	}

	elapsed := w.clock.Now().Sub(w.samples[0].Timestamp).Seconds()
	if elapsed > 0 {
		stats.Throughput = float64(n) / elapsed
	}
	return stats
}

// Size returns the current target window size.
func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Len returns the number of buffered samples.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// LastLatencies returns up to n of the most recent latency values, oldest
// first. n <= 0 returns every buffered value.
func (w *Window) LastLatencies(n int) []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n <= 0 || n > len(w.samples) {
		n = len(w.samples)
	}
	out := make([]float64, 0, n)
	for _, s := range w.samples[len(w.samples)-n:] {
		out = append(out, s.Latency)
	}
	return out
}
