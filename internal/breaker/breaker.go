// internal/breaker/breaker.go
package breaker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State represents the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a circuit breaker.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	Clock            clockwork.Clock
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		Clock:            clockwork.NewRealClock(),
	}
}

// Breaker gates request attempts against a single region. It is safe for
// concurrent use.
type Breaker struct {
	mu            sync.Mutex
	cfg           *Config
	clock         clockwork.Clock
	state         State
	failures      int
	lastFailureAt time.Time
	forcedOpen    bool
}

// New creates a breaker in the Closed state.
func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Breaker{
		cfg:   cfg,
		clock: clock,
		state: StateClosed,
	}
}

// Allow reports whether a request may be attempted. An Open breaker whose
// cooldown has elapsed moves to HalfOpen as a side effect of the query and
// permits one probing attempt; failures in HalfOpen count toward a fresh
// threshold.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.forcedOpen {
		return false
	}

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.lastFailureAt) > b.cfg.Cooldown {
			b.state = StateHalfOpen
			b.failures = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordFailure increments the failure count. Once the count reaches the
// threshold the breaker opens and the failure time is stamped; further
// failures while open push the cooldown out again.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.lastFailureAt = b.clock.Now()
	}
}

// RecordSuccess clears the failure count and closes the breaker. A forced
// open breaker stays open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.forcedOpen {
		return
	}
	b.failures = 0
	b.state = StateClosed
}

// ForceOpen pins the breaker open until process restart. Used to quarantine
// a region that has been administratively removed.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.forcedOpen = true
	b.state = StateOpen
	b.lastFailureAt = b.clock.Now()
}

// GetState returns the current breaker state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetFailures returns the current failure count.
func (b *Breaker) GetFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot is a point-in-time copy of the breaker internals.
type Snapshot struct {
	State         State
	Failures      int
	LastFailureAt time.Time
	ForcedOpen    bool
}

// GetSnapshot returns a copy of the breaker state for reporting.
func (b *Breaker) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:         b.state,
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
		ForcedOpen:    b.forcedOpen,
	}
}
