package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout passes.
	CircuitOpen
	// CircuitHalfOpen admits probe calls.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned for calls rejected by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	HalfOpenProbes   int           `yaml:"half_open_probes" mapstructure:"half_open_probes"`

	// ShouldTrip decides which errors count as failures. Default: any error.
	ShouldTrip func(err error) bool `yaml:"-" mapstructure:"-"`
	// OnStateChange observes transitions.
	OnStateChange func(from, to CircuitState) `yaml:"-" mapstructure:"-"`
}

// DefaultBreakerConfig trips after 5 failures and probes after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenProbes: 1}
}

// Breaker is a consecutive-failure circuit breaker for one upstream.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     CircuitState
	failures  int
	openedAt  time.Time
	successes int
}

// NewBreaker builds a Breaker, filling zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = d.ResetTimeout
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = d.HalfOpenProbes
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool { return err != nil }
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn through b and returns its value.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State reports the current state, treating an expired open window as
// half-open.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.moveTo(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.ShouldTrip(err) {
		switch b.state {
		case CircuitHalfOpen:
			b.successes++
			if b.successes >= b.cfg.HalfOpenProbes {
				b.failures, b.successes = 0, 0
				b.moveTo(CircuitClosed)
			}
		case CircuitClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	switch b.state {
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.moveTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.successes = 0
		b.openedAt = b.now()
		b.moveTo(CircuitOpen)
	}
}

func (b *Breaker) moveTo(to CircuitState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}
