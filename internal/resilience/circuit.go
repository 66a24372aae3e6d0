package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed passes requests through normally.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows probe requests to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig controls when a Breaker trips and recovers.
type BreakerConfig struct {
	// Threshold is the consecutive failure count that opens the circuit.
	// Default 5.
	Threshold int

	// Cooldown is how long the circuit stays open before allowing a
	// probe. Default 30s.
	Cooldown time.Duration

	// Trips overrides the default "any error counts" check when non-nil.
	Trips func(err error) bool
}

// Breaker is a circuit breaker guarding a single external service.
type Breaker struct {
	cfg     BreakerConfig
	service string

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	nowFunc  func() time.Time
}

// NewBreaker creates a breaker for the named service.
func NewBreaker(service string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, service: service, nowFunc: time.Now}
}

// State returns the effective state, accounting for an elapsed cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		return nil
	}
	return ErrCircuitOpen
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	trips := b.cfg.Trips
	if trips == nil {
		trips = func(e error) bool { return e != nil }
	}

	if err == nil || !trips(err) {
		if b.state != StateClosed {
			zap.L().Info("circuit closed", zap.String("service", b.service))
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.openedAt = b.nowFunc()
	if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
		if b.state != StateOpen {
			zap.L().Warn("circuit opened",
				zap.String("service", b.service),
				zap.Int("failures", b.failures),
				zap.String("class", Classify(err)))
		}
		b.state = StateOpen
	}
}

// Guard runs op through the breaker, returning ErrCircuitOpen without
// calling op when the circuit is open.
func (b *Breaker) Guard(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op(ctx)
	b.record(err)
	return err
}

// GuardVal is Guard for operations that return a value.
func GuardVal[T any](ctx context.Context, b *Breaker, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := op(ctx)
	b.record(err)
	return val, err
}
