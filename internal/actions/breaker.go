package actions

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-step circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a test call.
	Cooldown time.Duration
	// HalfOpenMax is the number of test calls allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu               sync.Mutex
	state            CircuitState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// Breakers holds one circuit per step name. A circuit opens after
// FailureThreshold consecutive failures and rejects calls for Cooldown.
type Breakers struct {
	mu       sync.Mutex
	circuits map[string]*breaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakers creates an empty set of circuits. Zero fields of cfg take the
// defaults.
func NewBreakers(cfg BreakerConfig) *Breakers {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	return &Breakers{circuits: make(map[string]*breaker), config: cfg, now: time.Now}
}

// Allow returns nil when a call to name may proceed, or a CIRCUIT_OPEN error.
func (b *Breakers) Allow(name string) error {
	cb := b.get(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		elapsed := b.now().Sub(cb.lastFailure)
		if elapsed >= b.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open for action %q after %d consecutive failures", name, cb.failures).
			WithDetails(map[string]any{
				"action":             name,
				"state":              cb.state.String(),
				"cooldown_remaining": (b.config.Cooldown - elapsed).String(),
			})
	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for action %q: test call in flight", name)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// Success closes the circuit of name.
func (b *Breakers) Success(name string) {
	cb := b.get(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// Failure records a failed call and returns the resulting state.
func (b *Breakers) Failure(name string) CircuitState {
	cb := b.get(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = b.now()
	if cb.state == CircuitHalfOpen || cb.failures >= b.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// State returns the current state of the circuit for name.
func (b *Breakers) State(name string) CircuitState {
	cb := b.get(name)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && b.now().Sub(cb.lastFailure) >= b.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

func (b *Breakers) get(name string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.circuits[name]
	if !ok {
		cb = &breaker{}
		b.circuits[name] = cb
	}
	return cb
}

type breakerStep struct {
	Step
	breakers *Breakers
}

// WithCircuitBreaker guards step with the circuit named after it. Only
// retryable failures count toward opening it.
func WithCircuitBreaker(step Step, breakers *Breakers) Step {
	if breakers == nil {
		return step
	}
	return &breakerStep{Step: step, breakers: breakers}
}

func (s *breakerStep) Execute(ctx context.Context, in StepInput) (*StepOutput, error) {
	name := s.Name()
	if err := s.breakers.Allow(name); err != nil {
		return nil, err
	}
	out, err := s.Step.Execute(ctx, in)
	switch {
	case err == nil:
		s.breakers.Success(name)
	case IsRetryableError(err):
		s.breakers.Failure(name)
	}
	return out, err
}
