package governor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/types"
)

// BreakerState is the circuit breaker's current position.
type BreakerState int

const (
	// StateClosed admits all calls; consecutive failures are counted.
	StateClosed BreakerState = iota
	// StateOpen rejects all calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit from closed.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit.
	SuccessThreshold int

	// Timeout is how long the circuit stays open before the next admission
	// check moves it to half-open.
	Timeout time.Duration

	// OnStateChange is invoked on every state transition.
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerConfig returns a config with sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker is a three-state breaker protecting calls to an unreliable
// downstream resource.
type CircuitBreaker struct {
	config BreakerConfig
	logger *zap.Logger

	mu                  sync.Mutex
	state               BreakerState
	failureCount        int
	consecutiveFailures int
	halfOpenTrials      int
	halfOpenSuccesses   int
	lastFailureAt       time.Time
	lastSuccessAt       time.Time
	now                 func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed. While open, it rejects with
// CIRCUIT_OPEN until the timeout elapses; the admission check that finds
// the timeout expired moves the breaker to half-open with a fresh trial
// counter. Half-open admits at most SuccessThreshold trial calls.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailureAt) > b.config.Timeout {
			b.setState(StateHalfOpen)
			b.halfOpenTrials = 1
			b.halfOpenSuccesses = 0
			return nil
		}
		return types.NewError(types.ErrCircuitOpen, "circuit breaker is open").WithRetryable(true)

	case StateHalfOpen:
		if b.halfOpenTrials >= b.config.SuccessThreshold {
			return types.NewError(types.ErrCircuitOpen, "half-open trial quota exhausted").WithRetryable(true)
		}
		b.halfOpenTrials++
		return nil

	default:
		return types.Errorf(types.ErrCircuitOpen, "unknown breaker state %v", b.state)
	}
}

// RecordSuccess updates the breaker after a successful call. Any success,
// in any state, resets the consecutive-failure count; half-open successes
// accumulate toward the close quota, and an isolated half-open success does
// not alone close the circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.lastSuccessAt = b.now()

	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.logger.Info("circuit breaker closed after successful trials",
				zap.Int("trials", b.halfOpenSuccesses),
			)
			b.setState(StateClosed)
			b.failureCount = 0
			b.halfOpenTrials = 0
			b.halfOpenSuccesses = 0
		}
	}
}

// RecordFailure updates the breaker after a failed call. Reaching the
// failure threshold opens a closed circuit; any half-open failure
// immediately reopens and zeroes the trial count.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.consecutiveFailures++
	b.lastFailureAt = b.now()

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Int("threshold", b.config.FailureThreshold),
			)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		b.logger.Warn("circuit breaker reopened after half-open failure")
		b.setState(StateOpen)
		b.halfOpenTrials = 0
		b.halfOpenSuccesses = 0
	}
}

// State returns the breaker's current state without side effects.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker.
func (b *CircuitBreaker) Snapshot() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return CircuitBreakerState{
		State:               b.state.String(),
		FailureCount:        b.failureCount,
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenTrials:      b.halfOpenTrials,
		LastFailureAt:       b.lastFailureAt,
		LastSuccessAt:       b.lastSuccessAt,
		FailureThreshold:    b.config.FailureThreshold,
		SuccessThreshold:    b.config.SuccessThreshold,
		Timeout:             b.config.Timeout,
	}
}

// Reset manually returns the breaker to closed and clears all counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateClosed)
	b.failureCount = 0
	b.consecutiveFailures = 0
	b.halfOpenTrials = 0
	b.halfOpenSuccesses = 0
}

func (b *CircuitBreaker) setState(next BreakerState) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(prev, next)
	}
}

// CircuitBreakerState is a point-in-time view of a CircuitBreaker.
type CircuitBreakerState struct {
	State               string        `json:"state"`
	FailureCount        int           `json:"failure_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	HalfOpenTrials      int           `json:"half_open_trials"`
	LastFailureAt       time.Time     `json:"last_failure_at"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	FailureThreshold    int           `json:"failure_threshold"`
	SuccessThreshold    int           `json:"success_threshold"`
	Timeout             time.Duration `json:"timeout"`
}
