package governor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/types"
)

// Config configures a Governor.
type Config struct {
	// RateLimit is the per-window admission quota. Nil always admits.
	RateLimit *int

	// RateWindow is the fixed window the quota applies to.
	RateWindow time.Duration

	// Breaker configures the circuit breaker.
	Breaker BreakerConfig
}

// DefaultConfig returns a governor config with sensible defaults.
func DefaultConfig() Config {
	limit := 100
	return Config{
		RateLimit:  &limit,
		RateWindow: time.Second,
		Breaker:    DefaultBreakerConfig(),
	}
}

// Governor combines a fixed-window rate limiter and a circuit breaker into
// the single admission gate an agent wraps its outbound calls through.
type Governor struct {
	limiter *RateLimiter
	breaker *CircuitBreaker
	logger  *zap.Logger

	admitted          atomic.Int64
	rateRejections    atomic.Int64
	breakerRejections atomic.Int64
	successes         atomic.Int64
	failures          atomic.Int64
}

// New creates a governor from the given config.
func New(config Config, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RateWindow <= 0 {
		config.RateWindow = time.Second
	}
	return &Governor{
		limiter: NewRateLimiter(config.RateLimit, config.RateWindow),
		breaker: NewCircuitBreaker(config.Breaker, logger),
		logger:  logger.With(zap.String("component", "governor")),
	}
}

// Do executes fn through the governor. The rate limiter is consulted first,
// then the breaker; a rejection by either does not consume breaker state.
// The breaker is updated after every executed attempt. Context cancellation
// before execution is returned as-is and counts as nothing.
func (g *Governor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := g.limiter.Admit(); err != nil {
		g.rateRejections.Add(1)
		return err
	}
	if err := g.breaker.Allow(); err != nil {
		g.breakerRejections.Add(1)
		return err
	}
	g.admitted.Add(1)

	err := fn(ctx)
	if err != nil {
		g.failures.Add(1)
		g.breaker.RecordFailure()
		return err
	}

	g.successes.Add(1)
	g.breaker.RecordSuccess()
	return nil
}

// DoWithResult executes fn through the governor and returns its result.
func DoWithResult[T any](ctx context.Context, g *Governor, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = fn(ctx)
		return innerErr
	})
	return out, err
}

// BreakerState returns the breaker's current state.
func (g *Governor) BreakerState() BreakerState {
	return g.breaker.State()
}

// Metrics returns a point-in-time view of the governor's counters and the
// state of both subcomponents.
func (g *Governor) Metrics() Metrics {
	return Metrics{
		Admitted:          g.admitted.Load(),
		RateRejections:    g.rateRejections.Load(),
		BreakerRejections: g.breakerRejections.Load(),
		Successes:         g.successes.Load(),
		Failures:          g.failures.Load(),
		RateLimiter:       g.limiter.Snapshot(),
		Breaker:           g.breaker.Snapshot(),
	}
}

// Metrics is a snapshot of governor activity.
type Metrics struct {
	Admitted          int64               `json:"admitted"`
	RateRejections    int64               `json:"rate_rejections"`
	BreakerRejections int64               `json:"breaker_rejections"`
	Successes         int64               `json:"successes"`
	Failures          int64               `json:"failures"`
	RateLimiter       RateLimiterState    `json:"rate_limiter"`
	Breaker           CircuitBreakerState `json:"breaker"`
}

// IsRejection reports whether err is a governor admission rejection rather
// than a downstream failure.
func IsRejection(err error) bool {
	code := types.CodeOf(err)
	return code == types.ErrRateLimited || code == types.ErrCircuitOpen
}
