// Package governor provides the per-agent reliability governor: a
// fixed-window rate limiter combined with a three-state circuit breaker.
// Every agent proxying to an unreliable downstream resource wraps its calls
// through a Governor, which may reject for rate-limit or open-circuit
// reasons and updates its state after every attempt.
//
// Each agent instance owns an independent governor; this is a local, not
// distributed, liveness mechanism.
package governor
