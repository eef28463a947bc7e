package llm

import (
	"sync/atomic"
	"time"
)

type breakerState int32

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker is the closed/open/half-open breaker from the teacher's
// internal/worker/sdk/processor.go, generalized from guarding CLI calls
// to guarding the LLM chat-completion endpoint.
type CircuitBreaker struct {
	threshold    int64
	resetTimeout time.Duration

	state           atomic.Int32
	consecutiveFail atomic.Int64
	openedAt        atomic.Int64 // unix nanos
}

// NewCircuitBreaker builds a breaker that opens after threshold
// consecutive failures and attempts a half-open probe after resetTimeout.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: int64(threshold), resetTimeout: resetTimeout}
}

// Allow reports whether a new call may proceed, transitioning
// open -> half-open once resetTimeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	switch breakerState(b.state.Load()) {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		return true
	default: // open
		openedAt := time.Unix(0, b.openedAt.Load())
		if time.Since(openedAt) >= b.resetTimeout {
			b.state.CompareAndSwap(int32(breakerOpen), int32(breakerHalfOpen))
			return true
		}
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.consecutiveFail.Store(0)
	b.state.Store(int32(breakerClosed))
}

// RecordFailure increments the failure counter and opens the breaker
// once threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	n := b.consecutiveFail.Add(1)
	if breakerState(b.state.Load()) == breakerHalfOpen || n >= b.threshold {
		b.state.Store(int32(breakerOpen))
		b.openedAt.Store(time.Now().UnixNano())
	}
}

// State reports the current breaker state as a stable string for metrics/logs.
func (b *CircuitBreaker) State() string {
	switch breakerState(b.state.Load()) {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
