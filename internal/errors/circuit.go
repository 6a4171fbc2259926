package errors

import (
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a plugin's circuit breaker has tripped
// and the plugin is being skipped until its reset timeout elapses.
var ErrCircuitOpen = New(KindPluginFailure, "circuit breaker is open")

// State is the lifecycle state of a CircuitBreaker.
type State int

const (
	// StateClosed is the normal state: the plugin runs on every call.
	StateClosed State = iota
	// StateOpen means the plugin tripped its failure threshold and is
	// skipped until resetTimeout elapses.
	StateOpen
	// StateHalfOpen means resetTimeout has elapsed and the next call is
	// let through as a probe; its outcome decides Open vs Closed.
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
	default:
		return "unknown"
	}
}

// CircuitBreaker isolates a plugin whose Parse/Lookup/References/Search
// keeps failing (or keeps timing out) so that one misbehaving language
// adapter cannot degrade every query. It tracks failures and timeouts
// separately from its Allow/trip decision — see LastReason — so a caller
// such as the dispatcher watchdog can tell whether a plugin is degraded
// because it returns errors or because it ran past the request ceiling.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	failures    int
	lastFailure time.Time
	lastReason  Kind
}

// CircuitBreakerOption configures a CircuitBreaker at construction.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of failures (of any reason) before the
// breaker trips to StateOpen.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long a tripped breaker stays open before
// admitting one half-open probe call.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// NewCircuitBreaker returns a breaker for the named plugin. Defaults: 5
// failures, 30s reset timeout; overridden by spec.md §4.3's configured
// plugin.failure_threshold/failure_window via setup.go.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the name the breaker was constructed with (the plugin's
// language tag).
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State reports the breaker's current state, resolving an expired Open
// window to HalfOpen.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveState()
}

func (cb *CircuitBreaker) effectiveState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// LastReason returns the Kind recorded by the most recent RecordFailure
// or RecordTimeout call, or "" if the breaker has never recorded either.
func (cb *CircuitBreaker) LastReason() Kind {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastReason
}

// Allow reports whether a plugin call should proceed: true in Closed and
// HalfOpen (the HalfOpen probe), false in Open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.effectiveState() != StateOpen
}

// RecordSuccess clears the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.lastReason = ""
	cb.state = StateClosed
}

// RecordFailure records a plugin error (KindPluginFailure) and trips the
// breaker once maxFailures is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.recordOutcome(KindPluginFailure)
}

// RecordTimeout records that the dispatcher's watchdog abandoned a call
// into this plugin past its deadline without the plugin cooperating with
// ctx cancellation (spec.md §4.1's uncooperative-plugin scenario). It
// counts toward the same failure threshold as RecordFailure but tags the
// reason KindTimeout so Health/LastReason can distinguish "errors out"
// from "never returns."
func (cb *CircuitBreaker) RecordTimeout() {
	cb.recordOutcome(KindTimeout)
}

func (cb *CircuitBreaker) recordOutcome(reason Kind) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	cb.lastReason = reason

	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}
