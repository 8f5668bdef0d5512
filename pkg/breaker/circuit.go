package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State represents a circuit's state.
type State int

const (
	StateClosed   State = iota // Normal operation; traffic passes through.
	StateOpen                  // Failing; traffic is diverted elsewhere.
	StateHalfOpen              // Probing; limited traffic tests recovery.
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

// Settings tunes a circuit breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that
	// transitions a closed circuit to open.
	FailureThreshold int

	// OpenDuration is how long an open circuit waits before probing
	// traffic is allowed through (half-open).
	OpenDuration time.Duration

	// HalfOpenSuccessThreshold is the number of consecutive successes in
	// half-open state required to close the circuit.
	HalfOpenSuccessThreshold int
}

// record holds the live state for one scope key.
type record struct {
	state     State
	failures  int // consecutive failures
	successes int // consecutive successes, meaningful only in half-open
	openedAt  time.Time
	settings  Settings
}

// CircuitBreaker tracks failure and success history per scope key (an
// endpoint ID or a provider ID) and derives an open/half-open/closed
// state for each. The open to half-open transition is evaluated lazily
// on read; a circuit with no traffic simply stays open until the next
// query recomputes it.
//
// All state lives in process memory and is rebuilt from zero on restart.
// A false "closed" after restart is acceptable: the breaker self-heals
// from live traffic.
//
// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.RWMutex
	records  map[string]*record
	defaults Settings
	logger   *slog.Logger
	now      func() time.Time
}

// Snapshot is a read-only view of one circuit, exposed for the admin
// surface and metrics.
type Snapshot struct {
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Failures  int       `json:"consecutive_failures"`
	Successes int       `json:"consecutive_successes"`
	OpenedAt  time.Time `json:"opened_at,omitzero"`
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = logger.With("component", "breaker") }
}

// New creates a CircuitBreaker whose circuits use the given default
// settings unless a key is configured individually via Configure.
func New(defaults Settings, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		records:  make(map[string]*record),
		defaults: defaults,
		logger:   slog.Default().With("component", "breaker"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Configure sets per-key settings, overriding the defaults for that key.
// Existing counters for the key are preserved.
func (cb *CircuitBreaker) Configure(key string, settings Settings) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	r := cb.getLocked(key)
	r.settings = settings
}

// getLocked returns the record for key, creating it closed if absent.
// Callers must hold mu.
func (cb *CircuitBreaker) getLocked(key string) *record {
	r, ok := cb.records[key]
	if !ok {
		r = &record{state: StateClosed, settings: cb.defaults}
		cb.records[key] = r
	}
	return r
}

// effectiveState computes the record's state as of now, applying the
// lazy open to half-open transition without mutating the record.
func (r *record) effectiveState(now time.Time) State {
	if r.state == StateOpen && now.Sub(r.openedAt) >= r.settings.OpenDuration {
		return StateHalfOpen
	}
	return r.state
}

// RecordFailure records a failed exchange for key. Reaching the failure
// threshold opens the circuit; any failure in half-open state reopens it
// immediately and resets the open timer.
func (cb *CircuitBreaker) RecordFailure(key string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	r := cb.getLocked(key)

	switch r.effectiveState(now) {
	case StateHalfOpen:
		r.state = StateOpen
		r.openedAt = now
		r.failures = 1
		r.successes = 0
		cb.logger.Warn("circuit reopened from half-open",
			"key", key,
			"error", err,
		)
	case StateOpen:
		// Already open; keep counting but do not extend the window.
		r.failures++
	default: // closed
		r.failures++
		r.successes = 0
		if r.failures >= r.settings.FailureThreshold {
			r.state = StateOpen
			r.openedAt = now
			cb.logger.Warn("circuit opened",
				"key", key,
				"consecutive_failures", r.failures,
				"error", err,
			)
		}
	}
}

// RecordSuccess records a successful exchange for key. In half-open
// state, reaching the success threshold closes the circuit. In closed
// state it resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	r := cb.getLocked(key)

	switch r.effectiveState(now) {
	case StateHalfOpen:
		// Materialize the lazy transition before counting.
		r.state = StateHalfOpen
		r.successes++
		if r.successes >= r.settings.HalfOpenSuccessThreshold {
			r.state = StateClosed
			r.failures = 0
			r.successes = 0
			r.openedAt = time.Time{}
			cb.logger.Info("circuit closed", "key", key)
		}
	case StateOpen:
		// A success while still inside the open window carries no
		// signal for the breaker (the caller chose to use the target
		// anyway); ignore it.
	default: // closed
		r.failures = 0
	}
}

// IsOpen reports whether the circuit for key is open. A circuit whose
// open window has elapsed reads as half-open and therefore not open.
func (cb *CircuitBreaker) IsOpen(key string) bool {
	return cb.State(key) == StateOpen
}

// State returns the circuit state for key as of now, with the lazy
// open to half-open transition applied. Keys never recorded read as
// closed.
func (cb *CircuitBreaker) State(key string) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	r, ok := cb.records[key]
	if !ok {
		return StateClosed
	}
	return r.effectiveState(cb.now())
}

// Reset forces the circuit for key back to closed with zeroed counters.
func (cb *CircuitBreaker) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.records, key)
}

// Snapshots returns a point-in-time view of every tracked circuit,
// sorted by nothing in particular.
func (cb *CircuitBreaker) Snapshots() []Snapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	now := cb.now()
	out := make([]Snapshot, 0, len(cb.records))
	for key, r := range cb.records {
		out = append(out, Snapshot{
			Key:       key,
			State:     r.effectiveState(now).String(),
			Failures:  r.failures,
			Successes: r.successes,
			OpenedAt:  r.openedAt,
		})
	}
	return out
}
