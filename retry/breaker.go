package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the circuit breaker refuses an operation without
// attempting it. Callers can distinguish this from a failed call with
// errors.Is.
var ErrOpen = errors.New("circuit breaker open")

// BreakerConfig tunes the circuit breaker registry.
type BreakerConfig struct {
	// Threshold is the failure-streak length that opens a breaker
	Threshold int

	// RecoveryTimeout is how long an open breaker blocks calls before
	// allowing a probe attempt
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns the default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:       5,
		RecoveryTimeout: 60 * time.Second,
	}
}

// BreakerState is an observable snapshot of one operation key's breaker.
type BreakerState struct {
	OperationKey  string
	FailureCount  int
	LastFailureAt time.Time
	Open          bool
}

type breakerEntry struct {
	failureCount  int
	lastFailureAt time.Time
}

// BreakerRegistry tracks failure streaks per logical operation key
// (e.g. "sync_line_42", "bulk_create") and gates whether an operation may
// even be attempted.
//
// State machine per key: Closed (calls allowed) becomes Open once the
// failure streak reaches Threshold; Open blocks calls until RecoveryTimeout
// has elapsed since the last failure. Half-open is implicit: the first call
// allowed after the timeout decides Closed-again (success) or Open-again
// (failure, with a refreshed timestamp).
type BreakerRegistry struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	entries map[string]*breakerEntry
	now     func() time.Time
}

// NewBreakerRegistry creates a registry with the given tuning. Zero or
// negative values fall back to defaults.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	return &BreakerRegistry{
		cfg:     cfg,
		entries: make(map[string]*breakerEntry),
		now:     time.Now,
	}
}

// Allow reports whether a call for the given operation key may be attempted.
func (r *BreakerRegistry) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return true
	}
	if entry.failureCount < r.cfg.Threshold {
		return true
	}
	// Open; permit a probe once the recovery timeout has elapsed.
	return r.now().Sub(entry.lastFailureAt) > r.cfg.RecoveryTimeout
}

// RecordFailure extends the failure streak for a key.
func (r *BreakerRegistry) RecordFailure(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		entry = &breakerEntry{}
		r.entries[key] = entry
	}
	entry.failureCount++
	entry.lastFailureAt = r.now()
}

// RecordSuccess resets a key's breaker to Closed.
func (r *BreakerRegistry) RecordSuccess(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, key)
}

// State returns an observable snapshot for a key.
func (r *BreakerRegistry) State(key string) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := BreakerState{OperationKey: key}
	entry, ok := r.entries[key]
	if !ok {
		return state
	}
	state.FailureCount = entry.failureCount
	state.LastFailureAt = entry.lastFailureAt
	state.Open = entry.failureCount >= r.cfg.Threshold &&
		r.now().Sub(entry.lastFailureAt) <= r.cfg.RecoveryTimeout
	return state
}

// Reset clears all breaker state.
func (r *BreakerRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*breakerEntry)
}
