// Package retry executes operations with bounded attempts, exponential
// backoff with jitter, and per-operation circuit breaking.
package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	syncErrors "github.com/adjustware/linesync/errors"
)

// Config tunes retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int

	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay grows per attempt
	Multiplier float64

	// Jitter perturbs each delay by up to this fraction in either direction
	// (0.25 means +/-25%). Zero disables jitter.
	Jitter float64
}

// DefaultConfig returns the default retry tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// Runner wraps operations with retry, classification and circuit breaking.
type Runner struct {
	cfg      Config
	breakers *BreakerRegistry
	logger   *slog.Logger
}

// NewRunner creates a Runner. A nil breakers registry disables circuit
// breaking; a nil logger falls back to slog.Default.
func NewRunner(cfg Config, breakers *BreakerRegistry, logger *slog.Logger) *Runner {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, breakers: breakers, logger: logger}
}

// Breakers exposes the breaker registry for observability.
func (r *Runner) Breakers() *BreakerRegistry {
	return r.breakers
}

// Do executes op under the runner's retry policy.
//
// Before each attempt the circuit breaker for key is consulted; if it is
// open, Do fails immediately with a SyncError wrapping ErrOpen so callers
// can tell "we refused to try" apart from "the call failed". Failures are
// classified with opCtx: non-retryable errors propagate immediately and
// count against the breaker; retryable errors sleep for the backoff delay
// and retry up to MaxAttempts. Any success resets the key's breaker.
func (r *Runner) Do(ctx context.Context, key string, opCtx syncErrors.Context, op func(context.Context) error) error {
	var lastErr *syncErrors.SyncError

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if r.breakers != nil && !r.breakers.Allow(key) {
			r.logger.Warn("circuit breaker open, refusing operation",
				"operation_key", key,
				"attempt", attempt)
			rejected := syncErrors.Classify(ErrOpen, opCtx)
			rejected.WithMetadata("operation_key", key)
			return rejected
		}

		err := op(ctx)
		if err == nil {
			if r.breakers != nil {
				r.breakers.RecordSuccess(key)
			}
			if attempt > 1 {
				r.logger.Info("operation succeeded after retry",
					"operation_key", key,
					"attempt", attempt)
			}
			return nil
		}

		lastErr = syncErrors.Classify(err, opCtx)
		lastErr.WithMetadata("operation_key", key)
		lastErr.WithMetadata("attempt", attempt)

		if !lastErr.Retryable {
			r.logger.Debug("operation failed with non-retryable error",
				"operation_key", key,
				"kind", lastErr.Kind,
				"error", err)
			if r.breakers != nil {
				r.breakers.RecordFailure(key)
			}
			return lastErr
		}

		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.jittered(r.backoffDelay(attempt))
		r.logger.Debug("waiting before retry",
			"operation_key", key,
			"attempt", attempt+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Warn("retry sequence canceled by context",
				"operation_key", key,
				"error", ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.logger.Error("all retry attempts exhausted",
		"operation_key", key,
		"total_attempts", r.cfg.MaxAttempts,
		"final_error", lastErr)
	if r.breakers != nil {
		r.breakers.RecordFailure(key)
	}
	return lastErr
}

// backoffDelay returns the unjittered delay after the given attempt number
// (1-based): min(BaseDelay * Multiplier^(attempt-1), MaxDelay). The sequence
// is non-decreasing up to MaxDelay.
func (r *Runner) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(r.cfg.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= r.cfg.Multiplier
		if time.Duration(delay) >= r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	if time.Duration(delay) > r.cfg.MaxDelay {
		return r.cfg.MaxDelay
	}
	return time.Duration(delay)
}

func (r *Runner) jittered(delay time.Duration) time.Duration {
	if r.cfg.Jitter <= 0 {
		return delay
	}
	// Uniform in [1-jitter, 1+jitter].
	factor := 1 + r.cfg.Jitter*(2*rand.Float64()-1)
	out := time.Duration(float64(delay) * factor)
	if out < 0 {
		out = 0
	}
	return out
}
