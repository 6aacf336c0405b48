package linesync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adjustware/linesync/retry"
)

// Config holds the engine's tuning knobs. Durations are expressed in
// milliseconds so the same structure round-trips through YAML and JSON.
type Config struct {
	// DebounceMs is the inactivity window after which pending edits flush.
	DebounceMs int `json:"debounce_ms" yaml:"debounce_ms"`

	// ReconnectSettleMs delays the flush fired on an offline->online
	// transition so a flapping link does not hammer the remote store.
	ReconnectSettleMs int `json:"reconnect_settle_ms" yaml:"reconnect_settle_ms"`

	// PeriodicFlushMs is the safety-net flush interval. Zero disables it.
	PeriodicFlushMs int `json:"periodic_flush_ms" yaml:"periodic_flush_ms"`

	// MaxPendingAgeMs bounds how long an unsynced edit may sit in the queue
	// before being discarded as abandoned. Zero disables eviction.
	MaxPendingAgeMs int `json:"max_pending_age_ms" yaml:"max_pending_age_ms"`

	// MaxItemRetries evicts a line from the queue after this many failed
	// flush rounds, reporting the failure instead of retrying forever.
	MaxItemRetries int `json:"max_item_retries" yaml:"max_item_retries"`

	// ConflictTimeoutMs resolves an unanswered conflict to the server value.
	ConflictTimeoutMs int `json:"conflict_timeout_ms" yaml:"conflict_timeout_ms"`

	// MaxSnapshots caps the per-entity integrity snapshot history.
	MaxSnapshots int `json:"max_snapshots" yaml:"max_snapshots"`

	Retry   RetryConfig   `json:"retry" yaml:"retry"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
	Batch   BatchConfig   `json:"batch" yaml:"batch"`
}

// RetryConfig tunes the retry engine.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMs int     `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs  int     `json:"max_delay_ms" yaml:"max_delay_ms"`
	Multiplier  float64 `json:"multiplier" yaml:"multiplier"`
	Jitter      float64 `json:"jitter" yaml:"jitter"`
}

// BreakerConfig tunes the per-operation circuit breaker.
type BreakerConfig struct {
	Threshold         int `json:"threshold" yaml:"threshold"`
	RecoveryTimeoutMs int `json:"recovery_timeout_ms" yaml:"recovery_timeout_ms"`
}

// BatchConfig bounds the batch planner.
type BatchConfig struct {
	MinSize  int `json:"min_size" yaml:"min_size"`
	MaxSize  int `json:"max_size" yaml:"max_size"`
	BaseSize int `json:"base_size" yaml:"base_size"`
}

// DefaultConfig returns the engine's default tuning.
func DefaultConfig() Config {
	return Config{
		DebounceMs:        2500,
		ReconnectSettleMs: 500,
		PeriodicFlushMs:   30000,
		MaxPendingAgeMs:   600000,
		MaxItemRetries:    3,
		ConflictTimeoutMs: 30000,
		MaxSnapshots:      10,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 500,
			MaxDelayMs:  10000,
			Multiplier:  2.0,
			Jitter:      0.25,
		},
		Breaker: BreakerConfig{
			Threshold:         5,
			RecoveryTimeoutMs: 60000,
		},
		Batch: BatchConfig{
			MinSize:  5,
			MaxSize:  100,
			BaseSize: 20,
		},
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.DebounceMs <= 0 {
		return fmt.Errorf("debounce_ms must be positive, got %d", c.DebounceMs)
	}
	if c.ReconnectSettleMs < 0 {
		return fmt.Errorf("reconnect_settle_ms must not be negative, got %d", c.ReconnectSettleMs)
	}
	if c.PeriodicFlushMs < 0 {
		return fmt.Errorf("periodic_flush_ms must not be negative, got %d", c.PeriodicFlushMs)
	}
	if c.MaxPendingAgeMs < 0 {
		return fmt.Errorf("max_pending_age_ms must not be negative, got %d", c.MaxPendingAgeMs)
	}
	if c.MaxItemRetries < 0 {
		return fmt.Errorf("max_item_retries must not be negative, got %d", c.MaxItemRetries)
	}
	if c.ConflictTimeoutMs <= 0 {
		return fmt.Errorf("conflict_timeout_ms must be positive, got %d", c.ConflictTimeoutMs)
	}
	if c.MaxSnapshots <= 0 {
		return fmt.Errorf("max_snapshots must be positive, got %d", c.MaxSnapshots)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelayMs <= 0 {
		return fmt.Errorf("retry.base_delay_ms must be positive, got %d", c.Retry.BaseDelayMs)
	}
	if c.Retry.MaxDelayMs < c.Retry.BaseDelayMs {
		return fmt.Errorf("retry.max_delay_ms must be >= base_delay_ms")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %g", c.Retry.Multiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be in [0,1], got %g", c.Retry.Jitter)
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be positive, got %d", c.Breaker.Threshold)
	}
	if c.Breaker.RecoveryTimeoutMs <= 0 {
		return fmt.Errorf("breaker.recovery_timeout_ms must be positive, got %d", c.Breaker.RecoveryTimeoutMs)
	}
	if c.Batch.MinSize <= 0 || c.Batch.MaxSize < c.Batch.MinSize {
		return fmt.Errorf("batch sizes must satisfy 0 < min_size <= max_size")
	}
	if c.Batch.BaseSize < c.Batch.MinSize || c.Batch.BaseSize > c.Batch.MaxSize {
		return fmt.Errorf("batch.base_size must lie within [min_size, max_size]")
	}
	return nil
}

// Debounce returns the debounce window as a duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// ReconnectSettle returns the reconnect settle delay as a duration.
func (c Config) ReconnectSettle() time.Duration {
	return time.Duration(c.ReconnectSettleMs) * time.Millisecond
}

// PeriodicFlush returns the periodic flush interval as a duration.
func (c Config) PeriodicFlush() time.Duration {
	return time.Duration(c.PeriodicFlushMs) * time.Millisecond
}

// MaxPendingAge returns the abandoned-edit eviction age as a duration.
func (c Config) MaxPendingAge() time.Duration {
	return time.Duration(c.MaxPendingAgeMs) * time.Millisecond
}

// ConflictTimeout returns the conflict resolution timeout as a duration.
func (c Config) ConflictTimeout() time.Duration {
	return time.Duration(c.ConflictTimeoutMs) * time.Millisecond
}

func (c Config) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:  c.Retry.Multiplier,
		Jitter:      c.Retry.Jitter,
	}
}

func (c Config) breakerConfig() retry.BreakerConfig {
	return retry.BreakerConfig{
		Threshold:       c.Breaker.Threshold,
		RecoveryTimeout: time.Duration(c.Breaker.RecoveryTimeoutMs) * time.Millisecond,
	}
}

// ConfigValidator validates a configuration before it is applied.
type ConfigValidator interface {
	Validate(cfg *Config) error
	Name() string
}

// ConfigWatcher is notified after a configuration change is applied.
type ConfigWatcher interface {
	OnConfigChanged(oldCfg, newCfg *Config)
	Name() string
}

// ConfigLoader loads engine tuning from YAML or JSON files, validating
// before apply and notifying watchers on change.
type ConfigLoader struct {
	mu         sync.RWMutex
	current    *Config
	validators []ConfigValidator
	watchers   []ConfigWatcher
	logger     *slog.Logger
}

// ConfigLoaderOption configures a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigValidator adds a validator run before each apply.
func WithConfigValidator(v ConfigValidator) ConfigLoaderOption {
	return func(cl *ConfigLoader) {
		cl.validators = append(cl.validators, v)
	}
}

// WithConfigWatcher adds a watcher notified after each apply.
func WithConfigWatcher(w ConfigWatcher) ConfigLoaderOption {
	return func(cl *ConfigLoader) {
		cl.watchers = append(cl.watchers, w)
	}
}

// WithConfigLogger sets the loader's logger.
func WithConfigLogger(logger *slog.Logger) ConfigLoaderOption {
	return func(cl *ConfigLoader) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// NewConfigLoader creates a configuration loader.
func NewConfigLoader(opts ...ConfigLoaderOption) *ConfigLoader {
	cl := &ConfigLoader{logger: slog.Default()}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// LoadFromFile loads configuration from a YAML or JSON file, detecting the
// format from the file extension.
func (cl *ConfigLoader) LoadFromFile(path string) error {
	cl.logger.Debug("loading configuration", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return cl.LoadFromBytes(data, detectFormat(path))
}

// LoadFromBytes loads configuration from raw bytes in the given format
// ("yaml", "yml" or "json").
func (cl *ConfigLoader) LoadFromBytes(data []byte, format string) error {
	cfg := DefaultConfig()

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}

	return cl.apply(&cfg)
}

func (cl *ConfigLoader) apply(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, v := range cl.validators {
		if err := v.Validate(cfg); err != nil {
			cl.logger.Error("configuration validation failed",
				"validator", v.Name(), "error", err)
			return fmt.Errorf("validator %s: %w", v.Name(), err)
		}
	}

	cl.mu.Lock()
	old := cl.current
	cl.current = cfg
	cl.mu.Unlock()

	for _, w := range cl.watchers {
		go func(w ConfigWatcher) {
			defer func() {
				if r := recover(); r != nil {
					cl.logger.Error("config watcher panic",
						"watcher", w.Name(), "panic", r)
				}
			}()
			w.OnConfigChanged(old, cfg)
		}(w)
	}

	cl.logger.Debug("configuration applied")
	return nil
}

// Current returns the most recently applied configuration, or the defaults
// when nothing has been loaded yet.
func (cl *ConfigLoader) Current() Config {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.current == nil {
		return DefaultConfig()
	}
	return *cl.current
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	}
	return ""
}
