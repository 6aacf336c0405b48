package logging

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/adjustware/linesync/errors"
)

func TestLogger(t *testing.T) {
	// Test different environments
	configs := []Config{
		{Level: "debug", Format: "text", Environment: EnvDevelopment, AddSource: true},
		{Level: "info", Format: "json", Environment: EnvProduction, AddSource: false},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			logger := NewLogger(config)

			// Test basic logging
			logger.Debug("Debug message", slog.String("key", "value"))
			logger.Info("Info message", slog.Int("count", 42))
			logger.Warn("Warning message", slog.Bool("enabled", true))

			// Test error logging
			testErr := errors.New(errors.OpFlush, fmt.Errorf("remote unavailable"))
			logger.LogError(context.Background(), testErr, "Operation failed")

			// Test child loggers
			childLogger := logger.WithComponent(Component("scheduler"))
			childLogger.Info("Child logger message")

			aggLogger := logger.WithAggregate("est-1")
			aggLogger.Info("Aggregate-scoped message")

			// Test operation logging
			err := logger.LogOperation(
				context.Background(),
				Operation("flush"),
				Component("scheduler"),
				func() error {
					time.Sleep(10 * time.Millisecond)
					return nil
				},
			)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestLogOperationPropagatesError(t *testing.T) {
	logger := NewLogger(Config{Level: "error", Format: "text", Environment: EnvTest})

	wantErr := fmt.Errorf("bulk call failed")
	err := logger.LogOperation(context.Background(), Operation("bulk_update"), Component("executor"), func() error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("LogOperation error = %v, want %v", err, wantErr)
	}
}

func TestSyncErrorValuer(t *testing.T) {
	syncErr := errors.NewNetworkError(errors.OpBulkCreate, fmt.Errorf("connection reset")).
		WithMetadata("entity_id", "line-1")

	value := SyncErrorValuer{SyncError: syncErr}.LogValue()
	if value.Kind() != slog.KindGroup {
		t.Fatalf("LogValue kind = %v, want group", value.Kind())
	}

	attrs := value.Group()
	found := map[string]bool{}
	for _, attr := range attrs {
		found[attr.Key] = true
	}
	for _, key := range []string{"operation", "kind", "severity", "retryable", "error", "metadata"} {
		if !found[key] {
			t.Errorf("LogValue missing %q attribute", key)
		}
	}
}

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("ENVIRONMENT", "production")

	config := GetConfigFromEnv()
	if config.Level != "warn" {
		t.Errorf("Level = %s, want warn", config.Level)
	}
	if config.Format != "json" {
		t.Errorf("Format = %s, want json", config.Format)
	}
	if config.AddSource {
		t.Error("AddSource should be disabled in production")
	}
}
