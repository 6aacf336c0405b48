package linesync

import (
	"sync"
	"time"
)

// MetricsCollector provides hooks for collecting sync operation metrics
type MetricsCollector interface {
	// RecordFlushDuration records how long one flush took
	RecordFlushDuration(trigger string, duration time.Duration)

	// RecordItems records per-flush item outcomes
	RecordItems(synced, failed int)

	// RecordError records a flush error by taxonomy kind
	RecordError(operation string, kind string)

	// RecordConflicts records the number of conflicts detected
	RecordConflicts(detected int)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordFlushDuration(trigger string, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordItems(synced, failed int)                             {}
func (n *NoOpMetricsCollector) RecordError(operation string, kind string)                  {}
func (n *NoOpMetricsCollector) RecordConflicts(detected int)                               {}

// MetricsSnapshot is the engine's cumulative view of its own activity.
type MetricsSnapshot struct {
	TotalSynced       int64
	TotalFailed       int64
	AverageSyncTimeMs float64
	LastSyncAttempt   time.Time
}

// engineStats accumulates the numbers behind MetricsSnapshot.
type engineStats struct {
	mu              sync.Mutex
	totalSynced     int64
	totalFailed     int64
	flushCount      int64
	totalFlushTime  time.Duration
	lastSyncAttempt time.Time
}

func (s *engineStats) recordFlush(synced, failed int, took time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSynced += int64(synced)
	s.totalFailed += int64(failed)
	s.flushCount++
	s.totalFlushTime += took
	s.lastSyncAttempt = at
}

func (s *engineStats) snapshot() MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := MetricsSnapshot{
		TotalSynced:     s.totalSynced,
		TotalFailed:     s.totalFailed,
		LastSyncAttempt: s.lastSyncAttempt,
	}
	if s.flushCount > 0 {
		snap.AverageSyncTimeMs = float64(s.totalFlushTime.Milliseconds()) / float64(s.flushCount)
	}
	return snap
}
