// Command syncdemo runs the sync engine against an in-memory remote store,
// exercising debounced flushing, a retryable failure, and a field conflict.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/adjustware/linesync"
	"github.com/adjustware/linesync/batch"
	"github.com/adjustware/linesync/conflict"
	"github.com/adjustware/linesync/errors"
	"github.com/adjustware/linesync/estimate"
	"github.com/adjustware/linesync/logging"
)

// memoryRemote stores lines in memory and simulates one transient outage.
type memoryRemote struct {
	mu       sync.Mutex
	lines    map[string]map[string]interface{}
	failNext int
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{lines: make(map[string]map[string]interface{})}
}

func (m *memoryRemote) BulkExecute(ctx context.Context, req batch.BulkRequest) (*batch.BulkResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return nil, fmt.Errorf("connection refused")
	}

	resp := &batch.BulkResponse{}
	for _, item := range req.Items {
		switch item.Op {
		case batch.OpDelete:
			delete(m.lines, item.Key)
		default:
			current := m.lines[item.Key]
			if current == nil {
				current = make(map[string]interface{})
			}
			for k, v := range item.Fields {
				current[k] = v
			}
			m.lines[item.Key] = current
		}
		resp.Results = append(resp.Results, batch.RemoteItemResult{
			Key:           item.Key,
			Success:       true,
			ServerVersion: time.Now(),
		})
	}
	return resp, nil
}

func (m *memoryRemote) Preflight(ctx context.Context, req batch.PreflightRequest) (*batch.PreflightResponse, error) {
	return &batch.PreflightResponse{Valid: true}, nil
}

// consoleNotifier prints user-facing messages and auto-resolves conflicts by
// keeping the client value, standing in for a real UI.
type consoleNotifier struct{}

func (consoleNotifier) Notify(severity errors.Severity, message string) {
	fmt.Printf("[%s] %s\n", severity, message)
}

func (consoleNotifier) ConflictDetected(record *conflict.Record, respond func(conflict.Resolution) error) {
	fmt.Printf("conflict on %s, fields %v; keeping local changes\n",
		record.EntityID, record.ConflictingFields)
	if err := respond(conflict.Resolution{Outcome: conflict.OutcomeClient}); err != nil {
		fmt.Printf("conflict resolution failed: %v\n", err)
	}
}

func main() {
	logging.Init(logging.GetConfigFromEnv())
	logger := slog.Default()

	remote := newMemoryRemote()
	cfg := linesync.DefaultConfig()
	cfg.DebounceMs = 300 // quick demo turnaround
	cfg.Retry.BaseDelayMs = 100

	engine, err := linesync.NewEngine("estimate-42", remote,
		linesync.WithConfig(cfg),
		linesync.WithLogger(logger),
		linesync.WithNotifier(consoleNotifier{}),
	)
	if err != nil {
		logging.Error("engine construction failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer engine.Close()

	cancel := engine.Subscribe(func(fr linesync.FlushResult) {
		fmt.Printf("flush (%s): %d synced, %d failed, %d conflicts\n",
			fr.Trigger, len(fr.Synced), len(fr.Failed), len(fr.Conflicts))
	})
	defer cancel()

	// A burst of edits collapses into one debounced flush.
	lineA := estimate.NewTempID()
	engine.RecordEdit(lineA, map[string]interface{}{
		"description": "Framing lumber",
		"qty":         12.0,
		"unit_price":  8.5,
	})
	engine.RecordEdit(lineA, map[string]interface{}{"qty": 14.0})
	engine.RecordEdit("line-7", map[string]interface{}{"unit_price": 95.0})

	time.Sleep(time.Second)
	fmt.Printf("after debounce: pending=%d state=%s\n",
		engine.Status().PendingCount, engine.Status().State)

	// A transient outage: the chunked fallback retries through the backoff.
	remote.mu.Lock()
	remote.failNext = 2
	remote.mu.Unlock()
	engine.RecordEdit("line-7", map[string]interface{}{"unit_price": 99.0})
	if _, err := engine.Flush(context.Background()); err != nil {
		fmt.Printf("forced flush failed: %v\n", err)
	}

	m := engine.Metrics()
	fmt.Printf("metrics: synced=%d failed=%d avg=%.1fms\n",
		m.TotalSynced, m.TotalFailed, m.AverageSyncTimeMs)
}
