// Package linesync keeps client-held edits to an estimate's lines
// consistent with a remote store. An Engine owns a pending-change queue and
// decides when to flush it: after an inactivity window, on reconnect, on a
// periodic safety net, or on explicit request. Flushes run through the batch
// executor, with conflict resolution and integrity checking applied to the
// per-item outcomes.
package linesync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adjustware/linesync/batch"
	"github.com/adjustware/linesync/conflict"
	syncErrors "github.com/adjustware/linesync/errors"
	"github.com/adjustware/linesync/estimate"
	"github.com/adjustware/linesync/integrity"
	"github.com/adjustware/linesync/retry"
)

// State is the engine's observable scheduling state.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateSyncing State = "syncing"
	StateOffline State = "offline"
	StateClosed  State = "closed"
)

// EngineStatus is the derived status surface read by observers. Observers
// never mutate engine state directly.
type EngineStatus struct {
	State               State
	PendingCount        int
	CurrentlySyncingIDs []string
}

// FailedItem reports a line evicted from the queue with a permanent failure.
type FailedItem struct {
	LineID string
	Err    error
}

// FlushResult is delivered to subscribers after every flush.
type FlushResult struct {
	Trigger   string
	Result    *batch.Result
	Synced    []string
	Failed    []FailedItem
	Retained  []string
	Conflicts []*conflict.Record
	Evicted   []string
}

// Notifier is the sink for user-facing messages and conflict prompts. The
// conflict callback carries a respond function; calling it resolves the
// record, and letting the resolution timer lapse resolves to the server.
type Notifier interface {
	Notify(severity syncErrors.Severity, message string)
	ConflictDetected(record *conflict.Record, respond func(conflict.Resolution) error)
}

// ReachabilityMonitor reports network reachability. Subscribe returns a
// cancel function; the callback fires on every transition.
type ReachabilityMonitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine is closed")

	// ErrFlushInFlight is returned when a forced flush is requested while
	// another flush is still running.
	ErrFlushInFlight = errors.New("a flush is already in flight")

	// ErrOffline is returned when a forced flush is requested while the
	// network is unreachable.
	ErrOffline = errors.New("network is unreachable")
)

// Engine synchronizes one estimate aggregate's line edits with the remote
// store. All shared mutable state (pending queue, breaker map, snapshot
// history) is owned by the engine; there are no package-level globals.
type Engine struct {
	aggregateID string
	cfg         Config

	executor  *batch.Executor
	validator *integrity.Validator
	resolver  *conflict.Resolver
	notifier  Notifier
	metrics   MetricsCollector
	logger    *slog.Logger
	totals    batch.TotalsFunc

	mu          sync.Mutex
	queue       *syncQueue
	debounce    *time.Timer
	settle      *time.Timer
	online      bool
	inFlight    bool
	syncingIDs  []string
	closed      bool
	subscribers map[int]func(FlushResult)
	nextSubID   int

	periodicStop chan struct{}

	stats          engineStats
	unsubscribeNet func()
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConfig replaces the default tuning.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNotifier sets the user-facing notification sink.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc MetricsCollector) EngineOption {
	return func(e *Engine) {
		if mc != nil {
			e.metrics = mc
		}
	}
}

// WithTotalsFunc sets the totals recomputation hook invoked after batches
// with at least one success.
func WithTotalsFunc(fn batch.TotalsFunc) EngineOption {
	return func(e *Engine) { e.totals = fn }
}

// WithReachability wires a reachability monitor. The engine takes the
// monitor's current state at construction and follows its transitions.
func WithReachability(m ReachabilityMonitor) EngineOption {
	return func(e *Engine) {
		if m == nil {
			return
		}
		e.online = m.Online()
		e.unsubscribeNet = m.Subscribe(e.SetOnline)
	}
}

// NewEngine creates an Engine for one aggregate. The remote store is the
// only required collaborator.
func NewEngine(aggregateID string, remote batch.Remote, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		aggregateID: aggregateID,
		cfg:         DefaultConfig(),
		queue:       newSyncQueue(),
		online:      true,
		metrics:     &NoOpMetricsCollector{},
		logger:      slog.Default(),
		subscribers: make(map[int]func(FlushResult)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	planner := batch.NewPlanner(batch.PlannerConfig{
		MinBatchSize:  e.cfg.Batch.MinSize,
		MaxBatchSize:  e.cfg.Batch.MaxSize,
		BaseBatchSize: e.cfg.Batch.BaseSize,
	})
	runner := retry.NewRunner(e.cfg.retryConfig(),
		retry.NewBreakerRegistry(e.cfg.breakerConfig()), e.logger)

	execOpts := []batch.ExecutorOption{
		batch.WithPlanner(planner),
		batch.WithRunner(runner),
		batch.WithExecutorLogger(e.logger),
	}
	if e.totals != nil {
		execOpts = append(execOpts, batch.WithTotals(e.totals))
	}
	e.executor = batch.NewExecutor(remote, execOpts...)

	e.validator = integrity.NewValidator(
		integrity.WithMaxSnapshots(e.cfg.MaxSnapshots),
		integrity.WithLogger(e.logger),
	)
	e.resolver = conflict.NewResolver(
		conflict.WithTimeout(e.cfg.ConflictTimeout()),
		conflict.WithResolverLogger(e.logger),
		conflict.OnEscalated(e.onConflictEscalated),
		conflict.OnResolved(e.onConflictResolved),
	)
	return e, nil
}

// RecordEdit registers changed fields for a line and re-arms the debounce
// timer. Lines carrying a temporary id are submitted as creates.
func (e *Engine) RecordEdit(lineID string, fields map[string]interface{}) error {
	op := batch.OpUpdate
	if estimate.IsTempID(lineID) {
		op = batch.OpCreate
	}
	return e.enqueue(lineID, op, fields)
}

// RecordDelete registers a line for deletion, superseding any pending edit.
func (e *Engine) RecordDelete(lineID string) error {
	return e.enqueue(lineID, batch.OpDelete, nil)
}

func (e *Engine) enqueue(lineID string, op batch.OpType, fields map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return syncErrors.NewWithComponent(syncErrors.OpFlush, "engine", ErrClosed)
	}
	e.queue.Upsert(lineID, op, fields)
	if e.online && !e.inFlight {
		e.armDebounceLocked()
	}
	return nil
}

// Flush forces an immediate flush, bypassing the debounce window. A flush
// already in flight is reported as an error rather than queued behind.
func (e *Engine) Flush(ctx context.Context) (*FlushResult, error) {
	return e.flush(ctx, "forced")
}

// SetOnline records a reachability transition. Going offline pauses
// scheduling without clearing the queue; coming online schedules a flush
// after a short settle delay.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.online == online {
		return
	}
	e.online = online
	if !online {
		e.stopDebounceLocked()
		e.stopSettleLocked()
		e.logger.Info("network unreachable, sync paused",
			"aggregate_id", e.aggregateID,
			"pending", e.queue.Len())
		return
	}

	e.logger.Info("network reachable, scheduling reconnect flush",
		"aggregate_id", e.aggregateID,
		"settle", e.cfg.ReconnectSettle())
	e.stopSettleLocked()
	e.settle = time.AfterFunc(e.cfg.ReconnectSettle(), func() {
		e.backgroundFlush("reconnect")
	})
}

// StartPeriodicFlush starts the safety-net flush loop. It also evicts queue
// entries older than the configured maximum age on every tick.
func (e *Engine) StartPeriodicFlush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return syncErrors.NewWithComponent(syncErrors.OpFlush, "engine", ErrClosed)
	}
	if e.periodicStop != nil {
		return nil
	}
	if e.cfg.PeriodicFlushMs <= 0 {
		return nil
	}

	stop := make(chan struct{})
	e.periodicStop = stop
	interval := e.cfg.PeriodicFlush()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.backgroundFlush("periodic")
			}
		}
	}()
	return nil
}

// StopPeriodicFlush stops the safety-net flush loop.
func (e *Engine) StopPeriodicFlush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopPeriodicLocked()
}

func (e *Engine) stopPeriodicLocked() {
	if e.periodicStop != nil {
		close(e.periodicStop)
		e.periodicStop = nil
	}
}

// Subscribe registers an observer called after every flush. The returned
// function cancels the subscription.
func (e *Engine) Subscribe(fn func(FlushResult)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subscribers, id)
	}
}

// Status returns the engine's derived scheduling state.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := StateIdle
	switch {
	case e.closed:
		state = StateClosed
	case e.inFlight:
		state = StateSyncing
	case !e.online:
		state = StateOffline
	case e.queue.Len() > 0:
		state = StatePending
	}

	ids := make([]string, len(e.syncingIDs))
	copy(ids, e.syncingIDs)
	return EngineStatus{
		State:               state,
		PendingCount:        e.queue.Len(),
		CurrentlySyncingIDs: ids,
	}
}

// Pending returns the ids of lines with unsynced edits, in edit order.
func (e *Engine) Pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.IDs()
}

// Conflicts returns the conflict records awaiting resolution.
func (e *Engine) Conflicts() []*conflict.Record {
	return e.resolver.Pending()
}

// ResolveConflict applies an explicit decision to an outstanding conflict.
func (e *Engine) ResolveConflict(recordID string, res conflict.Resolution) error {
	_, err := e.resolver.Resolve(recordID, res)
	return err
}

// CancelAllConflicts resolves every outstanding conflict to the server value
// and returns how many were cancelled.
func (e *Engine) CancelAllConflicts() int {
	return e.resolver.CancelAll()
}

// Metrics returns the engine's cumulative activity counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.stats.snapshot()
}

// Close shuts the engine down. Pending edits are not flushed; callers
// wanting a final flush call Flush first. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopDebounceLocked()
	e.stopSettleLocked()
	e.stopPeriodicLocked()
	unsub := e.unsubscribeNet
	e.unsubscribeNet = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	e.resolver.Close()
	e.logger.Info("engine closed", "aggregate_id", e.aggregateID)
	return nil
}

// backgroundFlush runs a timer-triggered flush; scheduling-state errors are
// expected there and only logged.
func (e *Engine) backgroundFlush(trigger string) {
	if _, err := e.flush(context.Background(), trigger); err != nil {
		e.logger.Debug("scheduled flush skipped",
			"aggregate_id", e.aggregateID,
			"trigger", trigger,
			"reason", err)
	}
}

func (e *Engine) flush(ctx context.Context, trigger string) (*FlushResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, syncErrors.NewWithComponent(syncErrors.OpFlush, "engine", ErrClosed)
	}
	if e.inFlight {
		e.mu.Unlock()
		return nil, syncErrors.New(syncErrors.OpFlush, ErrFlushInFlight)
	}
	if !e.online {
		e.mu.Unlock()
		return nil, syncErrors.NewNetworkError(syncErrors.OpFlush, ErrOffline)
	}

	fr := &FlushResult{Trigger: trigger}
	if e.cfg.MaxPendingAgeMs > 0 {
		for _, entry := range e.queue.EvictOlderThan(e.cfg.MaxPendingAge()) {
			fr.Evicted = append(fr.Evicted, entry.LineID)
		}
	}
	if e.queue.Len() == 0 {
		e.mu.Unlock()
		if len(fr.Evicted) > 0 {
			e.notifySubscribers(*fr)
		}
		return fr, nil
	}

	e.stopDebounceLocked()
	e.inFlight = true
	items := e.queue.Items()
	e.syncingIDs = e.queue.IDs()
	revs := e.queue.Revisions()
	e.mu.Unlock()

	e.logger.Info("flush started",
		"aggregate_id", e.aggregateID,
		"trigger", trigger,
		"items", len(items))

	start := time.Now()
	result, err := e.executor.Execute(ctx, e.aggregateID, items, batch.Options{
		Load:          batch.LoadNormal,
		DisableTotals: e.totals == nil,
	})
	took := time.Since(start)

	if err != nil {
		e.mu.Lock()
		e.inFlight = false
		e.syncingIDs = nil
		if e.queue.Len() > 0 && e.online {
			e.armDebounceLocked()
		}
		e.mu.Unlock()

		classified := syncErrors.Classify(err, syncErrors.Context{
			Op:       syncErrors.OpFlush,
			EntityID: e.aggregateID,
		})
		e.metrics.RecordError(string(syncErrors.OpFlush), string(syncErrors.KindOf(classified)))
		return nil, classified
	}

	fr.Result = result
	submitted := make(map[string]map[string]interface{}, len(items))
	for _, item := range items {
		submitted[item.Key] = item.Fields
	}

	// Queue bookkeeping happens under the lock; conflict submission and
	// snapshot recording run after release since those components lock
	// themselves and may call back into the engine.
	var conflictChecks []batch.ItemResult
	e.mu.Lock()
	for _, ir := range result.Items {
		if ir.Success {
			fr.Synced = append(fr.Synced, ir.Key)
			if entry, ok := e.queue.Get(ir.Key); ok && entry.Revision != revs[ir.Key] {
				// The line was edited again while this flush was in
				// flight. The newer pending entry stays queued, and the
				// local state has moved past the server response, so no
				// conflict check either.
				continue
			}
			e.queue.Remove(ir.Key)
			if len(ir.ServerFields) > 0 {
				conflictChecks = append(conflictChecks, ir)
			}
			continue
		}

		entry, ok := e.queue.Get(ir.Key)
		if !ok {
			continue
		}
		if entry.Revision != revs[ir.Key] {
			fr.Retained = append(fr.Retained, ir.Key)
			continue
		}
		if errors.Is(ir.Err, context.Canceled) {
			// A cancelled flush is not a verdict on the change itself;
			// keep it queued without burning a retry.
			fr.Retained = append(fr.Retained, ir.Key)
			continue
		}
		entry.RetryCount++
		permanent := !syncErrors.IsRetryable(ir.Err) ||
			entry.RetryCount >= e.cfg.MaxItemRetries
		if permanent {
			e.queue.Remove(ir.Key)
			fr.Failed = append(fr.Failed, FailedItem{LineID: ir.Key, Err: ir.Err})
		} else {
			fr.Retained = append(fr.Retained, ir.Key)
		}
	}
	e.inFlight = false
	e.syncingIDs = nil
	if e.queue.Len() > 0 && e.online {
		e.armDebounceLocked()
	}
	e.mu.Unlock()

	// Conflict detection must see the pre-flush snapshot as its merge base,
	// so it runs before new snapshots are recorded.
	now := time.Now()
	for _, ir := range conflictChecks {
		if rec := e.checkForConflict(ir, submitted[ir.Key], now); rec != nil {
			fr.Conflicts = append(fr.Conflicts, rec)
		}
	}

	for _, ir := range result.Items {
		if !ir.Success || ir.Op == batch.OpDelete {
			if ir.Success {
				e.validator.Forget(ir.Key)
			}
			continue
		}
		version := now.UnixMilli()
		if !ir.ServerVersion.IsZero() {
			version = ir.ServerVersion.UnixMilli()
		}
		data := ir.ServerFields
		if data == nil {
			data = submitted[ir.Key]
		}
		if data == nil {
			continue
		}
		if _, recErr := e.validator.Record(ir.Key, data, version); recErr != nil {
			e.logger.Warn("snapshot recording failed",
				"line_id", ir.Key, "error", recErr)
		}
	}

	for _, failed := range fr.Failed {
		e.notifyUser(syncErrors.SeverityOf(failed.Err),
			"Changes to a line could not be saved and were discarded.")
	}

	e.stats.recordFlush(len(fr.Synced), len(fr.Failed), took, now)
	e.metrics.RecordFlushDuration(trigger, took)
	e.metrics.RecordItems(len(fr.Synced), len(fr.Failed))
	if len(fr.Conflicts) > 0 {
		e.metrics.RecordConflicts(len(fr.Conflicts))
	}

	e.logger.Info("flush finished",
		"aggregate_id", e.aggregateID,
		"trigger", trigger,
		"synced", len(fr.Synced),
		"failed", len(fr.Failed),
		"retained", len(fr.Retained),
		"duration", took)

	e.notifySubscribers(*fr)
	return fr, nil
}

// checkForConflict runs detection when the server reported state diverging
// from what the client submitted. The last known-good snapshot serves as the
// merge base when one exists.
func (e *Engine) checkForConflict(ir batch.ItemResult, sent map[string]interface{}, now time.Time) *conflict.Record {
	if sent == nil {
		return nil
	}
	var base map[string]interface{}
	if snap, ok := e.validator.LastKnownGood(ir.Key); ok {
		base = snap.Data
	}

	serverTime := ir.ServerVersion
	if serverTime.IsZero() {
		serverTime = now
	}
	merged, record, err := e.resolver.Submit(ir.Key, ir.ServerFields, sent, base, serverTime, now)
	if err != nil {
		e.logger.Warn("conflict submission failed", "line_id", ir.Key, "error", err)
		return nil
	}
	if record != nil {
		// Escalated; the OnEscalated hook already notified the user.
		return record
	}
	if merged != nil && !sameFields(merged, ir.ServerFields) {
		// Auto-merge kept client-side changes the server has not seen yet;
		// resubmit them.
		if err := e.RecordEdit(ir.Key, merged); err != nil {
			e.logger.Warn("merged changes could not be re-enqueued",
				"line_id", ir.Key, "error", err)
		}
	}
	return nil
}

func (e *Engine) onConflictEscalated(record *conflict.Record) {
	if e.notifier == nil {
		return
	}
	respond := func(res conflict.Resolution) error {
		return e.ResolveConflict(record.ID, res)
	}
	e.notifier.ConflictDetected(record, respond)
}

// onConflictResolved applies a resolution outcome: client or merged wins are
// resubmitted as edits; server wins and cancellations adopt the server state.
func (e *Engine) onConflictResolved(record conflict.Record, res conflict.Resolution, data map[string]interface{}) {
	switch res.Outcome {
	case conflict.OutcomeClient, conflict.OutcomeMerged:
		if err := e.RecordEdit(record.EntityID, data); err != nil {
			e.logger.Warn("resolved conflict could not be re-enqueued",
				"line_id", record.EntityID, "error", err)
		}
	default:
		if data != nil {
			if _, err := e.validator.Record(record.EntityID, data, time.Now().UnixMilli()); err != nil {
				e.logger.Warn("snapshot recording failed",
					"line_id", record.EntityID, "error", err)
			}
		}
	}
}

func (e *Engine) notifyUser(severity syncErrors.Severity, message string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(severity, message)
}

// notifySubscribers delivers asynchronously; a panicking subscriber must not
// take the engine down.
func (e *Engine) notifySubscribers(fr FlushResult) {
	e.mu.Lock()
	fns := make([]func(FlushResult), 0, len(e.subscribers))
	for _, fn := range e.subscribers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		go func(fn func(FlushResult)) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("flush subscriber panic", "panic", r)
				}
			}()
			fn(fr)
		}(fn)
	}
}

func (e *Engine) armDebounceLocked() {
	e.stopDebounceLocked()
	e.debounce = time.AfterFunc(e.cfg.Debounce(), func() {
		e.backgroundFlush("debounce")
	})
}

func (e *Engine) stopDebounceLocked() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
}

func (e *Engine) stopSettleLocked() {
	if e.settle != nil {
		e.settle.Stop()
		e.settle = nil
	}
}

func sameFields(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	return len(conflict.Fields(a, b, nil)) == 0
}
