package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/adjustware/linesync/errors"
	"github.com/adjustware/linesync/estimate"
	"github.com/adjustware/linesync/retry"
)

// Status summarizes a bulk operation as a whole.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// OperationContext correlates one logical bulk call across its chunks and
// retries.
type OperationContext struct {
	OperationID string
	ActorID     string
	AggregateID string
	StartedAt   time.Time
	BatchSize   int
}

// ItemResult attributes success or failure back to one input item.
type ItemResult struct {
	Key     string
	Op      OpType
	Success bool
	Err     error

	ServerFields  map[string]interface{}
	ServerVersion time.Time
}

// Summary aggregates the per-item outcomes of a bulk operation.
type Summary struct {
	Status          Status
	SuccessfulItems int
	FailedItems     int
	ExecutionTime   time.Duration
}

// Result is the normalized outcome of one bulk operation, identical in
// shape whether the atomic or the chunked path executed it.
type Result struct {
	Operation OperationContext
	Summary   Summary
	Items     []ItemResult

	// Totals holds recomputed aggregate totals when totals recomputation ran
	Totals *estimate.Totals
}

// TotalsFunc recomputes derived aggregate totals after a mutation.
type TotalsFunc func(ctx context.Context, aggregateID string) (*estimate.Totals, error)

// Executor runs bulk operations: one atomic remote call when possible, a
// sequential chunked fallback through the retry engine otherwise.
type Executor struct {
	remote  Remote
	planner *Planner
	runner  *retry.Runner
	totals  TotalsFunc
	actorID string
	logger  *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPlanner sets the batch planner.
func WithPlanner(p *Planner) ExecutorOption {
	return func(e *Executor) {
		if p != nil {
			e.planner = p
		}
	}
}

// WithRunner sets the retry runner used on the chunked path.
func WithRunner(r *retry.Runner) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithTotals sets the totals recomputation hook.
func WithTotals(fn TotalsFunc) ExecutorOption {
	return func(e *Executor) { e.totals = fn }
}

// WithActorID records who is performing bulk operations.
func WithActorID(id string) ExecutorOption {
	return func(e *Executor) { e.actorID = id }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an Executor with default planner and retry tuning
// unless overridden.
func NewExecutor(remote Remote, opts ...ExecutorOption) *Executor {
	e := &Executor{
		remote:  remote,
		planner: NewPlanner(DefaultPlannerConfig()),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runner == nil {
		e.runner = retry.NewRunner(retry.DefaultConfig(),
			retry.NewBreakerRegistry(retry.DefaultBreakerConfig()), e.logger)
	}
	return e
}

// Execute runs a mixed list of create/update/delete items for one aggregate.
// Every input item appears in the result exactly once, keyed by its
// correlation key, so successes plus failures always equal the input count.
// A context that is already done aborts before any remote call; cancellation
// mid-run instead surfaces as per-item failures in the result.
func (e *Executor) Execute(ctx context.Context, aggregateID string, items []Item, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opCtx := OperationContext{
		OperationID: uuid.NewString(),
		ActorID:     e.actorID,
		AggregateID: aggregateID,
		StartedAt:   time.Now(),
		BatchSize:   opts.BatchSize,
	}

	result := &Result{Operation: opCtx}
	if len(items) == 0 {
		result.Summary.Status = StatusCompleted
		return result, nil
	}

	op := bulkOp(items)
	e.logger.Info("bulk operation started",
		"operation_id", opCtx.OperationID,
		"aggregate_id", aggregateID,
		"operation", op,
		"item_count", len(items))

	itemResults, atomicErr := e.tryAtomic(ctx, opCtx, items, opts, op)
	if atomicErr != nil {
		e.logger.Warn("atomic bulk call unavailable, falling back to chunked execution",
			"operation_id", opCtx.OperationID,
			"error", atomicErr)
		itemResults = e.executeChunked(ctx, opCtx, items, opts, op)
	}
	result.Items = itemResults

	for _, ir := range itemResults {
		if ir.Success {
			result.Summary.SuccessfulItems++
		} else {
			result.Summary.FailedItems++
		}
	}
	switch {
	case result.Summary.FailedItems == 0:
		result.Summary.Status = StatusCompleted
	case result.Summary.SuccessfulItems == 0:
		result.Summary.Status = StatusFailed
	default:
		result.Summary.Status = StatusPartial
	}

	if result.Summary.SuccessfulItems > 0 && !opts.DisableTotals && e.totals != nil {
		totals, err := e.totals(ctx, aggregateID)
		if err != nil {
			// Totals are derived data; a recomputation failure must not
			// invalidate item results that already succeeded.
			e.logger.Warn("totals recomputation failed",
				"operation_id", opCtx.OperationID,
				"aggregate_id", aggregateID,
				"error", err)
		} else {
			result.Totals = totals
		}
	}

	result.Summary.ExecutionTime = time.Since(opCtx.StartedAt)
	e.logger.Info("bulk operation finished",
		"operation_id", opCtx.OperationID,
		"status", result.Summary.Status,
		"successful", result.Summary.SuccessfulItems,
		"failed", result.Summary.FailedItems,
		"duration", result.Summary.ExecutionTime)
	return result, nil
}

// tryAtomic attempts the whole batch as a single transactional remote call.
func (e *Executor) tryAtomic(ctx context.Context, opCtx OperationContext, items []Item, opts Options, op syncErrors.Operation) ([]ItemResult, error) {
	resp, err := e.remote.BulkExecute(ctx, BulkRequest{
		OperationID: opCtx.OperationID,
		AggregateID: opCtx.AggregateID,
		Items:       items,
		Options:     opts,
		Atomic:      true,
	})
	if err != nil {
		return nil, err
	}
	return e.normalize(items, resp, op), nil
}

// executeChunked explodes mixed items by operation type, chunks each group
// per the planner, and runs chunks sequentially through the retry engine.
func (e *Executor) executeChunked(ctx context.Context, opCtx OperationContext, items []Item, opts Options, op syncErrors.Operation) []ItemResult {
	byKey := make(map[string]ItemResult, len(items))

	aborted := false
	var abortErr error
	for _, group := range explodeByType(items) {
		size := opts.BatchSize
		if size <= 0 {
			size = e.planner.BatchSize(len(group.items), group.complexity(opts), opts.Load)
		}

		for start := 0; start < len(group.items); start += size {
			end := min(start+size, len(group.items))
			chunk := group.items[start:end]

			if aborted {
				e.failChunk(byKey, chunk, abortErr, op)
				continue
			}
			select {
			case <-ctx.Done():
				aborted = true
				abortErr = ctx.Err()
				e.failChunk(byKey, chunk, abortErr, op)
				continue
			default:
			}

			chunkFailed := e.runChunk(ctx, opCtx, chunk, opts, group.op, op, byKey)
			if chunkFailed && opts.FailOnFirstError {
				aborted = true
				abortErr = fmt.Errorf("aborted after earlier failure")
			}
		}
	}

	// Reassemble in input order so callers can line results up with items.
	out := make([]ItemResult, 0, len(items))
	for _, item := range items {
		out = append(out, byKey[item.Key])
	}
	return out
}

// runChunk executes one chunk through the retry engine and records per-item
// outcomes. Returns true when any item in the chunk failed.
func (e *Executor) runChunk(ctx context.Context, opCtx OperationContext, chunk []Item, opts Options, opType OpType, op syncErrors.Operation, byKey map[string]ItemResult) bool {
	var resp *BulkResponse
	key := "bulk_" + string(opType)
	errCtx := syncErrors.Context{Op: op, Component: "remote", EntityID: opCtx.AggregateID}

	err := e.runner.Do(ctx, key, errCtx, func(ctx context.Context) error {
		r, callErr := e.remote.BulkExecute(ctx, BulkRequest{
			OperationID: opCtx.OperationID,
			AggregateID: opCtx.AggregateID,
			Items:       chunk,
			Options:     opts,
		})
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		e.failChunk(byKey, chunk, err, op)
		return true
	}

	failed := false
	for _, ir := range e.normalize(chunk, resp, op) {
		byKey[ir.Key] = ir
		if !ir.Success {
			failed = true
		}
	}
	return failed
}

func (e *Executor) failChunk(byKey map[string]ItemResult, chunk []Item, cause error, op syncErrors.Operation) {
	for _, item := range chunk {
		byKey[item.Key] = ItemResult{
			Key:     item.Key,
			Op:      item.Op,
			Success: false,
			Err: syncErrors.Classify(cause, syncErrors.Context{
				Op:       op,
				EntityID: item.Key,
				TempID:   estimate.IsTempID(item.Key),
			}),
		}
	}
}

// normalize turns a remote response into per-item results, attributing an
// outcome to every input item even when the remote omitted some.
func (e *Executor) normalize(items []Item, resp *BulkResponse, op syncErrors.Operation) []ItemResult {
	remote := make(map[string]RemoteItemResult, len(resp.Results))
	for _, rr := range resp.Results {
		remote[rr.Key] = rr
	}

	out := make([]ItemResult, 0, len(items))
	for _, item := range items {
		rr, ok := remote[item.Key]
		if !ok {
			out = append(out, ItemResult{
				Key: item.Key,
				Op:  item.Op,
				Err: syncErrors.Classify(
					fmt.Errorf("remote returned no result for item"),
					syncErrors.Context{Op: op, EntityID: item.Key, TempID: estimate.IsTempID(item.Key)},
				),
			})
			continue
		}

		ir := ItemResult{
			Key:           item.Key,
			Op:            item.Op,
			Success:       rr.Success,
			ServerFields:  rr.ServerFields,
			ServerVersion: rr.ServerVersion,
		}
		if !rr.Success {
			ir.Err = syncErrors.Classify(fmt.Errorf("%s", rr.Error), syncErrors.Context{
				Op:         op,
				EntityID:   item.Key,
				TempID:     estimate.IsTempID(item.Key),
				StatusCode: rr.StatusCode,
			})
		}
		out = append(out, ir)
	}
	return out
}

type typedGroup struct {
	op    OpType
	items []Item
}

func (g typedGroup) complexity(opts Options) Complexity {
	if g.op == OpDelete {
		return ComplexityDelete
	}
	if opts.Complexity != "" {
		return opts.Complexity
	}
	return ComplexityModerate
}

// explodeByType splits mixed items into create/update/delete groups while
// preserving relative order within each group.
func explodeByType(items []Item) []typedGroup {
	order := []OpType{OpCreate, OpUpdate, OpDelete}
	grouped := make(map[OpType][]Item)
	for _, item := range items {
		grouped[item.Op] = append(grouped[item.Op], item)
	}

	var out []typedGroup
	for _, op := range order {
		if len(grouped[op]) > 0 {
			out = append(out, typedGroup{op: op, items: grouped[op]})
		}
	}
	return out
}

func bulkOp(items []Item) syncErrors.Operation {
	first := items[0].Op
	for _, item := range items[1:] {
		if item.Op != first {
			return syncErrors.OpBulkMixed
		}
	}
	switch first {
	case OpCreate:
		return syncErrors.OpBulkCreate
	case OpUpdate:
		return syncErrors.OpBulkUpdate
	case OpDelete:
		return syncErrors.OpBulkDelete
	}
	return syncErrors.OpBulkMixed
}
