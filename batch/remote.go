package batch

import (
	"context"
	"errors"
	"time"
)

// ErrAtomicUnsupported is returned by remotes that cannot execute a whole
// batch in one transactional call; the executor then falls back to chunking.
var ErrAtomicUnsupported = errors.New("atomic bulk execution unsupported")

// OpType is the kind of mutation a bulk item requests.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Item is one mutation in a bulk operation. Key is the caller's correlation
// key (the line's durable or temporary identifier) and is preserved across
// chunk boundaries and retries.
type Item struct {
	Key     string
	Op      OpType
	Fields  map[string]interface{}
	Version int64
}

// Options mirror the remote write surface's per-call options.
type Options struct {
	BatchSize             int
	FailOnFirstError      bool
	ValidateBusinessRules bool
	DisableTotals         bool
	TransactionIsolation  string

	// Complexity and Load feed the batch planner when chunking; both are
	// caller-supplied classifications.
	Complexity Complexity
	Load       Load
}

// BulkRequest is one remote write call, atomic or chunked.
type BulkRequest struct {
	OperationID string
	AggregateID string
	Items       []Item
	Options     Options

	// Atomic requests all-or-partial execution in a single round trip
	Atomic bool
}

// RemoteItemResult is the remote store's per-item outcome.
type RemoteItemResult struct {
	Key        string
	Success    bool
	Error      string
	StatusCode int

	// ServerFields and ServerVersion carry the server's current state when
	// it diverged from what the client sent, enabling conflict detection.
	ServerFields  map[string]interface{}
	ServerVersion time.Time
}

// BulkResponse is the remote store's reply to a BulkRequest.
type BulkResponse struct {
	Results []RemoteItemResult
}

// PreflightRequest asks the remote store to validate a prospective bulk
// operation before any mutation is attempted.
type PreflightRequest struct {
	AggregateID   string
	OperationType OpType
	ItemCount     int
}

// PreflightResponse carries the remote side of a pre-flight check.
type PreflightResponse struct {
	Valid      bool
	Violations []string
	Warnings   []string
}

// Remote is the write surface of the remote store consumed by the executor.
type Remote interface {
	// BulkExecute performs a batched mutation. Remotes without transactional
	// batch support return ErrAtomicUnsupported for atomic requests.
	BulkExecute(ctx context.Context, req BulkRequest) (*BulkResponse, error)

	// Preflight validates a prospective operation without mutating anything.
	Preflight(ctx context.Context, req PreflightRequest) (*PreflightResponse, error)
}
