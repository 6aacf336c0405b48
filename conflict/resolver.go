package conflict

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/adjustware/linesync/errors"
)

// Outcome is the decision applied to a conflict record.
type Outcome string

const (
	OutcomeServer    Outcome = "server"
	OutcomeClient    Outcome = "client"
	OutcomeMerged    Outcome = "merged"
	OutcomeCancelled Outcome = "cancelled"
)

// Record captures a conflict awaiting resolution.
type Record struct {
	ID                string
	EntityID          string
	ServerVersion     map[string]interface{}
	ClientVersion     map[string]interface{}
	BaseVersion       map[string]interface{}
	ConflictingFields []string
	ServerTimestamp   time.Time
	ClientTimestamp   time.Time
	CreatedAt         time.Time
}

// Resolution is an explicit decision for a conflict record. Data is required
// for (and only used by) the merged outcome.
type Resolution struct {
	Outcome Outcome
	Data    map[string]interface{}
}

type pendingRecord struct {
	record *Record
	timer  *time.Timer
}

// Resolver owns the set of outstanding conflict records. When a conflict
// cannot be auto-merged it escalates through the configured callback and
// arms a timer that resolves to the server version if no explicit choice
// arrives first.
type Resolver struct {
	mu      sync.Mutex
	pending map[string]*pendingRecord
	timeout time.Duration
	logger  *slog.Logger

	onEscalated func(*Record)
	onResolved  func(Record, Resolution, map[string]interface{})
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTimeout sets the automatic resolution timeout.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithResolverLogger sets the resolver's logger.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// OnEscalated registers the "resolution requested" sink, decoupling the
// resolver from any particular UI. The callback runs outside the resolver
// lock.
func OnEscalated(fn func(*Record)) ResolverOption {
	return func(r *Resolver) { r.onEscalated = fn }
}

// OnResolved registers a callback invoked with the final outcome and the
// winning data whenever a record is resolved, explicitly or by timeout.
func OnResolved(fn func(Record, Resolution, map[string]interface{})) ResolverOption {
	return func(r *Resolver) { r.onResolved = fn }
}

// NewResolver creates a Resolver with a 30 second resolution timeout.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		pending: make(map[string]*pendingRecord),
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit runs conflict detection and auto-merge for an entity. When every
// difference merges cleanly the merged object is returned and no record is
// created. Otherwise a Record is registered, the escalation callback fires,
// the resolution timer is armed, and the record is returned.
func (r *Resolver) Submit(entityID string, server, client, base map[string]interface{}, serverTime, clientTime time.Time) (map[string]interface{}, *Record, error) {
	merged, conflicting, ok := AutoMerge(server, client, base)
	if ok {
		r.logger.Debug("auto-merge succeeded",
			"entity_id", entityID,
			"fields", len(merged))
		return merged, nil, nil
	}

	record := &Record{
		ID:                uuid.NewString(),
		EntityID:          entityID,
		ServerVersion:     server,
		ClientVersion:     client,
		BaseVersion:       base,
		ConflictingFields: conflicting,
		ServerTimestamp:   serverTime,
		ClientTimestamp:   clientTime,
		CreatedAt:         time.Now(),
	}

	r.mu.Lock()
	pr := &pendingRecord{record: record}
	pr.timer = time.AfterFunc(r.timeout, func() {
		r.resolveByTimeout(record.ID)
	})
	r.pending[record.ID] = pr
	r.mu.Unlock()

	r.logger.Info("conflict escalated",
		"record_id", record.ID,
		"entity_id", entityID,
		"conflicting_fields", conflicting,
		"timeout", r.timeout)

	if r.onEscalated != nil {
		r.onEscalated(record)
	}
	return nil, record, nil
}

// Resolve applies an explicit decision to an outstanding record and returns
// the winning data. It always cancels the resolution timer.
func (r *Resolver) Resolve(recordID string, res Resolution) (map[string]interface{}, error) {
	r.mu.Lock()
	pr, ok := r.pending[recordID]
	if !ok {
		r.mu.Unlock()
		return nil, syncErrors.NewConflictError(syncErrors.OpConflictResolve,
			fmt.Errorf("no outstanding conflict record %s", recordID))
	}

	winning, err := winningData(pr.record, res)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	pr.timer.Stop()
	delete(r.pending, recordID)
	record := *pr.record
	r.mu.Unlock()

	r.logger.Info("conflict resolved",
		"record_id", recordID,
		"entity_id", record.EntityID,
		"outcome", res.Outcome)

	if r.onResolved != nil {
		r.onResolved(record, res, winning)
	}
	return winning, nil
}

// CancelAll resolves every outstanding conflict to the server version and
// returns how many records were cancelled.
func (r *Resolver) CancelAll() int {
	r.mu.Lock()
	var records []*pendingRecord
	for _, pr := range r.pending {
		pr.timer.Stop()
		records = append(records, pr)
	}
	r.pending = make(map[string]*pendingRecord)
	r.mu.Unlock()

	for _, pr := range records {
		record := *pr.record
		res := Resolution{Outcome: OutcomeCancelled}
		r.logger.Info("conflict cancelled to server version",
			"record_id", record.ID,
			"entity_id", record.EntityID)
		if r.onResolved != nil {
			r.onResolved(record, res, record.ServerVersion)
		}
	}
	return len(records)
}

// Pending returns the outstanding conflict records.
func (r *Resolver) Pending() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Record, 0, len(r.pending))
	for _, pr := range r.pending {
		record := *pr.record
		out = append(out, &record)
	}
	return out
}

// Close stops all timers without resolving anything.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pr := range r.pending {
		pr.timer.Stop()
	}
	r.pending = make(map[string]*pendingRecord)
}

func (r *Resolver) resolveByTimeout(recordID string) {
	r.mu.Lock()
	pr, ok := r.pending[recordID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, recordID)
	record := *pr.record
	r.mu.Unlock()

	r.logger.Warn("conflict resolution timed out, keeping server version",
		"record_id", recordID,
		"entity_id", record.EntityID)

	if r.onResolved != nil {
		r.onResolved(record, Resolution{Outcome: OutcomeServer}, record.ServerVersion)
	}
}

func winningData(record *Record, res Resolution) (map[string]interface{}, error) {
	switch res.Outcome {
	case OutcomeServer, OutcomeCancelled:
		return record.ServerVersion, nil
	case OutcomeClient:
		return record.ClientVersion, nil
	case OutcomeMerged:
		if res.Data == nil {
			return nil, syncErrors.NewValidationError(syncErrors.OpConflictResolve,
				fmt.Errorf("merged resolution requires custom data"))
		}
		return res.Data, nil
	default:
		return nil, syncErrors.NewValidationError(syncErrors.OpConflictResolve,
			fmt.Errorf("unknown resolution outcome %q", res.Outcome))
	}
}
