package integrity

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	syncErrors "github.com/adjustware/linesync/errors"
)

// Snapshot is one recorded known-good state of an entity.
type Snapshot struct {
	Data      map[string]interface{}
	Timestamp time.Time
	Version   int64
	Checksum  string
}

// Status classifies entity data relative to its last known-good snapshot.
type Status string

const (
	// StatusClean means the data matches the last known-good snapshot
	StatusClean Status = "clean"

	// StatusCorrupted means the content drifted from the last known-good
	// snapshot when it should not have
	StatusCorrupted Status = "corrupted"

	// StatusVersionConflict is a coarse staleness signal: the version
	// advanced past the stored snapshot by more than the tolerance. Distinct
	// from field-level conflicts, which answer "which fields disagree"
	// rather than "is this stale".
	StatusVersionConflict Status = "version_conflict"

	// StatusUnknown means no history exists for the entity yet
	StatusUnknown Status = "unknown"
)

// Report is the outcome of an integrity check.
type Report struct {
	Status           Status
	EntityID         string
	ExpectedChecksum string
	ActualChecksum   string

	// LastKnownGood is the recommended rollback value when corruption is
	// confirmed; nil otherwise.
	LastKnownGood *Snapshot
}

// Policy controls whether a corrupted entity may still proceed.
type Policy string

const (
	PolicyStrict     Policy = "strict"
	PolicyClientWins Policy = "client-wins"
	PolicyServerWins Policy = "server-wins"
)

// Validator keeps a bounded, most-recent-first snapshot history per entity.
type Validator struct {
	mu               sync.Mutex
	history          map[string][]Snapshot
	maxSnapshots     int
	versionTolerance int64
	logger           *slog.Logger
	now              func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithMaxSnapshots caps the per-entity history length.
func WithMaxSnapshots(n int) ValidatorOption {
	return func(v *Validator) {
		if n > 0 {
			v.maxSnapshots = n
		}
	}
}

// WithVersionTolerance sets how far a version may advance past the stored
// snapshot before it counts as a version conflict.
func WithVersionTolerance(tolerance int64) ValidatorOption {
	return func(v *Validator) {
		if tolerance >= 0 {
			v.versionTolerance = tolerance
		}
	}
}

// WithLogger sets the validator's logger.
func WithLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator creates a Validator with a history cap of 10 snapshots and a
// version tolerance of 1000 (one second for millisecond versions).
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		history:          make(map[string][]Snapshot),
		maxSnapshots:     10,
		versionTolerance: 1000,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Record stores a new known-good snapshot for an entity, evicting the oldest
// entry once the history cap is reached.
func (v *Validator) Record(entityID string, data map[string]interface{}, version int64) (Snapshot, error) {
	sum, err := Checksum(data)
	if err != nil {
		return Snapshot{}, syncErrors.NewWithComponent(syncErrors.OpIntegrityCheck, "validator", err)
	}

	snap := Snapshot{
		Data:      cloneData(data),
		Timestamp: v.now(),
		Version:   version,
		Checksum:  sum,
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	snaps := append([]Snapshot{snap}, v.history[entityID]...)
	if len(snaps) > v.maxSnapshots {
		snaps = snaps[:v.maxSnapshots]
	}
	v.history[entityID] = snaps

	v.logger.Debug("snapshot recorded",
		"entity_id", entityID,
		"version", version,
		"history_len", len(snaps))
	return snap, nil
}

// CheckIntegrity compares current data against the entity's latest snapshot.
func (v *Validator) CheckIntegrity(entityID string, data map[string]interface{}, version int64) Report {
	report := Report{Status: StatusUnknown, EntityID: entityID}

	actual, err := Checksum(data)
	if err != nil {
		v.logger.Error("checksum computation failed", "entity_id", entityID, "error", err)
		report.Status = StatusCorrupted
		return report
	}
	report.ActualChecksum = actual

	v.mu.Lock()
	snaps := v.history[entityID]
	v.mu.Unlock()

	if len(snaps) == 0 {
		return report
	}

	latest := snaps[0]
	report.ExpectedChecksum = latest.Checksum

	if version > latest.Version && version-latest.Version > v.versionTolerance {
		report.Status = StatusVersionConflict
		v.logger.Warn("version advanced beyond tolerance",
			"entity_id", entityID,
			"snapshot_version", latest.Version,
			"current_version", version)
		return report
	}

	if actual != latest.Checksum {
		report.Status = StatusCorrupted
		report.LastKnownGood = v.lastKnownGood(entityID)
		v.logger.Warn("content drift detected",
			"entity_id", entityID,
			"expected_checksum", latest.Checksum,
			"actual_checksum", actual)
		return report
	}

	report.Status = StatusClean
	return report
}

// ValidateData combines structural checks with the integrity check to decide
// whether an operation may proceed. Corruption blocks unless the caller's
// policy is client-wins or server-wins.
func (v *Validator) ValidateData(entityID string, data map[string]interface{}, version int64, policy Policy) error {
	if entityID == "" {
		return syncErrors.NewValidationError(syncErrors.OpIntegrityCheck, fmt.Errorf("entity id is required"))
	}
	if data == nil {
		return syncErrors.NewValidationError(syncErrors.OpIntegrityCheck, fmt.Errorf("entity data is required"))
	}

	report := v.CheckIntegrity(entityID, data, version)
	if report.Status != StatusCorrupted {
		return nil
	}
	if policy == PolicyClientWins || policy == PolicyServerWins {
		v.logger.Info("corruption overridden by policy",
			"entity_id", entityID,
			"policy", policy)
		return nil
	}

	err := &syncErrors.SyncError{
		Op:          syncErrors.OpIntegrityCheck,
		Component:   "validator",
		Kind:        syncErrors.KindCache,
		Severity:    syncErrors.SeverityCritical,
		Err:         fmt.Errorf("data corruption detected for %s", entityID),
		Retryable:   false,
		UserMessage: "Local data looks damaged. The last known-good version can be restored.",
		Suggestions: []string{"Restore the last known-good version", "Reload from the server"},
	}
	err.WithMetadata("expected_checksum", report.ExpectedChecksum)
	err.WithMetadata("actual_checksum", report.ActualChecksum)
	return err
}

// LastKnownGood returns the most recent snapshot for an entity.
func (v *Validator) LastKnownGood(entityID string) (*Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	snaps := v.history[entityID]
	if len(snaps) == 0 {
		return nil, false
	}
	snap := snaps[0]
	return &snap, true
}

// History returns the snapshot history for an entity, most recent first.
func (v *Validator) History(entityID string) []Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snaps := v.history[entityID]
	out := make([]Snapshot, len(snaps))
	copy(out, snaps)
	return out
}

// Forget drops all history for an entity.
func (v *Validator) Forget(entityID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.history, entityID)
}

func (v *Validator) lastKnownGood(entityID string) *Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	snaps := v.history[entityID]
	if len(snaps) == 0 {
		return nil
	}
	snap := snaps[0]
	return &snap
}

func cloneData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, val := range data {
		out[k] = val
	}
	return out
}
