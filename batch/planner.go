// Package batch plans and executes bulk create/update/delete operations
// against the remote store, with an atomic fast path and a chunked,
// retry-wrapped fallback.
package batch

import (
	"time"
)

// Complexity is a caller-supplied classification of how expensive one item
// of a bulk operation is for the remote store.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"

	// ComplexityDelete is its own class: deletes cascade on the remote side
	// and behave unlike writes of any size.
	ComplexityDelete Complexity = "delete"
)

// Load is a caller-supplied estimate of current system load. It is an
// injectable label, not a measurement.
type Load string

const (
	LoadLow    Load = "low"
	LoadNormal Load = "normal"
	LoadHigh   Load = "high"
)

// SizeFunc computes a batch size before clamping. Callers can replace the
// built-in heuristic.
type SizeFunc func(itemCount int, complexity Complexity, load Load) int

// PlannerConfig tunes the batch planner.
type PlannerConfig struct {
	// MinBatchSize and MaxBatchSize bound every computed size
	MinBatchSize int
	MaxBatchSize int

	// BaseBatchSize is the size for moderate complexity under normal load
	BaseBatchSize int

	// SizeFunc overrides the built-in heuristic when non-nil
	SizeFunc SizeFunc
}

// DefaultPlannerConfig returns the default planner tuning.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MinBatchSize:  5,
		MaxBatchSize:  100,
		BaseBatchSize: 20,
	}
}

// Estimate is a pre-flight projection of a prospective bulk operation.
type Estimate struct {
	BatchSize        int
	Batches          int
	EstimatedTime    time.Duration
	MemoryEstimateMB float64
}

// Planner computes chunk sizes and pre-flight estimates for bulk operations.
type Planner struct {
	cfg PlannerConfig
}

// NewPlanner creates a Planner. Zero or inconsistent bounds fall back to
// defaults.
func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = def.MinBatchSize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.MaxBatchSize < cfg.MinBatchSize {
		cfg.MaxBatchSize = cfg.MinBatchSize
	}
	if cfg.BaseBatchSize <= 0 {
		cfg.BaseBatchSize = def.BaseBatchSize
	}
	return &Planner{cfg: cfg}
}

var complexityFactor = map[Complexity]float64{
	ComplexitySimple:   1.5,
	ComplexityModerate: 1.0,
	ComplexityComplex:  0.4,
	ComplexityDelete:   0.75,
}

var loadFactor = map[Load]float64{
	LoadLow:    1.25,
	LoadNormal: 1.0,
	LoadHigh:   0.5,
}

// perItemCost approximates round-trip cost per item by complexity class.
var perItemCost = map[Complexity]time.Duration{
	ComplexitySimple:   4 * time.Millisecond,
	ComplexityModerate: 10 * time.Millisecond,
	ComplexityComplex:  30 * time.Millisecond,
	ComplexityDelete:   8 * time.Millisecond,
}

// perBatchOverhead approximates the fixed cost of one remote round trip.
const perBatchOverhead = 150 * time.Millisecond

// perItemMemoryKB approximates serialized item size in memory.
const perItemMemoryKB = 4.0

// BatchSize returns the chunk size for a bulk operation, always within the
// configured [min, max] bounds.
func (p *Planner) BatchSize(itemCount int, complexity Complexity, load Load) int {
	var size int
	if p.cfg.SizeFunc != nil {
		size = p.cfg.SizeFunc(itemCount, complexity, load)
	} else {
		cf, ok := complexityFactor[complexity]
		if !ok {
			cf = 1.0
		}
		lf, ok := loadFactor[load]
		if !ok {
			lf = 1.0
		}
		size = int(float64(p.cfg.BaseBatchSize) * cf * lf)
	}

	if size < p.cfg.MinBatchSize {
		size = p.cfg.MinBatchSize
	}
	if size > p.cfg.MaxBatchSize {
		size = p.cfg.MaxBatchSize
	}
	return size
}

// EstimateOperation projects wall-clock time and memory footprint for a
// prospective bulk operation. Used internally for chunking and externally as
// a pre-flight sanity check.
func (p *Planner) EstimateOperation(itemCount int, complexity Complexity, load Load) Estimate {
	size := p.BatchSize(itemCount, complexity, load)
	batches := 0
	if itemCount > 0 {
		batches = (itemCount + size - 1) / size
	}

	cost, ok := perItemCost[complexity]
	if !ok {
		cost = perItemCost[ComplexityModerate]
	}
	lf, ok := loadFactor[load]
	if !ok {
		lf = 1.0
	}
	// Heavier load stretches per-item cost by the inverse of the size factor.
	estimated := time.Duration(float64(itemCount)*float64(cost)/lf) +
		time.Duration(batches)*perBatchOverhead

	return Estimate{
		BatchSize:        size,
		Batches:          batches,
		EstimatedTime:    estimated,
		MemoryEstimateMB: float64(itemCount) * perItemMemoryKB / 1024,
	}
}
