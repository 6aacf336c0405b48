package batch

import (
	"context"
	"errors"

	syncErrors "github.com/adjustware/linesync/errors"
)

var errNegativeItemCount = errors.New("item count must not be negative")

// Recommendations are the planner-derived portion of a pre-flight report.
type Recommendations struct {
	OptimalBatchSize     int
	EstimatedTimeSeconds float64
	MemoryEstimateMB     float64
}

// PreflightReport combines local planning with the remote store's validation
// of a prospective bulk operation.
type PreflightReport struct {
	Valid           bool
	Violations      []string
	Warnings        []string
	Recommendations Recommendations
}

// Preflight checks whether a prospective bulk operation is sane before any
// mutation is attempted. Local planning always succeeds; remote validation
// being unreachable degrades to a warning rather than failing the check.
func (e *Executor) Preflight(ctx context.Context, aggregateID string, opType OpType, itemCount int, complexity Complexity, load Load) (*PreflightReport, error) {
	if itemCount < 0 {
		return nil, syncErrors.NewValidationError(syncErrors.OpPreflight,
			errNegativeItemCount)
	}

	if opType == OpDelete {
		complexity = ComplexityDelete
	}
	est := e.planner.EstimateOperation(itemCount, complexity, load)

	report := &PreflightReport{
		Valid: true,
		Recommendations: Recommendations{
			OptimalBatchSize:     est.BatchSize,
			EstimatedTimeSeconds: est.EstimatedTime.Seconds(),
			MemoryEstimateMB:     est.MemoryEstimateMB,
		},
	}
	if itemCount == 0 {
		report.Warnings = append(report.Warnings, "operation contains no items")
	}

	resp, err := e.remote.Preflight(ctx, PreflightRequest{
		AggregateID:   aggregateID,
		OperationType: opType,
		ItemCount:     itemCount,
	})
	if err != nil {
		e.logger.Warn("remote pre-flight validation unavailable",
			"aggregate_id", aggregateID,
			"error", err)
		report.Warnings = append(report.Warnings, "remote validation unavailable; local estimate only")
		return report, nil
	}

	report.Valid = report.Valid && resp.Valid
	report.Violations = append(report.Violations, resp.Violations...)
	report.Warnings = append(report.Warnings, resp.Warnings...)
	return report, nil
}
