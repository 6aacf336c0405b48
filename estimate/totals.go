package estimate

import (
	"context"
	"log/slog"
	"math"

	syncErrors "github.com/adjustware/linesync/errors"
)

// Totals are the derived sums of an estimate aggregate.
type Totals struct {
	Subtotal   float64
	TaxTotal   float64
	GrandTotal float64
	LineCount  int
}

// LineSource supplies the current lines of an estimate. Typically backed by
// the caller's local cache of the aggregate.
type LineSource interface {
	Lines(ctx context.Context, estimateID string) ([]Line, error)
}

// Aggregator recomputes derived totals after bulk mutations.
type Aggregator struct {
	source LineSource
	logger *slog.Logger
}

// NewAggregator creates an Aggregator. A nil logger falls back to
// slog.Default.
func NewAggregator(source LineSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{source: source, logger: logger}
}

// Recompute derives totals from the aggregate's current lines. Amounts are
// rounded to cents once per line so totals match what line-level displays
// show.
func (a *Aggregator) Recompute(ctx context.Context, estimateID string) (*Totals, error) {
	lines, err := a.source.Lines(ctx, estimateID)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpTotals, "aggregator", err)
	}

	totals := &Totals{LineCount: len(lines)}
	for _, line := range lines {
		totals.Subtotal += roundCents(line.Amount())
		totals.TaxTotal += roundCents(line.Tax())
	}
	totals.Subtotal = roundCents(totals.Subtotal)
	totals.TaxTotal = roundCents(totals.TaxTotal)
	totals.GrandTotal = roundCents(totals.Subtotal + totals.TaxTotal)

	a.logger.Debug("totals recomputed",
		"estimate_id", estimateID,
		"line_count", totals.LineCount,
		"grand_total", totals.GrandTotal)
	return totals, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
