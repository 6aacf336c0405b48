package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlanner_BaseSize(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	assert.Equal(t, 20, p.BatchSize(100, ComplexityModerate, LoadNormal))
}

func TestPlanner_ComplexityShrinksBatches(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	simple := p.BatchSize(100, ComplexitySimple, LoadNormal)
	moderate := p.BatchSize(100, ComplexityModerate, LoadNormal)
	complex := p.BatchSize(100, ComplexityComplex, LoadNormal)

	assert.Greater(t, simple, moderate)
	assert.Greater(t, moderate, complex)
}

func TestPlanner_LoadShrinksBatches(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	low := p.BatchSize(100, ComplexityModerate, LoadLow)
	high := p.BatchSize(100, ComplexityModerate, LoadHigh)

	assert.Greater(t, low, high)
}

func TestPlanner_DeleteIsOwnClass(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	del := p.BatchSize(100, ComplexityDelete, LoadNormal)
	moderate := p.BatchSize(100, ComplexityModerate, LoadNormal)

	assert.NotEqual(t, moderate, del)
}

func TestPlanner_Bounds(t *testing.T) {
	p := NewPlanner(PlannerConfig{MinBatchSize: 10, MaxBatchSize: 25, BaseBatchSize: 20})

	assert.Equal(t, 25, p.BatchSize(1000, ComplexitySimple, LoadLow),
		"computed size above max must clamp to max")
	assert.Equal(t, 10, p.BatchSize(1000, ComplexityComplex, LoadHigh),
		"computed size below min must clamp to min")
}

func TestPlanner_CustomSizeFunc(t *testing.T) {
	p := NewPlanner(PlannerConfig{
		MinBatchSize: 1,
		MaxBatchSize: 500,
		SizeFunc: func(itemCount int, c Complexity, l Load) int {
			return itemCount / 2
		},
	})
	assert.Equal(t, 50, p.BatchSize(100, ComplexityModerate, LoadNormal))
}

func TestPlanner_Estimate(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	est := p.EstimateOperation(47, ComplexityModerate, LoadNormal)

	assert.Equal(t, 20, est.BatchSize)
	assert.Equal(t, 3, est.Batches)
	assert.Greater(t, est.EstimatedTime, time.Duration(0))
	assert.Greater(t, est.MemoryEstimateMB, 0.0)
}

func TestPlanner_EstimateEmpty(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	est := p.EstimateOperation(0, ComplexityModerate, LoadNormal)

	assert.Equal(t, 0, est.Batches)
	assert.Equal(t, time.Duration(0), est.EstimatedTime)
}
