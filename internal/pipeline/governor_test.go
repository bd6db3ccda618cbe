package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMemoryGovernor_Adjust(t *testing.T) {
	g := NewMemoryGovernor(85.0, zap.NewNop())

	t.Run("below threshold leaves shape alone", func(t *testing.T) {
		workers, batch := g.Adjust(8, 64, 50.0)
		assert.Equal(t, 8, workers)
		assert.Equal(t, 64, batch)
	})

	t.Run("at threshold leaves shape alone", func(t *testing.T) {
		workers, batch := g.Adjust(8, 64, 85.0)
		assert.Equal(t, 8, workers)
		assert.Equal(t, 64, batch)
	})

	t.Run("above threshold sheds a worker and halves the batch", func(t *testing.T) {
		workers, batch := g.Adjust(8, 64, 90.0)
		assert.Equal(t, 7, workers)
		assert.Equal(t, 32, batch)
	})

	t.Run("floors at one worker, one document", func(t *testing.T) {
		workers, batch := g.Adjust(1, 1, 99.0)
		assert.Equal(t, 1, workers)
		assert.Equal(t, 1, batch)
	})
}

func TestMemoryGovernor_MonotonicDegradation(t *testing.T) {
	g := NewMemoryGovernor(85.0, zap.NewNop())

	workers, batch := 8, 64
	for i := 0; i < 20; i++ {
		prevWorkers, prevBatch := workers, batch
		workers, batch = g.Adjust(workers, batch, 95.0)
		assert.LessOrEqual(t, workers, prevWorkers)
		assert.LessOrEqual(t, batch, prevBatch)
		assert.GreaterOrEqual(t, workers, 1)
		assert.GreaterOrEqual(t, batch, 1)
	}
	assert.Equal(t, 1, workers)
	assert.Equal(t, 1, batch)

	// Pressure relief never scales back up; Adjust only returns what it is
	// given or less.
	workers, batch = g.Adjust(workers, batch, 10.0)
	assert.Equal(t, 1, workers)
	assert.Equal(t, 1, batch)
}

func TestMemoryGovernor_SampleFailsOpen(t *testing.T) {
	g := NewMemoryGovernor(85.0, zap.NewNop(), WithSampler(func() (float64, error) {
		return 0, errors.New("proc unavailable")
	}))

	// A broken sampler must read as no pressure, not full pressure.
	assert.Equal(t, 0.0, g.Sample())

	workers, batch := g.Adjust(8, 64, g.Sample())
	assert.Equal(t, 8, workers)
	assert.Equal(t, 64, batch)
}

func TestMemoryGovernor_CustomSampler(t *testing.T) {
	utilization := 40.0
	g := NewMemoryGovernor(85.0, zap.NewNop(), WithSampler(func() (float64, error) {
		return utilization, nil
	}))

	assert.Equal(t, 40.0, g.Sample())

	utilization = 92.5
	assert.Equal(t, 92.5, g.Sample())
}
