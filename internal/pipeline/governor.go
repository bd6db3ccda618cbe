package pipeline

import (
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/scholarpipe/scholarpipe/pkg/piperrors"
)

// Sampler returns the current system memory utilization in percent.
type Sampler func() (float64, error)

// MemoryGovernor turns memory pressure into concurrency decisions. After
// every emitted record it samples system memory; above the threshold it
// sheds one worker and halves the batch size. Degradation is monotonic for
// the lifetime of a run: the governor never scales back up, and never drops
// below one worker with one-document batches.
type MemoryGovernor struct {
	threshold float64
	sample    Sampler
	logger    *zap.Logger
}

// GovernorOption configures a MemoryGovernor.
type GovernorOption func(*MemoryGovernor)

// WithSampler replaces the system memory sampler.
func WithSampler(s Sampler) GovernorOption {
	return func(g *MemoryGovernor) {
		g.sample = s
	}
}

// NewMemoryGovernor creates a governor that degrades concurrency when
// system memory utilization exceeds threshold percent.
func NewMemoryGovernor(threshold float64, logger *zap.Logger, opts ...GovernorOption) *MemoryGovernor {
	g := &MemoryGovernor{
		threshold: threshold,
		sample:    systemMemorySample,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Sample returns the current utilization. A sampling failure is treated as
// zero pressure: a monitoring glitch must never starve the pipeline down to
// one worker, so the governor fails open and logs.
func (g *MemoryGovernor) Sample() float64 {
	utilization, err := g.sample()
	if err != nil {
		g.logger.Warn("memory sample failed, assuming no pressure",
			zap.Error(piperrors.Wrap(err, piperrors.ErrorTypeResource, "memory utilization unavailable")))
		return 0
	}
	return utilization
}

// Adjust applies the degradation policy to the current concurrency shape
// and returns the values the next batch should use.
func (g *MemoryGovernor) Adjust(workers, batchSize int, utilization float64) (int, int) {
	if utilization <= g.threshold {
		return workers, batchSize
	}

	newWorkers := workers - 1
	if newWorkers < 1 {
		newWorkers = 1
	}
	newBatchSize := batchSize / 2
	if newBatchSize < 1 {
		newBatchSize = 1
	}

	if newWorkers != workers || newBatchSize != batchSize {
		g.logger.Info("memory pressure, degrading concurrency",
			zap.Float64("utilization_percent", utilization),
			zap.Float64("threshold_percent", g.threshold),
			zap.Int("workers", newWorkers),
			zap.Int("batch_size", newBatchSize))
	}

	return newWorkers, newBatchSize
}

func systemMemorySample() (float64, error) {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vmStat.UsedPercent, nil
}
