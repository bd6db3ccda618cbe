package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scholarpipe/scholarpipe/pkg/metrics"
	"github.com/scholarpipe/scholarpipe/pkg/models"
	"github.com/scholarpipe/scholarpipe/pkg/piperrors"
)

// Transform turns one raw paper into its cleaned form. It must be pure:
// the dispatcher calls it concurrently from multiple workers.
type Transform func(*models.RawPaper) (*models.CleanedPaper, error)

// Emit receives one result in input order. The dispatcher consults the
// governor after every call.
type Emit func(*models.CleanedPaper) error

// Controls is the concurrency shape the next batch will be dispatched with.
type Controls struct {
	Workers   int
	BatchSize int
}

// ChunkedDispatcher draws bounded batches from a record stream, fans each
// batch out to a worker pool, and emits results in strict input order. The
// pool is created fresh for every batch, so governor adjustments take
// effect on the next batch without restarting the dispatcher or losing
// stream position. A batch is fully drained before the next is drawn; that
// sacrifices cross-batch overlap for a total ordering guarantee and gives
// the governor a clean adjustment point.
type ChunkedDispatcher struct {
	transform Transform
	governor  *MemoryGovernor
	controls  Controls
	partition string
	logger    *zap.Logger
}

// NewChunkedDispatcher creates a dispatcher starting at the given
// concurrency shape. The partition label tags metrics.
func NewChunkedDispatcher(transform Transform, governor *MemoryGovernor, controls Controls, partition string, logger *zap.Logger) *ChunkedDispatcher {
	return &ChunkedDispatcher{
		transform: transform,
		governor:  governor,
		controls:  controls,
		partition: partition,
		logger:    logger,
	}
}

// Controls returns the concurrency shape the next batch will use.
func (d *ChunkedDispatcher) Controls() Controls {
	return d.controls
}

// Run consumes records until the channel closes, transforming each batch in
// parallel and emitting results in the order records arrived. A worker
// failure aborts the containing batch and is returned to the caller;
// results from earlier batches have already been emitted and stand.
func (d *ChunkedDispatcher) Run(ctx context.Context, records <-chan *models.RawPaper, emit Emit) error {
	for {
		batch, err := d.drawBatch(ctx, records)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		metrics.BatchesDispatched.WithLabelValues(d.partition).Inc()
		d.logger.Debug("dispatching batch",
			zap.Int("size", len(batch)),
			zap.Int("workers", d.controls.Workers))

		results, err := d.processBatch(ctx, batch)
		if err != nil {
			metrics.PapersProcessed.WithLabelValues(d.partition, "failed").Add(float64(len(batch)))
			return err
		}

		for _, result := range results {
			if err := emit(result); err != nil {
				return err
			}
			metrics.PapersProcessed.WithLabelValues(d.partition, "ok").Inc()

			utilization := d.governor.Sample()
			metrics.MemoryUtilization.Set(utilization)
			d.controls.Workers, d.controls.BatchSize = d.governor.Adjust(
				d.controls.Workers, d.controls.BatchSize, utilization)
		}

		metrics.WorkerCount.WithLabelValues(d.partition).Set(float64(d.controls.Workers))
		metrics.BatchSizeGauge.WithLabelValues(d.partition).Set(float64(d.controls.BatchSize))
	}
}

// drawBatch pulls up to the current batch size from the stream. A short or
// empty batch means the stream ended.
func (d *ChunkedDispatcher) drawBatch(ctx context.Context, records <-chan *models.RawPaper) ([]*models.RawPaper, error) {
	size := d.controls.BatchSize
	batch := make([]*models.RawPaper, 0, size)

	for len(batch) < size {
		select {
		case paper, ok := <-records:
			if !ok {
				return batch, nil
			}
			batch = append(batch, paper)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return batch, nil
}

// processBatch transforms every document of one batch across the current
// worker count. Results keep their batch positions, so output order never
// depends on which worker finishes first. The first failure cancels the
// batch's remaining work.
func (d *ChunkedDispatcher) processBatch(ctx context.Context, batch []*models.RawPaper) ([]*models.CleanedPaper, error) {
	results := make([]*models.CleanedPaper, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.controls.Workers)

	for i, paper := range batch {
		i, paper := i, paper
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			timer := metrics.NewTimer()
			cleaned, err := d.safeTransform(paper)
			if err != nil {
				return piperrors.Wrap(err, piperrors.ErrorTypeWorker, "document transformation failed").
					WithDetail("paper_id", paper.PaperID).
					WithDetail("batch_index", i)
			}
			metrics.CleanLatency.WithLabelValues(d.partition).Observe(timer.Stop().Seconds())

			results[i] = cleaned
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// safeTransform converts a worker panic into a worker error so one poisoned
// document cannot take down the whole process.
func (d *ChunkedDispatcher) safeTransform(paper *models.RawPaper) (cleaned *models.CleanedPaper, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = piperrors.New(piperrors.ErrorTypeWorker, fmt.Sprintf("worker panic: %v", r))
		}
	}()
	return d.transform(paper)
}
