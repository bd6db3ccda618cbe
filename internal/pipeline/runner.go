package pipeline

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/scholarpipe/scholarpipe/pkg/cleaner"
	"github.com/scholarpipe/scholarpipe/pkg/compress"
	"github.com/scholarpipe/scholarpipe/pkg/config"
	"github.com/scholarpipe/scholarpipe/pkg/discover"
	"github.com/scholarpipe/scholarpipe/pkg/models"
	"github.com/scholarpipe/scholarpipe/pkg/observability"
	"github.com/scholarpipe/scholarpipe/pkg/piperrors"
	"github.com/scholarpipe/scholarpipe/pkg/sink"
	"github.com/scholarpipe/scholarpipe/pkg/source"
)

// Runner executes the cleaning pipeline over every discovered partition.
// Partitions are independent: a failure in one is reported with its key and
// cause, already-written lines stay valid, and later partitions still run.
type Runner struct {
	cfg         *config.PipelineConfig
	cleaner     *cleaner.Cleaner
	compression compress.Algorithm
	logger      *zap.Logger
}

// NewRunner creates a runner for the given configuration. The configuration
// must already be validated.
func NewRunner(cfg *config.PipelineConfig, logger *zap.Logger) (*Runner, error) {
	algo, err := compress.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, piperrors.Wrap(err, piperrors.ErrorTypeConfig, "invalid output compression")
	}

	return &Runner{
		cfg:         cfg,
		cleaner:     cleaner.New(),
		compression: algo,
		logger:      logger,
	}, nil
}

// Run discovers partitions under the source directory and processes each in
// turn. It returns the joined errors of all failed partitions.
func (r *Runner) Run(ctx context.Context) error {
	partitions, err := discover.Partitions(r.cfg.SourceDir, r.cfg.OutputDir, r.cfg.Field)
	if err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "partition discovery failed")
	}

	r.logger.Info("discovered partitions",
		zap.Int("count", len(partitions)),
		zap.String("field", r.cfg.Field))

	var failures []error
	for _, partition := range partitions {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		if err := r.RunPartition(ctx, partition); err != nil {
			r.logger.Error("partition failed",
				zap.String("partition", partition.Key()),
				zap.Error(err))
			failures = append(failures, err)
		}
	}

	return errors.Join(failures...)
}

// RunPartition processes one partition: count qualifying documents, stream
// them through the chunked dispatcher, and append each cleaned record to
// the partition's output file. An output file that already exists is the
// external signal the partition is complete, and it is skipped.
func (r *Runner) RunPartition(ctx context.Context, partition discover.Partition) error {
	key := partition.Key()
	log := r.logger.With(zap.String("partition", key))

	outPath := sink.OutputPath(partition.OutputPath, r.compression)
	if _, err := os.Stat(outPath); err == nil {
		log.Info("output exists, skipping partition", zap.String("output", outPath))
		return nil
	}

	ctx, span := observability.Tracer().Start(ctx, "partition",
		trace.WithAttributes(attribute.String("partition", key)))
	defer span.End()

	src := source.New(partition.ShardPaths, r.cfg.Field,
		source.WithBufferSize(r.cfg.BufferSize))

	// First pass: size the partition without retaining records.
	total, err := src.Count(ctx)
	if err != nil {
		return r.partitionErr(err, key)
	}
	log.Info("processing partition",
		zap.Int("qualifying_papers", total),
		zap.Int("shards", len(partition.ShardPaths)),
		zap.Int("workers", r.cfg.Workers),
		zap.Int("batch_size", r.cfg.BatchSize))

	writer, err := sink.Open(partition.OutputPath, r.compression)
	if err != nil {
		return r.partitionErr(err, key)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	records, srcErrs := src.Stream(streamCtx)

	governor := NewMemoryGovernor(r.cfg.MemoryThresholdPercent, log)
	dispatcher := NewChunkedDispatcher(
		func(paper *models.RawPaper) (*models.CleanedPaper, error) {
			return r.cleaner.ProcessPaper(paper), nil
		},
		governor,
		Controls{Workers: r.cfg.Workers, BatchSize: r.cfg.BatchSize},
		key,
		log,
	)

	runErr := dispatcher.Run(streamCtx, records, func(cleaned *models.CleanedPaper) error {
		return writer.Append(cleaned)
	})

	// Stop the source before draining its error channel, then prefer a
	// source failure over the dispatcher's view of a truncated stream.
	cancel()
	if runErr == nil {
		if srcErr := <-srcErrs; srcErr != nil {
			runErr = srcErr
		}
	}

	if closeErr := writer.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	if runErr != nil {
		return r.partitionErr(runErr, key)
	}

	log.Info("partition complete",
		zap.Int64("records_written", writer.RecordsWritten()),
		zap.Int("final_workers", dispatcher.Controls().Workers),
		zap.Int("final_batch_size", dispatcher.Controls().BatchSize))
	return nil
}

func (r *Runner) partitionErr(err error, key string) error {
	return piperrors.Wrap(err, piperrors.ErrorTypeInternal, "partition "+key+" failed").
		WithDetail("partition", key)
}
