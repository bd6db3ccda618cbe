package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scholarpipe/scholarpipe/internal/pipeline"
	"github.com/scholarpipe/scholarpipe/pkg/config"
	"github.com/scholarpipe/scholarpipe/pkg/embed"
	"github.com/scholarpipe/scholarpipe/pkg/logger"
	"github.com/scholarpipe/scholarpipe/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "scholarpipe",
		Short: "Scholarpipe - memory-adaptive scientific-paper corpus pipeline",
		Long: `Scholarpipe cleans scientific-paper corpora: inline formula and citation
markers become stable placeholder tokens with side lookup tables, written
back out incrementally. Concurrency and batch size degrade automatically
under system memory pressure, trading throughput for stability.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Scholarpipe v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newCleanCmd())
	root.AddCommand(newEmbedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCleanCmd() *cobra.Command {
	var configFile string
	var sourceDir, outputDir, field string
	var workers, batchSize int
	var memoryThreshold float64
	var compression, logLevel string
	var enableTracing bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Run the corpus cleaning pipeline",
		Long: `Run the cleaning pipeline over every (year, field) partition found under
the source directory. Partitions whose output file already exists are
skipped, so interrupted runs resume where they left off.

Example:
  scholarpipe clean --source /corpus --output /corpus/cleaned/physics --field Physics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewPipelineConfig()
			if configFile != "" {
				if err := config.Load(configFile, cfg); err != nil {
					return fmt.Errorf("configuration error: %w", err)
				}
			}

			// Command line flags override file values when set
			if cmd.Flags().Changed("source") {
				cfg.SourceDir = sourceDir
			}
			if cmd.Flags().Changed("output") {
				cfg.OutputDir = outputDir
			}
			if cmd.Flags().Changed("field") {
				cfg.Field = field
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.BatchSize = batchSize
			}
			if cmd.Flags().Changed("memory-threshold") {
				cfg.MemoryThresholdPercent = memoryThreshold
			}
			if cmd.Flags().Changed("compression") {
				cfg.Compression = compression
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			if err := logger.Init(logger.Config{Level: cfg.LogLevel, Encoding: "json"}); err != nil {
				return err
			}
			log := logger.With(zap.String("component", "scholarpipe-cli"))
			defer logger.Sync() //nolint:errcheck

			shutdown, err := observability.InitTracing(observability.TracingConfig{
				Enabled:        enableTracing,
				ServiceName:    "scholarpipe",
				ServiceVersion: version,
				SamplingRate:   1.0,
			})
			if err != nil {
				return err
			}
			defer shutdown(context.Background()) //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner, err := pipeline.NewRunner(cfg, log)
			if err != nil {
				return err
			}

			log.Info("starting cleaning pipeline",
				zap.String("source", cfg.SourceDir),
				zap.String("output", cfg.OutputDir),
				zap.String("field", cfg.Field),
				zap.Int("workers", cfg.Workers),
				zap.Int("batch_size", cfg.BatchSize),
				zap.Float64("memory_threshold_percent", cfg.MemoryThresholdPercent))

			start := time.Now()
			if err := runner.Run(ctx); err != nil {
				return fmt.Errorf("pipeline execution failed: %w", err)
			}
			log.Info("pipeline completed", zap.Duration("duration", time.Since(start)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (optional)")
	cmd.Flags().StringVarP(&sourceDir, "source", "s", "", "Corpus root directory, laid out <source>/<year>/*.jsonl")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output root directory for cleaned partitions")
	cmd.Flags().StringVarP(&field, "field", "f", "", "Discipline to select (exact match)")
	cmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Initial worker pool size. The governor may shrink this during the run")
	cmd.Flags().IntVar(&batchSize, "batch-size", 64, "Initial documents per batch. The governor may shrink this during the run")
	cmd.Flags().Float64Var(&memoryThreshold, "memory-threshold", 85.0, "System memory utilization percent above which concurrency degrades")
	cmd.Flags().StringVar(&compression, "compression", "none", "Output compression (none, gzip)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&enableTracing, "enable-tracing", false, "Emit OpenTelemetry spans to stdout")

	return cmd
}

func newEmbedCmd() *cobra.Command {
	var cleanedDir, provider, logLevel string
	var dim int

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate embeddings for cleaned partitions",
		Long: `Embed every cleaned partition under the given directory and write one
parquet file per partition. Partitions whose parquet output already exists
are skipped.

The embedding model is pluggable; the built-in "hash" provider is a
deterministic offline stand-in for format validation only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
				return err
			}
			log := logger.With(zap.String("component", "scholarpipe-embed"))
			defer logger.Sync() //nolint:errcheck

			var embedder embed.Embedder
			switch provider {
			case "hash":
				embedder = &embed.HashEmbedder{Dim: dim}
			default:
				return fmt.Errorf("unknown embedding provider %q (available: hash)", provider)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := embed.NewRunner(embedder, log)
			start := time.Now()
			if err := runner.Run(ctx, cleanedDir); err != nil {
				return fmt.Errorf("embedding failed: %w", err)
			}
			log.Info("embedding completed", zap.Duration("duration", time.Since(start)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&cleanedDir, "cleaned", "d", "", "Cleaned corpus root (the clean command's output directory)")
	cmd.Flags().StringVar(&provider, "provider", "hash", "Embedding provider")
	cmd.Flags().IntVar(&dim, "dim", 64, "Vector dimension for the hash provider")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("cleaned")

	return cmd
}
