// Package config provides the configuration for the scholarpipe pipeline.
// A single PipelineConfig structure covers the corpus layout, the initial
// concurrency shape, and the memory-pressure threshold the governor
// enforces.
//
// Example usage:
//
//	cfg := config.NewPipelineConfig()
//	cfg.Field = "Physics"
//	cfg.SourceDir = "/corpus"
//	cfg.OutputDir = "/corpus/cleaned/physics"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
)

// PipelineConfig configures one pipeline invocation. Workers and BatchSize
// are initial values only; the memory governor may shrink both while a run
// is in flight.
type PipelineConfig struct {
	// SourceDir is the corpus root, laid out <source_dir>/<year>/*.jsonl
	SourceDir string `yaml:"source_dir" json:"source_dir"`
	// OutputDir is the root the per-partition output files are written under
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	// Field selects papers whose discipline matches exactly
	Field string `yaml:"field" json:"field"`

	// Workers is the initial worker pool size per batch
	Workers int `yaml:"workers" json:"workers"`
	// BatchSize is the initial number of documents drawn per batch
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MemoryThresholdPercent is the system memory utilization above which
	// the governor degrades concurrency. Open interval (0, 100).
	MemoryThresholdPercent float64 `yaml:"memory_threshold_percent" json:"memory_threshold_percent"`

	// BufferSize sets the shard reader buffer in bytes
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// Compression selects output compression: "none" or "gzip"
	Compression string `yaml:"compression" json:"compression"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// EnableMetrics activates prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// NewPipelineConfig returns a PipelineConfig with production defaults.
// Callers set the corpus fields and override concurrency as needed.
func NewPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Workers:                runtime.NumCPU(),
		BatchSize:              64,
		MemoryThresholdPercent: 85.0,
		BufferSize:             1024 * 1024,
		Compression:            "none",
		LogLevel:               "info",
		EnableMetrics:          true,
	}
}

// Validate checks the configuration for correctness. Call after loading to
// catch errors before any shard is opened.
func (c *PipelineConfig) Validate() error {
	if c.SourceDir == "" {
		return fmt.Errorf("source_dir is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Field == "" {
		return fmt.Errorf("field is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.MemoryThresholdPercent <= 0 || c.MemoryThresholdPercent >= 100 {
		return fmt.Errorf("memory_threshold_percent must be in (0, 100)")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	switch c.Compression {
	case "", "none", "gzip":
	default:
		return fmt.Errorf("compression must be none or gzip, got %q", c.Compression)
	}
	return nil
}
