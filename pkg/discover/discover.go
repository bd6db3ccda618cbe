// Package discover maps the corpus directory layout onto partitions. The
// corpus is laid out <source_dir>/<year>/*.jsonl (optionally compressed);
// one partition covers one (year, field) pair and owns one output file.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var shardExtensions = []string{".jsonl", ".jsonl.gz", ".jsonl.zst", ".jsonl.lz4"}

// Partition is one (year, field) unit of work: the shards to scan and the
// output file its cleaned records belong in.
type Partition struct {
	Year       string
	Field      string
	ShardPaths []string
	OutputPath string
}

// Key identifies the partition in logs, errors, and metric labels.
func (p Partition) Key() string {
	return p.Year + "/" + strings.ToLower(p.Field)
}

// Partitions walks sourceDir and returns one partition per year directory
// that contains at least one shard, sorted by year. Non-directory entries
// and years without shards are skipped.
func Partitions(sourceDir, outputDir, field string) ([]Partition, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory %s: %w", sourceDir, err)
	}

	var partitions []Partition
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		year := entry.Name()

		shards, err := shardFiles(filepath.Join(sourceDir, year))
		if err != nil {
			return nil, err
		}
		if len(shards) == 0 {
			continue
		}

		partitions = append(partitions, Partition{
			Year:       year,
			Field:      field,
			ShardPaths: shards,
			OutputPath: filepath.Join(outputDir, year,
				"cleaned_"+strings.ToLower(field)+".jsonl"),
		})
	}

	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Year < partitions[j].Year
	})
	return partitions, nil
}

func shardFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read year directory %s: %w", dir, err)
	}

	var shards []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, ext := range shardExtensions {
			if strings.HasSuffix(name, ext) {
				shards = append(shards, filepath.Join(dir, name))
				break
			}
		}
	}

	sort.Strings(shards)
	return shards, nil
}
