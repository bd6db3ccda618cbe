package pipeline

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scholarpipe/scholarpipe/pkg/config"
	"github.com/scholarpipe/scholarpipe/pkg/models"
)

func writeCorpusShard(t *testing.T, sourceDir, year, name, content string) {
	t.Helper()
	dir := filepath.Join(sourceDir, year)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func readCleaned(t *testing.T, path string) []*models.CleanedPaper {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var papers []*models.CleanedPaper
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var p models.CleanedPaper
		require.NoError(t, gojson.Unmarshal(scanner.Bytes(), &p))
		papers = append(papers, &p)
	}
	require.NoError(t, scanner.Err())
	return papers
}

func testConfig(sourceDir, outputDir string) *config.PipelineConfig {
	cfg := config.NewPipelineConfig()
	cfg.SourceDir = sourceDir
	cfg.OutputDir = outputDir
	cfg.Field = "Physics"
	cfg.Workers = 2
	cfg.BatchSize = 2
	return cfg
}

func TestRunner_EndToEnd(t *testing.T) {
	sourceDir := t.TempDir()
	outputDir := t.TempDir()

	writeCorpusShard(t, sourceDir, "2021", "shard_0.jsonl",
		`{"paper_id":"p1","discipline":"Physics","abstract":{"text":"We show {{formula:f1}}."},"body_text":[{"section":"Intro","text":"See {{cite:c1}}."}],"ref_entries":{"f1":"E=mc^2"},"bib_entries":{"c1":"Smith 2020"}}`+"\n"+
			`{"paper_id":"p2","discipline":"Biology","abstract":{"text":"filtered out"}}`+"\n")
	writeCorpusShard(t, sourceDir, "2021", "shard_1.jsonl",
		`{"paper_id":"p3","discipline":"Physics","abstract":{"text":"plain"}}`+"\n")

	runner, err := NewRunner(testConfig(sourceDir, outputDir), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	papers := readCleaned(t, filepath.Join(outputDir, "2021", "cleaned_physics.jsonl"))
	require.Len(t, papers, 2)

	assert.Equal(t, "p1", papers[0].PaperID)
	assert.Equal(t, "We show [FORMULA_1].", papers[0].CleanedAbstract)
	content, ok := papers[0].AbstractFormulaLookup.Get("[FORMULA_1]")
	require.True(t, ok)
	assert.Equal(t, "E=mc^2", content)
	require.Len(t, papers[0].CleanedBody, 1)
	assert.Equal(t, "See [CITATION_1].", papers[0].CleanedBody[0].Text)

	assert.Equal(t, "p3", papers[1].PaperID)
	assert.Equal(t, "plain", papers[1].CleanedAbstract)
}

func TestRunner_EmptyPartition(t *testing.T) {
	sourceDir := t.TempDir()
	outputDir := t.TempDir()

	// Shards exist, but nothing matches the field.
	writeCorpusShard(t, sourceDir, "2020", "shard_0.jsonl",
		`{"paper_id":"p1","discipline":"Biology"}`+"\n")

	runner, err := NewRunner(testConfig(sourceDir, outputDir), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	// The empty output file still marks the partition complete.
	outPath := filepath.Join(outputDir, "2020", "cleaned_physics.jsonl")
	info, statErr := os.Stat(outPath)
	require.NoError(t, statErr)
	assert.Zero(t, info.Size())
}

func TestRunner_SkipsCompletedPartition(t *testing.T) {
	sourceDir := t.TempDir()
	outputDir := t.TempDir()

	writeCorpusShard(t, sourceDir, "2021", "shard_0.jsonl",
		`{"paper_id":"p1","discipline":"Physics","abstract":{"text":"a"}}`+"\n")

	outPath := filepath.Join(outputDir, "2021", "cleaned_physics.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(outPath), 0755))
	require.NoError(t, os.WriteFile(outPath, []byte("sentinel\n"), 0644))

	runner, err := NewRunner(testConfig(sourceDir, outputDir), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	// An existing output file means the partition is done; it is not touched.
	data, readErr := os.ReadFile(outPath)
	require.NoError(t, readErr)
	assert.Equal(t, "sentinel\n", string(data))
}

func TestRunner_PartitionFailureContained(t *testing.T) {
	sourceDir := t.TempDir()
	outputDir := t.TempDir()

	writeCorpusShard(t, sourceDir, "2019", "shard_0.jsonl", "{broken json\n")
	writeCorpusShard(t, sourceDir, "2021", "shard_0.jsonl",
		`{"paper_id":"p1","discipline":"Physics","abstract":{"text":"a"}}`+"\n")

	runner, err := NewRunner(testConfig(sourceDir, outputDir), zap.NewNop())
	require.NoError(t, err)

	runErr := runner.Run(context.Background())
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "2019/physics")

	// The later partition still completed.
	papers := readCleaned(t, filepath.Join(outputDir, "2021", "cleaned_physics.jsonl"))
	require.Len(t, papers, 1)
	assert.Equal(t, "p1", papers[0].PaperID)
}

func TestRunner_MultiplePartitions(t *testing.T) {
	sourceDir := t.TempDir()
	outputDir := t.TempDir()

	writeCorpusShard(t, sourceDir, "2020", "shard_0.jsonl",
		`{"paper_id":"a","discipline":"Physics","abstract":{"text":"x"}}`+"\n")
	writeCorpusShard(t, sourceDir, "2021", "shard_0.jsonl",
		`{"paper_id":"b","discipline":"Physics","abstract":{"text":"y"}}`+"\n")

	runner, err := NewRunner(testConfig(sourceDir, outputDir), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, runner.Run(context.Background()))

	for _, year := range []string{"2020", "2021"} {
		papers := readCleaned(t, filepath.Join(outputDir, year, "cleaned_physics.jsonl"))
		assert.Len(t, papers, 1, "year %s", year)
	}
}

func TestNewRunner_RejectsBadCompression(t *testing.T) {
	cfg := testConfig(t.TempDir(), t.TempDir())
	cfg.Compression = "brotli"

	_, err := NewRunner(cfg, zap.NewNop())
	assert.Error(t, err)
}
