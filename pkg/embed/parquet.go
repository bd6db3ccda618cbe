package embed

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	pqcompress "github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/scholarpipe/scholarpipe/pkg/compress"
	"github.com/scholarpipe/scholarpipe/pkg/models"
	"github.com/scholarpipe/scholarpipe/pkg/piperrors"
)

const writeBatchRows = 128

// embeddingSchema is the parquet layout: one row per paper, with the body
// vectors nested as a list of lists in section order.
var embeddingSchema = arrow.NewSchema([]arrow.Field{
	{Name: "paper_id", Type: arrow.BinaryTypes.String},
	{Name: "abstract_embedding", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	{Name: "body_embeddings", Type: arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Float32))},
}, nil)

// Runner embeds cleaned partition files and writes one parquet file per
// partition. A partition whose parquet output already exists is skipped, so
// interrupted runs resume at partition granularity.
type Runner struct {
	embedder Embedder
	logger   *zap.Logger
}

// NewRunner creates an embedding runner.
func NewRunner(embedder Embedder, logger *zap.Logger) *Runner {
	return &Runner{embedder: embedder, logger: logger}
}

// Run walks cleanedDir (the cleaning pipeline's output root, laid out
// <cleanedDir>/<year>/cleaned_<field>.jsonl) and embeds every partition
// file found.
func (r *Runner) Run(ctx context.Context, cleanedDir string) error {
	years, err := os.ReadDir(cleanedDir)
	if err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to read cleaned directory").
			WithDetail("dir", cleanedDir)
	}

	for _, yearEntry := range years {
		if !yearEntry.IsDir() {
			continue
		}
		year := yearEntry.Name()
		yearDir := filepath.Join(cleanedDir, year)

		files, err := partitionFiles(yearDir)
		if err != nil {
			return err
		}

		for _, cleanedPath := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			outPath := parquetPath(yearDir, year, cleanedPath)
			if _, err := os.Stat(outPath); err == nil {
				r.logger.Info("parquet exists, skipping partition",
					zap.String("output", outPath))
				continue
			}
			if err := r.processPartition(ctx, cleanedPath, outPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// processPartition embeds every paper in one cleaned partition file and
// writes the parquet output.
func (r *Runner) processPartition(ctx context.Context, cleanedPath, outPath string) error {
	log := r.logger.With(zap.String("input", cleanedPath))
	log.Info("embedding partition", zap.String("output", outPath))

	file, err := os.Open(cleanedPath) //nolint:gosec // G304: path comes from directory walk
	if err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to open cleaned partition").
			WithDetail("path", cleanedPath)
	}
	defer file.Close()

	reader, err := compress.NewReader(bufio.NewReader(file), compress.Detect(cleanedPath))
	if err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to open cleaned partition").
			WithDetail("path", cleanedPath)
	}
	defer reader.Close()

	writer, err := newPartitionWriter(outPath)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNum := 0
	papers := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			writer.abort()
			return err
		}

		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cleaned models.CleanedPaper
		if err := gojson.Unmarshal(line, &cleaned); err != nil {
			writer.abort()
			return piperrors.Wrap(err, piperrors.ErrorTypeDecode, "invalid cleaned record").
				WithDetail("path", cleanedPath).
				WithDetail("line", lineNum)
		}

		embedded, err := ProcessPaper(ctx, r.embedder, &cleaned)
		if err != nil {
			writer.abort()
			return piperrors.Wrap(err, piperrors.ErrorTypeWorker, "embedding failed").
				WithDetail("paper_id", cleaned.PaperID)
		}

		if err := writer.append(embedded); err != nil {
			writer.abort()
			return err
		}
		papers++
	}

	if err := scanner.Err(); err != nil {
		writer.abort()
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "cleaned partition read failed").
			WithDetail("path", cleanedPath)
	}

	if err := writer.close(); err != nil {
		return err
	}
	log.Info("partition embedded", zap.Int("papers", papers))
	return nil
}

// partitionWriter accumulates rows into arrow record batches and streams
// them into a parquet file.
type partitionWriter struct {
	path       string
	file       *os.File
	fileWriter *pqarrow.FileWriter
	builder    *array.RecordBuilder
	pending    int
}

func newPartitionWriter(path string) (*partitionWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to create output directory").
			WithDetail("path", path)
	}

	file, err := os.Create(path) //nolint:gosec
	if err != nil {
		return nil, piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to create parquet file").
			WithDetail("path", path)
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(pqcompress.Codecs.Snappy),
	)
	arrowProps := pqarrow.NewArrowWriterProperties()

	fileWriter, err := pqarrow.NewFileWriter(embeddingSchema, file, props, arrowProps)
	if err != nil {
		file.Close()
		return nil, piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to create parquet writer").
			WithDetail("path", path)
	}

	return &partitionWriter{
		path:       path,
		file:       file,
		fileWriter: fileWriter,
		builder:    array.NewRecordBuilder(memory.NewGoAllocator(), embeddingSchema),
	}, nil
}

func (w *partitionWriter) append(paper *EmbeddedPaper) error {
	idBuilder := w.builder.Field(0).(*array.StringBuilder)
	abstractBuilder := w.builder.Field(1).(*array.ListBuilder)
	abstractValues := abstractBuilder.ValueBuilder().(*array.Float32Builder)
	bodyBuilder := w.builder.Field(2).(*array.ListBuilder)
	sectionBuilder := bodyBuilder.ValueBuilder().(*array.ListBuilder)
	sectionValues := sectionBuilder.ValueBuilder().(*array.Float32Builder)

	idBuilder.Append(paper.PaperID)

	abstractBuilder.Append(true)
	abstractValues.AppendValues(paper.AbstractEmbedding, nil)

	bodyBuilder.Append(true)
	for _, vec := range paper.BodyEmbeddings {
		sectionBuilder.Append(true)
		sectionValues.AppendValues(vec, nil)
	}

	w.pending++
	if w.pending >= writeBatchRows {
		return w.flush()
	}
	return nil
}

func (w *partitionWriter) flush() error {
	if w.pending == 0 {
		return nil
	}
	record := w.builder.NewRecord()
	defer record.Release()

	if err := w.fileWriter.WriteBuffered(record); err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeWrite, "failed to write parquet batch").
			WithDetail("path", w.path)
	}
	w.pending = 0
	return nil
}

func (w *partitionWriter) close() error {
	if err := w.flush(); err != nil {
		return err
	}
	w.builder.Release()
	if err := w.fileWriter.Close(); err != nil {
		w.file.Close()
		return piperrors.Wrap(err, piperrors.ErrorTypeWrite, "failed to close parquet writer").
			WithDetail("path", w.path)
	}
	if err := w.file.Close(); err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to close parquet file").
			WithDetail("path", w.path)
	}
	return nil
}

// abort tears the writer down and removes the partial parquet file so the
// partition is retried on the next run.
func (w *partitionWriter) abort() {
	w.builder.Release()
	w.fileWriter.Close()
	w.file.Close()
	os.Remove(w.path)
}

func partitionFiles(yearDir string) ([]string, error) {
	entries, err := os.ReadDir(yearDir)
	if err != nil {
		return nil, piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to read year directory").
			WithDetail("dir", yearDir)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "cleaned_") {
			continue
		}
		if strings.Contains(name, ".jsonl") {
			files = append(files, filepath.Join(yearDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// parquetPath names the parquet output <year>_<field>.parquet next to the
// cleaned partition file.
func parquetPath(yearDir, year, cleanedPath string) string {
	base := filepath.Base(cleanedPath)
	field := strings.TrimPrefix(base, "cleaned_")
	if idx := strings.Index(field, ".jsonl"); idx >= 0 {
		field = field[:idx]
	}
	return filepath.Join(yearDir, year+"_"+field+".parquet")
}
