// Package source streams qualifying paper records out of newline-delimited
// JSON shard files. Shards are read one at a time with a bounded buffer, so
// a partition of any size holds at most one shard's unread remainder in
// memory. A source is re-invocable: every Stream or Count call scans the
// same shards from the start, which supports counting a partition before
// processing it without retaining records.
package source

import (
	"bufio"
	"context"
	"os"

	gojson "github.com/goccy/go-json"

	"github.com/scholarpipe/scholarpipe/pkg/compress"
	"github.com/scholarpipe/scholarpipe/pkg/models"
	"github.com/scholarpipe/scholarpipe/pkg/piperrors"
)

const defaultBufferSize = 1024 * 1024

// PaperSource produces the lazy sequence of papers in a set of shards whose
// discipline matches a discriminator value.
type PaperSource struct {
	shardPaths []string
	discipline string
	bufferSize int
}

// Option configures a PaperSource.
type Option func(*PaperSource)

// WithBufferSize sets the maximum line length the shard scanner accepts.
func WithBufferSize(n int) Option {
	return func(s *PaperSource) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// New creates a source over the given shard files. Records whose discipline
// field does not equal discipline are filtered out.
func New(shardPaths []string, discipline string, opts ...Option) *PaperSource {
	s := &PaperSource{
		shardPaths: shardPaths,
		discipline: discipline,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream begins a fresh scan and returns a record channel plus an error
// channel. The record channel is closed at end of stream; a decode or file
// error is sent on the error channel and terminates the scan. Cancel ctx to
// abandon the scan early.
func (s *PaperSource) Stream(ctx context.Context) (<-chan *models.RawPaper, <-chan error) {
	records := make(chan *models.RawPaper)
	errc := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errc)

		err := s.scan(ctx, func(paper *models.RawPaper) error {
			select {
			case records <- paper:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			errc <- err
		}
	}()

	return records, errc
}

// Count scans the shards and returns the number of qualifying records
// without retaining any of them.
func (s *PaperSource) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(*models.RawPaper) error {
		n++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// scan reads every shard in order, decoding one record per line and calling
// fn for each qualifying record. A line that is not valid JSON or lacks a
// paper_id aborts the scan; a blank line is skipped.
func (s *PaperSource) scan(ctx context.Context, fn func(*models.RawPaper) error) error {
	for _, path := range s.shardPaths {
		if err := s.scanShard(ctx, path, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *PaperSource) scanShard(ctx context.Context, path string, fn func(*models.RawPaper) error) error {
	file, err := os.Open(path) //nolint:gosec // G304: shard paths come from discovery
	if err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to open shard").
			WithDetail("shard", path)
	}
	defer file.Close()

	reader, err := compress.NewReader(bufio.NewReaderSize(file, 64*1024), compress.Detect(path))
	if err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to open compressed shard").
			WithDetail("shard", path)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), s.bufferSize)

	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var paper models.RawPaper
		if err := gojson.Unmarshal(line, &paper); err != nil {
			return piperrors.Wrap(err, piperrors.ErrorTypeDecode, "invalid JSON record").
				WithDetail("shard", path).
				WithDetail("line", lineNum)
		}
		if paper.PaperID == "" {
			return piperrors.New(piperrors.ErrorTypeDecode, "record missing paper_id").
				WithDetail("shard", path).
				WithDetail("line", lineNum)
		}

		if paper.Discipline != s.discipline {
			continue
		}

		if err := fn(&paper); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "shard read failed").
			WithDetail("shard", path).
			WithDetail("line", lineNum)
	}
	return nil
}
