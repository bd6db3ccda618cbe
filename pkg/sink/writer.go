// Package sink appends transformed records to a partition's output file,
// one self-contained JSON line at a time. Every append is flushed and
// synced before control returns, so a crash after N appends leaves exactly
// N parseable lines. Nothing is buffered across appends: the memory
// governor samples between records and its view must include the cost of
// everything already written.
package sink

import (
	"os"
	"path/filepath"

	"github.com/scholarpipe/scholarpipe/pkg/compress"
	"github.com/scholarpipe/scholarpipe/pkg/jsonio"
	"github.com/scholarpipe/scholarpipe/pkg/piperrors"
)

// ResultWriter writes newline-delimited JSON records in append mode.
type ResultWriter struct {
	file           *os.File
	comp           compress.FlushWriter
	path           string
	recordsWritten int64
}

// OutputPath returns the on-disk path for a partition output, including the
// compression extension when one applies. Callers use the same rule to
// check whether a partition is already complete.
func OutputPath(path string, algo compress.Algorithm) string {
	switch algo {
	case compress.Gzip:
		return path + ".gz"
	default:
		return path
	}
}

// Open opens (creating if needed) the output file in append mode. Parent
// directories are created. The compression algorithm must support per-record
// flushing; see compress.NewWriter.
func Open(path string, algo compress.Algorithm) (*ResultWriter, error) {
	path = OutputPath(path, algo)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to create output directory").
			WithDetail("path", path)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec
	if err != nil {
		return nil, piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to open output file").
			WithDetail("path", path)
	}

	comp, err := compress.NewWriter(file, algo)
	if err != nil {
		file.Close()
		return nil, piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to create output writer").
			WithDetail("path", path)
	}

	return &ResultWriter{
		file: file,
		comp: comp,
		path: path,
	}, nil
}

// Path returns the path actually written to, extension included.
func (w *ResultWriter) Path() string {
	return w.path
}

// RecordsWritten returns the number of records appended so far.
func (w *ResultWriter) RecordsWritten() int64 {
	return w.recordsWritten
}

// Append serializes record as one line, writes it, and flushes through to
// the file before returning.
func (w *ResultWriter) Append(record interface{}) error {
	buf := jsonio.GetBuffer()
	defer jsonio.PutBuffer(buf)

	if err := jsonio.EncodeLine(buf, record); err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeWrite, "failed to encode record").
			WithDetail("path", w.path)
	}

	if _, err := w.comp.Write(buf.Bytes()); err != nil {
		return w.writeErr(err)
	}
	if err := w.comp.Flush(); err != nil {
		return w.writeErr(err)
	}
	if err := w.file.Sync(); err != nil {
		return w.writeErr(err)
	}

	w.recordsWritten++
	return nil
}

// Close flushes any trailer the compressor needs and closes the file.
func (w *ResultWriter) Close() error {
	if err := w.comp.Close(); err != nil {
		return w.writeErr(err)
	}
	if err := w.file.Close(); err != nil {
		return piperrors.Wrap(err, piperrors.ErrorTypeFile, "failed to close output file").
			WithDetail("path", w.path)
	}
	return nil
}

func (w *ResultWriter) writeErr(err error) error {
	return piperrors.Wrap(err, piperrors.ErrorTypeWrite, "failed to write record").
		WithDetail("path", w.path)
}
