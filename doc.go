// Package scholarpipe cleans scientific-paper corpora at scale. It rewrites
// inline formula and citation markers into stable placeholder tokens with
// per-document lookup tables, streaming each (year, field) partition through
// a memory-adaptive parallel pipeline.
//
// # Architecture
//
// The pipeline is built from four cooperating pieces:
//
// 1. Streaming source: shard files are read one at a time with a bounded
// buffer, so a partition of any size holds at most one shard's remainder in
// memory (pkg/source).
//
// 2. Chunked dispatch: documents are drawn in batches, fanned out to a
// worker pool, and emitted in strict input order. The pool is rebuilt per
// batch so concurrency adjustments take effect without losing stream
// position (internal/pipeline).
//
// 3. Memory governor: system memory utilization is sampled after every
// emitted record; sustained pressure sheds workers and halves batch sizes,
// monotonically, down to a floor of one worker with one-document batches
// (internal/pipeline).
//
// 4. Incremental sink: every cleaned record is flushed and synced before the
// next is processed, so an interrupted run leaves a valid prefix and resumes
// at partition granularity (pkg/sink).
//
// # Quick Start
//
// Clean one discipline of a corpus laid out <source>/<year>/*.jsonl:
//
//	scholarpipe clean --source /corpus --output /corpus/cleaned/physics --field Physics
//
// Then generate per-partition parquet embeddings:
//
//	scholarpipe embed --cleaned /corpus/cleaned/physics
package scholarpipe
