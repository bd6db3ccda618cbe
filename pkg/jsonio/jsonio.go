// Package jsonio pools the buffers behind the pipeline's hot-path JSON
// encoding. Every cleaned record is serialized once per append; reusing
// buffers keeps that path from allocating per record.
package jsonio

import (
	"bytes"
	"sync"

	gojson "github.com/goccy/go-json"
)

// Buffers larger than this are dropped instead of pooled so one oversized
// record cannot pin memory for the rest of the run.
const maxPooledBuffer = 1 << 20

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer returns an empty pooled buffer.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// EncodeLine appends v to buf as one newline-terminated JSON line.
func EncodeLine(buf *bytes.Buffer, v interface{}) error {
	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
