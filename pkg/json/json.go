// Package json provides pooled JSON encoding on top of goccy/go-json
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// maxPooledBuffer caps the buffers returned to the pool
const maxPooledBuffer = 1024 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}

// Marshal is goccy's Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is goccy's Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is goccy's MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// LineWriter writes values as JSON Lines. Values implementing
// json.Marshaler are written with their own encoding.
type LineWriter struct {
	w     io.Writer
	buf   *bytes.Buffer
	enc   *gojson.Encoder
	count int
}

// NewLineWriter creates a writer over w. Call Close to release its buffer.
func NewLineWriter(w io.Writer) *LineWriter {
	buf := GetBuffer()
	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &LineWriter{w: w, buf: buf, enc: enc}
}

// Write encodes v followed by a newline
func (lw *LineWriter) Write(v interface{}) error {
	lw.buf.Reset()

	if m, ok := v.(gojson.Marshaler); ok {
		data, err := m.MarshalJSON()
		if err != nil {
			return err
		}
		lw.buf.Write(data)
		lw.buf.WriteByte('\n')
	} else if err := lw.enc.Encode(v); err != nil {
		// Encode appends its own newline and leaves HTML characters as is
		return err
	}
	if _, err := lw.w.Write(lw.buf.Bytes()); err != nil {
		return err
	}
	lw.count++
	return nil
}

// Count returns the number of lines written
func (lw *LineWriter) Count() int {
	return lw.count
}

// Close releases the pooled buffer. It does not close the underlying writer.
func (lw *LineWriter) Close() error {
	PutBuffer(lw.buf)
	lw.buf = nil
	return nil
}

// SplitLines returns the non-empty lines of a JSON Lines payload
func SplitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}
