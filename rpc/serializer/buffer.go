package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ValentinKolb/dHA/rpc/common"
)

// --------------------------------------------------------------------------
// Write helpers (big endian, appended to a reusable buffer)
// --------------------------------------------------------------------------

func writeByte(w *bytes.Buffer, v byte) {
	w.WriteByte(v)
}

func writeInt32(w *bytes.Buffer, v int32) {
	w.Write(binary.BigEndian.AppendUint32(w.AvailableBuffer(), uint32(v)))
}

func writeInt64(w *bytes.Buffer, v int64) {
	w.Write(binary.BigEndian.AppendUint64(w.AvailableBuffer(), uint64(v)))
}

// writeString writes a string as int32 byte length followed by its UTF-8 bytes
func writeString(w *bytes.Buffer, s string) error {
	if len(s) > math.MaxInt32 {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	writeInt32(w, int32(len(s)))
	w.WriteString(s)
	return nil
}

// patchInt32 overwrites four bytes at offset pos
func patchInt32(w *bytes.Buffer, pos int, v int32) {
	binary.BigEndian.PutUint32(w.Bytes()[pos:pos+4], uint32(v))
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// reader decodes a payload. The first error is sticky: once set, every
// further read returns a zero value and err keeps the original cause.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]interface{}{common.ErrMalformedFrame}, args...)...)
	}
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.remaining() < n {
		r.fail("data too short for %s", what)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) byte(what string) byte {
	b := r.take(1, what)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) int32(what string) int32 {
	b := r.take(4, what)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *reader) int64(what string) int64 {
	b := r.take(8, what)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// length reads an int32 length and rejects negative values and values that
// cannot fit in the remaining data (each element needs at least elemSize bytes)
func (r *reader) length(what string, elemSize int) int {
	n := r.int32(what + " length")
	if r.err != nil {
		return 0
	}
	if n < 0 || (elemSize > 0 && int(n) > r.remaining()/elemSize) {
		r.fail("invalid %s length %d", what, n)
		return 0
	}
	return int(n)
}

func (r *reader) string(what string) string {
	n := r.length(what, 1)
	b := r.take(n, what)
	if b == nil {
		return ""
	}
	return string(b)
}

// finish returns the first decoding error or an error if unread bytes remain
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.remaining() != 0 {
		return fmt.Errorf("%w: %d unexpected trailing bytes", common.ErrMalformedFrame, r.remaining())
	}
	return nil
}
