package stream

import (
	"encoding/binary"
	"math"
)

// Reader decodes little-endian fields from a byte slice. The first read past
// the end sets a sticky ErrTruncated; later reads return zero values.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns ErrTruncated if any read ran past the end.
func (r *Reader) Err() error { return r.err }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = ErrTruncated
		r.off = len(r.data)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadU8 reads 1 byte.
func (r *Reader) ReadU8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadU32 reads 4 bytes as little-endian uint32.
func (r *Reader) ReadU32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadI32 reads 4 bytes as little-endian int32.
func (r *Reader) ReadI32() int32 { return int32(r.ReadU32()) }

// ReadU64 reads 8 bytes as little-endian uint64.
func (r *Reader) ReadU64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadI64 reads 8 bytes as little-endian int64.
func (r *Reader) ReadI64() int64 { return int64(r.ReadU64()) }

// ReadF32 reads an IEEE-754 float32.
func (r *Reader) ReadF32() float32 { return math.Float32frombits(r.ReadU32()) }

// ReadF64 reads an IEEE-754 float64.
func (r *Reader) ReadF64() float64 { return math.Float64frombits(r.ReadU64()) }

// ReadBool reads one byte; any non-zero value is true.
func (r *Reader) ReadBool() bool { return r.ReadU8() != 0 }

// ReadString reads a uint32 length followed by UTF-8 bytes.
func (r *Reader) ReadString() string {
	n := r.ReadU32()
	return string(r.take(int(n)))
}

// ReadBytes returns the next n bytes. The slice aliases the input.
func (r *Reader) ReadBytes(n int) []byte {
	return r.take(n)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}
