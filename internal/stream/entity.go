// Package stream encodes and decodes the binary entity format used by
// prefab and scene resources.
//
// A stream is a header followed by records until the end of the data:
//
//	header:    magic u32, version u32, [spawnable u32 for prefabs]
//	record:    entity i64 (<= 0 allocates a new id), count u32, components
//	component: type u64, length u32, payload
//
// All integers are little-endian.
package stream

import (
	"errors"
	"fmt"
)

// Kind selects the header variant.
type Kind uint8

const (
	KindPrefab Kind = iota
	KindScene
)

func (k Kind) String() string {
	if k == KindScene {
		return "scene"
	}
	return "prefab"
}

const (
	PrefabMagic uint32 = 0x50465242 // "PFRB"
	SceneMagic  uint32 = 0x53434E42 // "SCNB"
	Version     uint32 = 1
)

var (
	ErrBadMagic   = errors.New("stream: bad magic")
	ErrBadVersion = errors.New("stream: unsupported version")
	ErrTruncated  = errors.New("stream: truncated")
)

// Header opens every stream. Spawnable is only stored for prefabs.
type Header struct {
	Kind      Kind
	Version   uint32
	Spawnable bool
}

func (h Header) magic() uint32 {
	if h.Kind == KindScene {
		return SceneMagic
	}
	return PrefabMagic
}

// Component is one serialized component inside a record.
type Component struct {
	Type    uint64
	Payload []byte
}

// Record is one entity and its components. EntityID <= 0 asks the loader to
// allocate a fresh id.
type Record struct {
	EntityID   int64
	Components []Component
}

// WriteHeader writes h. A zero Version is written as the current Version.
func WriteHeader(w *Writer, h Header) {
	v := h.Version
	if v == 0 {
		v = Version
	}
	w.WriteU32(h.magic())
	w.WriteU32(v)
	if h.Kind == KindPrefab {
		var spawnable uint32
		if h.Spawnable {
			spawnable = 1
		}
		w.WriteU32(spawnable)
	}
}

// ReadHeader reads a header of the expected kind.
func ReadHeader(r *Reader, kind Kind) (Header, error) {
	h := Header{Kind: kind}
	magic := r.ReadU32()
	h.Version = r.ReadU32()
	if kind == KindPrefab {
		h.Spawnable = r.ReadU32() != 0
	}
	if err := r.Err(); err != nil {
		return h, fmt.Errorf("read %s header: %w", kind, err)
	}
	if magic != h.magic() {
		return h, fmt.Errorf("%w: %#08x for %s", ErrBadMagic, magic, kind)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	return h, nil
}

// WriteRecord writes one entity record.
func WriteRecord(w *Writer, rec Record) {
	w.WriteI64(rec.EntityID)
	w.WriteU32(uint32(len(rec.Components)))
	for _, c := range rec.Components {
		w.WriteU64(c.Type)
		w.WriteU32(uint32(len(c.Payload)))
		w.WriteBytes(c.Payload)
	}
}

// ReadRecord reads one entity record. Payloads alias the reader's data.
func ReadRecord(r *Reader) (Record, error) {
	var rec Record
	rec.EntityID = r.ReadI64()
	count := r.ReadU32()
	if err := r.Err(); err != nil {
		return rec, err
	}
	// each component needs at least 12 bytes, so a huge count cannot be honest
	if uint64(count)*12 > uint64(r.Remaining()) {
		return rec, fmt.Errorf("%w: %d components in %d bytes", ErrTruncated, count, r.Remaining())
	}
	rec.Components = make([]Component, 0, count)
	for i := uint32(0); i < count; i++ {
		typ := r.ReadU64()
		n := r.ReadU32()
		payload := r.ReadBytes(int(n))
		if err := r.Err(); err != nil {
			return rec, fmt.Errorf("component %d of entity %d: %w", i, rec.EntityID, err)
		}
		rec.Components = append(rec.Components, Component{Type: typ, Payload: payload})
	}
	return rec, nil
}

// Encode serializes a whole stream.
func Encode(h Header, records []Record) []byte {
	w := NewWriter()
	WriteHeader(w, h)
	for _, rec := range records {
		WriteRecord(w, rec)
	}
	return w.Bytes()
}

// Parse decodes a whole stream of the given kind. It fails on the first
// malformed byte and returns no records in that case.
func Parse(data []byte, kind Kind) (Header, []Record, error) {
	r := NewReader(data)
	h, err := ReadHeader(r, kind)
	if err != nil {
		return h, nil, err
	}
	var records []Record
	for r.Remaining() > 0 {
		rec, err := ReadRecord(r)
		if err != nil {
			return h, nil, fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return h, records, nil
}
