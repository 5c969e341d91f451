// Package seq implements the eBUS sequence buffer: an ordered byte
// container that remembers both the raw (escaped, as on wire) and the
// extended (unescaped) view of a telegram fragment and can produce either
// on demand.
package seq

import "github.com/mlanger/ebusgw/symbol"

// Buffer holds one canonical byte vector plus a cached derivation of the
// other view. Pushing invalidates the cache; Extend (or Extended)
// recomputes it.
type Buffer struct {
	raw       []byte // canonical wire form
	extended  []byte // cached unescaped form
	extCached bool
}

// Push appends one wire byte (already escaped, as observed on the bus or
// as synthesized for transmission). alreadyRaw is always true in practice
// for this type; it is kept for symmetry with the source design and to let
// callers push a raw ESC/follower pair without re-deriving it.
func (b *Buffer) Push(value byte, alreadyRaw bool) {
	_ = alreadyRaw
	b.raw = append(b.raw, value)
	b.extCached = false
}

// PushPayload appends payload (extended) bytes, escaping them onto the raw
// form immediately.
func (b *Buffer) PushPayload(payload ...byte) {
	b.raw = symbol.Escape(b.raw, payload)
	b.extCached = false
}

// Extend re-derives the extended form from the raw form. It fails with
// symbol.ErrInvalidEscape if the raw form is malformed.
func (b *Buffer) Extend() error {
	ext, err := symbol.Unescape(b.extended[:0], b.raw)
	if err != nil {
		b.extCached = false
		return err
	}
	b.extended = ext
	b.extCached = true
	return nil
}

// Extended returns the extended (unescaped) view, computing and caching it
// if necessary. The returned slice is only valid until the next mutation.
func (b *Buffer) Extended() ([]byte, error) {
	if !b.extCached {
		if err := b.Extend(); err != nil {
			return nil, err
		}
	}
	return b.extended, nil
}

// Raw returns the wire (escaped) view.
func (b *Buffer) Raw() []byte { return b.raw }

// ToVector is an alias for Raw, matching the wire representation that would
// be written to the bus.
func (b *Buffer) ToVector() []byte { return b.Raw() }

// Size returns the number of raw (wire) bytes held.
func (b *Buffer) Size() int { return len(b.raw) }

// At returns the raw byte at position i.
func (b *Buffer) At(i int) byte { return b.raw[i] }

// Clear empties the buffer, retaining underlying storage for reuse.
func (b *Buffer) Clear() {
	b.raw = b.raw[:0]
	b.extended = b.extended[:0]
	b.extCached = false
}
