// Package ring implements the fixed-size circular byte buffer shared by a
// connection's two channels. Each buffer maps an absolute byte offset to an
// octet over a fixed capacity; the input region `[p, p+i)` and the output
// region `[p-o, p)` (both modulo size) never overlap and never exceed size
// together. Every mutating primitive returns a signed displacement that the
// caller must apply to any absolute offset it is still holding (header index
// entries, parser cursors, ...).
package ring

import "errors"

// ErrNoRoom is returned by Insert when the write would grow input past the
// capacity reserved for rewrites. Replace reports the same condition by
// returning a zero displacement instead.
var ErrNoRoom = errors.New("ring: no room")

// ErrRealignNotAllowed is returned by Realign when output is still pending;
// realigning would silently drop bytes the caller has not yet consumed.
var ErrRealignNotAllowed = errors.New("ring: realign requires o == 0")

// Buffer is a fixed-capacity circular byte buffer.
//
// Invariants (see spec §3 "Ring buffer"):
//   - input occupies [p, p+i) mod size
//   - output occupies [p-o, p) mod size
//   - i + o <= size
type Buffer struct {
	data []byte
	size int

	p int // logical start of input, relative to data[0]
	i int // length of unread input
	o int // length of output already committed

	// Reserve is the rewrite margin (§4.1): inserts must never push `i`
	// past size-Reserve. New leaves it at 0; the caller sets it (see
	// SPEC_FULL §B.2 for how the CLI resolves a human size string into
	// this integer before it ever reaches Buffer).
	Reserve int
}

// New allocates a Buffer of the given capacity.
func New(size int) *Buffer {
	if size <= 0 {
		panic("ring: size must be positive")
	}
	return &Buffer{data: make([]byte, size), size: size}
}

// Len returns the capacity of the buffer.
func (b *Buffer) Len() int { return b.size }

// InputLen returns the number of unread input bytes.
func (b *Buffer) InputLen() int { return b.i }

// OutputLen returns the number of committed-but-unflushed output bytes.
func (b *Buffer) OutputLen() int { return b.o }

// Start returns the logical start-of-input offset. Absolute offsets used by
// callers (parser cursors, header index entries) are always relative to
// this value at the time they were recorded; Realign changes it.
func (b *Buffer) Start() int { return b.p }

func (b *Buffer) wrap(off int) int {
	m := off % b.size
	if m < 0 {
		m += b.size
	}
	return m
}

// ReadAt returns the byte at absolute offset off (off is relative to the
// same origin as Start(), i.e. b.p is the "0" of the input region).
func (b *Buffer) ReadAt(off int) byte {
	return b.data[b.wrap(b.p+off)]
}

// SliceContiguous returns the longest contiguous view starting at absolute
// offset off, up to maxLen bytes, not crossing the physical end of the
// underlying array. Callers must loop (using the returned length) to read
// spans that wrap.
func (b *Buffer) SliceContiguous(off, maxLen int) []byte {
	start := b.wrap(b.p + off)
	end := start + maxLen
	if end > b.size {
		end = b.size
	}
	return b.data[start:end]
}

// Advance converts n bytes of input into output, moving p forward by n.
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.i {
		panic("ring: advance out of range")
	}
	b.p = b.wrap(b.p + n)
	b.i -= n
	b.o += n
}

// Consume drops n bytes of already-forwarded output (the reader side freeing
// space for more input); it is the mirror of Advance for the output side.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.o {
		panic("ring: consume out of range")
	}
	b.o -= n
}

// AppendInput writes raw bytes onto the tail of the input region, e.g. newly
// read network data. Returns the number of bytes actually written (may be
// less than len(p) if the buffer fills, respecting Reserve).
func (b *Buffer) AppendInput(p []byte) int {
	free := b.size - b.Reserve - b.i - b.o
	if free <= 0 {
		return 0
	}
	if len(p) > free {
		p = p[:free]
	}
	start := b.wrap(b.p + b.i)
	n := copy(b.data[start:], p)
	if n < len(p) {
		copy(b.data[0:], p[n:])
	}
	b.i += len(p)
	return len(p)
}

// Insert writes text at absolute offset at, shifting any input bytes from
// at onward forward by len(text). at must lie within [0, i]. Returns the
// displacement (always len(text)) on success, or ErrNoRoom if the insert
// would breach the reserved rewrite margin.
func (b *Buffer) Insert(at int, text []byte) (int, error) {
	if at < 0 || at > b.i {
		panic("ring: insert offset out of range")
	}
	delta := len(text)
	if delta == 0 {
		return 0, nil
	}
	if b.i+delta > b.size-b.Reserve {
		return 0, ErrNoRoom
	}

	// Shift [at, i) forward by delta, walking from the tail so the regions
	// may overlap safely even though the buffer is circular.
	for idx := b.i - 1; idx >= at; idx-- {
		srcOff := b.wrap(b.p + idx)
		dstOff := b.wrap(b.p + idx + delta)
		b.data[dstOff] = b.data[srcOff]
	}
	for k := 0; k < delta; k++ {
		dstOff := b.wrap(b.p + at + k)
		b.data[dstOff] = text[k]
	}
	b.i += delta
	return delta, nil
}

// Delete removes the byte range [from, to) of the input region, shifting
// subsequent bytes back. Returns the (negative) displacement.
func (b *Buffer) Delete(from, to int) int {
	if from < 0 || to > b.i || from > to {
		panic("ring: delete range out of range")
	}
	n := to - from
	if n == 0 {
		return 0
	}
	for idx := to; idx < b.i; idx++ {
		srcOff := b.wrap(b.p + idx)
		dstOff := b.wrap(b.p + idx - n)
		b.data[dstOff] = b.data[srcOff]
	}
	b.i -= n
	return -n
}

// Replace atomically deletes [from, to) and inserts text in its place.
// delta = len(text) - (to-from). Returns 0 (and leaves the buffer
// unmodified) if the net growth would breach the reserved margin.
func (b *Buffer) Replace(from, to int, text []byte) int {
	if from < 0 || to > b.i || from > to {
		panic("ring: replace range out of range")
	}
	removed := to - from
	added := len(text)
	delta := added - removed
	if delta > 0 && b.i+delta > b.size-b.Reserve {
		return 0
	}
	if removed > 0 {
		b.Delete(from, to)
	}
	if added > 0 {
		// Insert cannot fail here: the margin check above already accounts
		// for the net growth.
		if _, err := b.Insert(from, text); err != nil {
			return 0
		}
	}
	return delta
}

// Realign copies the unread input to the start of the underlying storage so
// that subsequent contiguous slices are maximal. Only permitted when no
// output is pending (o == 0): realigning while output exists would require
// either losing it or shifting it too, and no caller needs that.
func (b *Buffer) Realign() error {
	if b.o != 0 {
		return ErrRealignNotAllowed
	}
	if b.p == 0 {
		return nil
	}
	tmp := make([]byte, b.i)
	for idx := 0; idx < b.i; idx++ {
		tmp[idx] = b.data[b.wrap(b.p+idx)]
	}
	copy(b.data, tmp)
	b.p = 0
	return nil
}

// Reset empties the buffer entirely (transaction teardown / keep-alive
// reset per spec §3 "Destroyed at transaction reset").
func (b *Buffer) Reset() {
	b.p, b.i, b.o = 0, 0, 0
}
