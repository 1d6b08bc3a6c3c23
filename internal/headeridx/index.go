// Package headeridx implements the ordered linked index over header lines
// living inside a ring.Buffer (spec §4.2). It is a dense arena of entries
// addressed by index, not a map of owning pointers (spec §9 "Header index
// as arena+indices"): entry 0 is a sentinel holding the offset of the first
// header (relative to start-of-message) and the index of the first real
// entry; free entries form an implicit freelist found by scanning for
// len==0.
package headeridx

import (
	"strings"

	"github.com/jbuchbinder/haproxy/internal/ring"
)

// ErrNoSpace is returned by Add when the arena is full.
type ErrNoSpace struct{}

func (ErrNoSpace) Error() string { return "headeridx: no space for new entry" }

// entry mirrors spec §3 "Header index entry": { len, cr, next }. len is the
// length of the header line (start-of-line to the last byte before CR/LF);
// cr records whether the line terminator was CRLF (1) or bare LF (0); next
// is the index of the following entry in display (wire) order. off is the
// entry's absolute start-of-line offset, kept alongside purely so lookups
// don't need a second parallel slice.
type entry struct {
	off  int
	len  int
	cr   int
	next int
}

// Index is the per-transaction header index. One Index belongs to exactly
// one Transaction (spec §3 "Ownership").
type Index struct {
	buf     *ring.Buffer
	entries []entry // entries[0] is the sentinel
	used    int
	cap     int
}

// New allocates an Index with room for capacity real entries (plus the
// sentinel at 0).
func New(buf *ring.Buffer, capacity int) *Index {
	idx := &Index{buf: buf, entries: make([]entry, capacity+1), cap: capacity}
	idx.entries[0] = entry{next: 0}
	return idx
}

// Reset clears the index for transaction reuse, keeping the allocated
// arena (spec §9 "Global mutable state... process-wide pools").
func (idx *Index) Reset() {
	for i := range idx.entries {
		idx.entries[i] = entry{}
	}
	idx.used = 0
}

// Start records the offset of the first header line, right after the
// request/status line's terminator.
func (idx *Index) Start(endOfStartLine int, hasCR bool) {
	idx.entries[0].off = endOfStartLine
}

func boolToCR(b bool) int {
	if b {
		return 1
	}
	return 0
}

// firstFree scans for the first len==0 slot beyond the sentinel, the
// freelist-by-scan idiom spec §3 calls for.
func (idx *Index) firstFree() (int, bool) {
	for i := 1; i <= idx.cap; i++ {
		if idx.entries[i].len == 0 {
			return i, true
		}
	}
	return 0, false
}

// Add appends a new entry of the given line length after afterIdx (usually
// the current tail), linking it into display order. Returns the new
// entry's index.
func (idx *Index) Add(off, length int, hasCR bool, afterIdx int) (int, error) {
	slot, ok := idx.firstFree()
	if !ok {
		return 0, ErrNoSpace{}
	}
	idx.entries[slot] = entry{off: off, len: length, cr: boolToCR(hasCR), next: idx.entries[afterIdx].next}
	idx.entries[afterIdx].next = slot
	idx.used++
	return slot, nil
}

// FirstIdx returns the index of the first real header entry, or 0 if none.
func (idx *Index) FirstIdx() int { return idx.entries[0].next }

// Tail returns the index of the last header entry in display order, or 0
// (the sentinel) if the index is empty.
func (idx *Index) Tail() int {
	cur := 0
	for n := idx.entries[0].next; n != 0; n = idx.entries[n].next {
		cur = n
	}
	return cur
}

// Next returns the entry following ctxIdx in display order, or 0 at the end.
func (idx *Index) Next(ctxIdx int) int { return idx.entries[ctxIdx].next }

// Len reports the stored line length of entry i (excluding CR/LF).
func (idx *Index) Len(i int) int { return idx.entries[i].len }

// Offset reports the start-of-line offset of entry i.
func (idx *Index) Offset(i int) int { return idx.entries[i].off }

// HasCR reports whether entry i's line ends CRLF (true) or bare LF (false).
func (idx *Index) HasCR(i int) bool { return idx.entries[i].cr == 1 }

// Used reports the number of live entries.
func (idx *Index) Used() int { return idx.used }

// Ctx is returned by Find/IterateValue: it carries the value bounds within
// one header line plus enough bookkeeping to resume iteration or to remove
// the value it points at.
type Ctx struct {
	idx       int // owning entry index
	predIdx   int // predecessor entry index in display order (for Remove)
	valOffset int // absolute offset of the value start within the line
	vlen      int // value length, trailing whitespace trimmed
	tws       int // count of trailing whitespace bytes trimmed
}

func (c Ctx) EntryIdx() int   { return c.idx }
func (c Ctx) ValOffset() int  { return c.valOffset }
func (c Ctx) ValLen() int     { return c.vlen }
func (c Ctx) TrailingWS() int { return c.tws }

func (idx *Index) lineBytes(e entry) []byte {
	out := make([]byte, e.len)
	for i := 0; i < e.len; i++ {
		out[i] = idx.buf.ReadAt(e.off + i)
	}
	return out
}

// Find performs a case-insensitive name match starting after from (pass a
// zero Ctx to start from the first header). It returns the matching
// context and true, or false if no more headers named name exist.
func (idx *Index) Find(name string, from Ctx) (Ctx, bool) {
	start := idx.entries[0].next
	pred := 0
	if from.idx != 0 {
		start = idx.entries[from.idx].next
		pred = from.idx
	}
	canon := CanonicalHeaderKey(name)
	for cur := start; cur != 0; cur = idx.entries[cur].next {
		e := idx.entries[cur]
		line := idx.lineBytes(e)
		colon := indexByte(line, ':')
		if colon < 0 {
			pred = cur
			continue
		}
		fieldName := strings.TrimSpace(string(line[:colon]))
		if !strings.EqualFold(CanonicalHeaderKey(fieldName), canon) {
			pred = cur
			continue
		}
		valStart := colon + 1
		for valStart < len(line) && isLWS(line[valStart]) {
			valStart++
		}
		valEnd := len(line)
		tws := 0
		for valEnd > valStart && isLWS(line[valEnd-1]) {
			valEnd--
			tws++
		}
		return Ctx{
			idx:       cur,
			predIdx:   pred,
			valOffset: e.off + valStart,
			vlen:      valEnd - valStart,
			tws:       tws,
		}, true
	}
	return Ctx{}, false
}

func isLWS(b byte) bool { return b == ' ' || b == '\t' }

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// IterateValue advances ctx to the next comma-separated value on the same
// header line (RFC 2616 §2.2): skips LWS at the start, and respects quoted
// strings/backslash escapes when scanning for the terminating comma.
func (idx *Index) IterateValue(ctx Ctx) (Ctx, bool) {
	e := idx.entries[ctx.idx]
	line := idx.lineBytes(e)
	lineValEnd := e.len
	relStart := ctx.valOffset - e.off
	relCur := relStart + ctx.vlen + ctx.tws

	// Skip past the comma that ended the previous value, if any.
	for relCur < lineValEnd && isLWS(line[relCur]) {
		relCur++
	}
	if relCur >= lineValEnd || line[relCur] != ',' {
		return Ctx{}, false
	}
	relCur++
	for relCur < lineValEnd && isLWS(line[relCur]) {
		relCur++
	}
	if relCur >= lineValEnd {
		return Ctx{}, false
	}

	valStart := relCur
	inQuotes := false
	escaped := false
	valEnd := lineValEnd
	for i := relCur; i < lineValEnd; i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inQuotes:
			escaped = true
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			valEnd = i
			i = lineValEnd // break out
		}
		if valEnd != lineValEnd {
			break
		}
	}

	tws := 0
	for valEnd > valStart && isLWS(line[valEnd-1]) {
		valEnd--
		tws++
	}

	return Ctx{
		idx:       ctx.idx,
		predIdx:   ctx.predIdx,
		valOffset: e.off + valStart,
		vlen:      valEnd - valStart,
		tws:       tws,
	}, true
}

// Remove deletes the value ctx points at. If it is the sole value on the
// line, the entire header line (including its CR/LF) is removed; otherwise
// only the value and one surrounding comma are deleted. The offsets of
// later entries, and *eoh when eoh is non-nil, are shifted here; the
// returned displacement is for any other absolute offset the caller holds.
func (idx *Index) Remove(ctx Ctx, eoh *int) int {
	e := idx.entries[ctx.idx]
	line := idx.lineBytes(e)
	relVal := ctx.valOffset - e.off

	hasMoreCommas := false
	for i := relVal + ctx.vlen + ctx.tws; i < e.len; i++ {
		if line[i] == ',' {
			hasMoreCommas = true
			break
		}
	}
	hasPriorComma := false
	for i := 0; i < relVal; i++ {
		if line[i] == ',' {
			hasPriorComma = true
		}
	}

	if !hasMoreCommas && !hasPriorComma {
		// Sole value: drop the whole line including CR/LF.
		lineTotal := e.len + boolToCRLen(idx.entries[ctx.idx].cr)
		delta := idx.buf.Delete(e.off, e.off+lineTotal)
		idx.unlink(ctx.idx, ctx.predIdx)
		idx.ApplyDelta(e.off+lineTotal, delta)
		if eoh != nil {
			*eoh += delta
		}
		return delta
	}

	// Remove the value plus one adjoining separator (prefer trailing comma).
	from := e.off + relVal
	to := e.off + relVal + ctx.vlen + ctx.tws
	if hasMoreCommas {
		// consume up to and including the following comma and its LWS
		for to < e.off+e.len && line[to-e.off] != ',' {
			to++
		}
		to++ // the comma itself
		for to < e.off+e.len && isLWS(idx.buf.ReadAt(to)) {
			to++
		}
	} else {
		// consume the preceding comma and its LWS instead
		for from > e.off && idx.buf.ReadAt(from-1) != ',' {
			from--
		}
		from--
	}
	delta := idx.buf.Delete(from, to)
	idx.ApplyDelta(from, delta)
	if eoh != nil {
		*eoh += delta
	}
	return delta
}

func boolToCRLen(cr int) int {
	if cr == 1 {
		return 2
	}
	return 1
}

// unlink removes entry i from the display-order chain and marks it free.
func (idx *Index) unlink(i, pred int) {
	idx.entries[pred].next = idx.entries[i].next
	idx.entries[i] = entry{}
	idx.used--
}

// RemoveEntry deletes the header line at i entirely, including its
// terminator, and unlinks it from display order. Used when an in-place
// content edit (e.g. cookie pair surgery) empties a header down to
// nothing and the whole line must go. Returns the displacement.
func (idx *Index) RemoveEntry(i int, eoh *int) int {
	if i == 0 {
		return 0
	}
	pred := 0
	for n := idx.entries[0].next; n != 0; n = idx.entries[n].next {
		if n == i {
			break
		}
		pred = n
	}
	e := idx.entries[i]
	lineTotal := e.len + boolToCRLen(e.cr)
	delta := idx.buf.Delete(e.off, e.off+lineTotal)
	idx.unlink(i, pred)
	idx.ApplyDelta(e.off+lineTotal, delta)
	if eoh != nil {
		*eoh += delta
	}
	return delta
}

// ApplyDelta shifts every entry's recorded offset at or after `at` by
// delta, and adjusts the length of the entry whose line contains `at`.
// Called by callers that perform a raw buffer mutation not routed
// through Remove (e.g. cookie in-place edits) so the index stays correct
// without a re-parse.
func (idx *Index) ApplyDelta(at, delta int) {
	if delta == 0 {
		return
	}
	if idx.entries[0].off >= at {
		idx.entries[0].off += delta
	}
	for i := 1; i <= idx.cap; i++ {
		e := &idx.entries[i]
		if e.len == 0 {
			continue
		}
		if e.off >= at {
			e.off += delta
		} else if e.off+e.len >= at {
			e.len += delta
		}
	}
}
