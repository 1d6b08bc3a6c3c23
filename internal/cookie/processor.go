// Package cookie implements per-request and per-response cookie parsing
// with in-place edits against the shared header index (spec §4.6). Every
// mutation goes through ring.Buffer's delta-returning primitives and is
// immediately reflected back into the header index via
// headeridx.Index.ApplyDelta, so the index never drifts out of sync with
// the bytes it describes.
package cookie

import (
	"strings"
	"time"

	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/ring"
	"github.com/jonboulle/clockwork"
)

// Mode selects how the backend's persistence cookie is carried in
// requests (spec §4.6).
type Mode int

const (
	ModeNone Mode = iota
	ModePrefix
	ModePassive
	ModeInsert
	ModeRewrite
)

// maxFutureDriftSeconds bounds clock-drift tolerance: a decoded date more
// than this far in the future is treated as invalid (spec §4.6).
const maxFutureDriftSeconds = 86400

// Config describes one backend's persistence-cookie policy.
type Config struct {
	CaptureName string // frontend capture cookie name, "" disables capture
	PersistName string // backend persistence cookie name, "" disables persistence
	Mode        Mode
	Indirect    bool // insert mode with the cookie stripped from upstream traffic
	Ignore      bool // persistence explicitly ignored: never mark CK_INVALID
	MaxLife     time.Duration
	MaxIdle     time.Duration
}

// ServerLookup reports whether a persistence cookie's server id names a
// server this backend knows about, and whether that server is currently
// up.
type ServerLookup func(serverID string) (known, up bool)

// RequestResult summarizes what ProcessRequest found (spec's
// CK_VALID/CK_INVALID transaction flags plus the data other components
// need: the chosen server and any captured value).
type RequestResult struct {
	Valid       bool
	Invalid     bool
	ServerID    string
	Captured    string
	PreserveHdr bool
}

// Processor applies cookie policy against one transaction's headers. Its
// Clock is consulted for every expiry check so tests can control time
// deterministically.
type Processor struct {
	Clock clockwork.Clock
}

// New returns a Processor using clock, or the real wall clock if clock is
// nil.
func New(clock clockwork.Clock) *Processor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Processor{Clock: clock}
}

// ProcessRequest walks every Cookie header on the request, applying
// capture and persistence-cookie policy in place. eoh is the message's
// end-of-headers offset and is kept in sync with every buffer mutation.
func (p *Processor) ProcessRequest(buf *ring.Buffer, idx *headeridx.Index, eoh *int, cfg Config, lookup ServerLookup) RequestResult {
	var result RequestResult
	ctx := headeridx.Ctx{}
	for {
		next, ok := idx.Find("Cookie", ctx)
		if !ok {
			break
		}
		prev := ctx
		ctx = next
		preserve := p.processCookieLine(buf, idx, eoh, ctx, cfg, lookup, &result)
		if preserve {
			result.PreserveHdr = true
		} else {
			idx.RemoveEntry(ctx.EntryIdx(), eoh)
			ctx = prev // the removed entry is unlinked; resume the walk from its predecessor
		}
	}
	if cfg.PersistName != "" && !cfg.Ignore && !result.Valid && !result.Invalid {
		// No persistence cookie was present at all; spec treats this as
		// simply "no cookie", not CK_INVALID.
	}
	return result
}

type pairSpan struct{ start, end int } // [start,end) absolute offsets, excludes the separating ';'

func scanPairs(buf *ring.Buffer, start, length int) []pairSpan {
	var spans []pairSpan
	end := start + length
	i := start
	for i <= end {
		pstart := i
		for i < end && buf.ReadAt(i) != ';' {
			i++
		}
		spans = append(spans, pairSpan{pstart, i})
		if i >= end {
			break
		}
		i++ // skip ';'
	}
	return spans
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }

func readRange(buf *ring.Buffer, from, to int) string {
	if to <= from {
		return ""
	}
	out := make([]byte, to-from)
	for i := range out {
		out[i] = buf.ReadAt(from + i)
	}
	return string(out)
}

// splitPair locates name/value bounds within a raw pair span, trimming
// surrounding whitespace. ok is false for a malformed pair (no '=').
func splitPair(buf *ring.Buffer, sp pairSpan) (name string, valStart, valEnd int, ok bool) {
	i := sp.start
	for i < sp.end && isSpace(buf.ReadAt(i)) {
		i++
	}
	nameStart := i
	eq := -1
	for i < sp.end {
		if buf.ReadAt(i) == '=' {
			eq = i
			break
		}
		i++
	}
	if eq < 0 {
		return "", 0, 0, false
	}
	nameEnd := eq
	for nameEnd > nameStart && isSpace(buf.ReadAt(nameEnd-1)) {
		nameEnd--
	}
	name = readRange(buf, nameStart, nameEnd)

	vs := eq + 1
	for vs < sp.end && isSpace(buf.ReadAt(vs)) {
		vs++
	}
	ve := sp.end
	for ve > vs && isSpace(buf.ReadAt(ve-1)) {
		ve--
	}
	return name, vs, ve, true
}

// normalizeSpacing strips extraneous whitespace immediately surrounding a
// pair's '=' (e.g. "name = value" becomes "name=value"), rewriting the
// buffer in place and propagating the resulting offset delta through idx
// and eoh so the two edits (before and after the '=') compose correctly
// regardless of which whitespace run is longer. Pairs without '=' are left
// untouched; splitPair already rejects those as malformed.
func (p *Processor) normalizeSpacing(buf *ring.Buffer, idx *headeridx.Index, eoh *int, sp pairSpan) pairSpan {
	eq := -1
	for i := sp.start; i < sp.end; i++ {
		if buf.ReadAt(i) == '=' {
			eq = i
			break
		}
	}
	if eq < 0 {
		return sp
	}

	wsAfterEnd := eq + 1
	for wsAfterEnd < sp.end && isSpace(buf.ReadAt(wsAfterEnd)) {
		wsAfterEnd++
	}
	if wsAfterEnd > eq+1 {
		delta := buf.Delete(eq+1, wsAfterEnd)
		idx.ApplyDelta(eq+1, delta)
		*eoh += delta
		sp.end += delta
	}

	wsBeforeStart := eq
	for wsBeforeStart > sp.start && isSpace(buf.ReadAt(wsBeforeStart-1)) {
		wsBeforeStart--
	}
	if wsBeforeStart < eq {
		delta := buf.Delete(wsBeforeStart, eq)
		idx.ApplyDelta(wsBeforeStart, delta)
		*eoh += delta
		sp.end += delta
	}

	return sp
}

// processCookieLine scans the Cookie header's value right-to-left so that
// in-place deletions never invalidate offsets not yet visited. Returns
// whether at least one pair on the line must be preserved.
func (p *Processor) processCookieLine(buf *ring.Buffer, idx *headeridx.Index, eoh *int, lineCtx headeridx.Ctx, cfg Config, lookup ServerLookup, result *RequestResult) bool {
	spans := scanPairs(buf, lineCtx.ValOffset(), lineCtx.ValLen())
	preserve := false

	for i := len(spans) - 1; i >= 0; i-- {
		sp := p.normalizeSpacing(buf, idx, eoh, spans[i])
		name, valStart, valEnd, ok := splitPair(buf, sp)
		if !ok {
			preserve = true
			continue
		}
		if strings.HasPrefix(name, "$") {
			preserve = true
			continue
		}

		if cfg.CaptureName != "" && result.Captured == "" && strings.EqualFold(name, cfg.CaptureName) {
			result.Captured = readRange(buf, valStart, valEnd)
		}

		if cfg.PersistName == "" || !strings.EqualFold(name, cfg.PersistName) {
			preserve = true
			continue
		}

		raw := readRange(buf, valStart, valEnd)
		switch cfg.Mode {
		case ModePrefix:
			if p.applyPrefixMode(buf, idx, eoh, raw, valStart, lookup, result) {
				preserve = true
			}
		default:
			if p.applyStampedMode(buf, idx, eoh, raw, sp, i, spans, cfg, lookup, result) {
				preserve = true
			}
		}
	}
	return preserve
}

func (p *Processor) applyPrefixMode(buf *ring.Buffer, idx *headeridx.Index, eoh *int, raw string, valStart int, lookup ServerLookup, result *RequestResult) bool {
	delim := strings.IndexByte(raw, '~')
	if delim < 0 {
		if !result.Valid {
			result.Invalid = true
		}
		return true
	}
	serverID := raw[:delim]
	known, _ := false, false
	if lookup != nil {
		known, _ = lookup(serverID)
	}
	if !known {
		if !result.Valid {
			result.Invalid = true
		}
		return true
	}
	result.Valid = true
	result.Invalid = false
	result.ServerID = serverID
	delta := buf.Delete(valStart, valStart+delim+1)
	idx.ApplyDelta(valStart, delta)
	*eoh += delta
	return true
}

// applyStampedMode handles passive/insert/rewrite, whose value shape is
// SERVERID[|LAST_SEEN[|FIRST_SEEN]].
func (p *Processor) applyStampedMode(buf *ring.Buffer, idx *headeridx.Index, eoh *int, raw string, sp pairSpan, spanIdx int, spans []pairSpan, cfg Config, lookup ServerLookup, result *RequestResult) bool {
	parts := strings.Split(raw, "|")
	serverID := parts[0]
	known, up := false, false
	if lookup != nil {
		known, up = lookup(serverID)
	}
	valid := known
	now := p.Clock.Now().Unix()

	if valid && len(parts) > 1 {
		if last, ok := DecodeDate(parts[1]); ok {
			if last > now+maxFutureDriftSeconds {
				valid = false
			}
			if valid && cfg.MaxIdle > 0 && now-last > int64(cfg.MaxIdle/time.Second) {
				valid = false
			}
		}
	}
	if valid && len(parts) > 2 {
		if first, ok := DecodeDate(parts[2]); ok {
			if cfg.MaxLife > 0 && now-first > int64(cfg.MaxLife/time.Second) {
				valid = false
			}
		}
	}

	if !valid {
		if !result.Valid {
			result.Invalid = true
		}
		return true
	}

	result.Valid = true
	result.Invalid = false
	result.ServerID = serverID
	_ = up

	if cfg.Mode == ModeInsert && cfg.Indirect && known {
		from, to := pairDeleteRange(sp, spanIdx, spans)
		delta := buf.Delete(from, to)
		idx.ApplyDelta(from, delta)
		*eoh += delta
		return false
	}
	return true
}

// pairDeleteRange extends a pair's span to swallow one adjoining ';' so
// deleting it doesn't leave a stray empty segment, mirroring
// headeridx.Index.Remove's comma handling.
func pairDeleteRange(sp pairSpan, spanIdx int, spans []pairSpan) (from, to int) {
	from, to = sp.start, sp.end
	if spanIdx < len(spans)-1 {
		return from, spans[spanIdx+1].start // swallow the trailing ';'; the next pair keeps its leading space
	}
	if spanIdx > 0 {
		return spans[spanIdx-1].end, to // swallow the leading ';'
	}
	return from, to
}
