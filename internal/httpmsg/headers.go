package httpmsg

import (
	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/ring"
)

// stepHeadersOnce implements the shared header-section FSM used by both
// directions: HDR_FIRST -> HDR_NAME -> HDR_L1_SP -> HDR_VAL -> (fold
// lookahead via HDR_L2_LF/HDR_L2_LWS) -> loop HDR_NAME, or -> LAST_LF ->
// BODY. Obsolete line folding rewrites the continuation's leading
// whitespace-and-terminator bytes to a single SP in place (spec §4.3).
func (p *Parser) stepHeadersOnce(m *Message, buf *ring.Buffer, idx *headeridx.Index) Result {
	avail := buf.InputLen()

	switch m.State {
	case HdrFirst:
		if m.Next >= avail {
			return NeedMoreData
		}
		b := buf.ReadAt(m.Next)
		if b == '\r' || b == '\n' {
			return p.finishHeaderSection(m, buf, idx)
		}
		m.hdrLineOff = m.Next
		m.tokenStart = m.Next
		m.State = HdrName
		return Progressed

	case HdrName:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == ':' {
				m.hdrColonOff = m.Next
				m.Next++
				m.State = HdrL1SP
				return Progressed
			}
			if b == '\n' {
				// LF within a header name is fatal (spec §4.3).
				return p.fail(m, m.Next)
			}
			if !isToken(b) {
				return p.fail(m, m.Next)
			}
			m.Next++
		}
		return NeedMoreData

	case HdrL1SP:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == ' ' || b == '\t' {
				m.Next++
				continue
			}
			m.hdrValOff = m.Next
			m.State = HdrVal
			return Progressed
		}
		return NeedMoreData

	case HdrVal:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == '\r' {
				m.hdrHasCR = true
				m.Next++
				m.State = HdrL2LF
				return Progressed
			}
			if b == '\n' {
				m.hdrHasCR = false
				m.Next++
				m.State = HdrL2LWS
				return Progressed
			}
			m.Next++
		}
		return NeedMoreData

	case HdrL2LF:
		// Only entered right after a CR; LF must follow.
		if m.Next >= avail {
			return NeedMoreData
		}
		if buf.ReadAt(m.Next) != '\n' {
			return p.fail(m, m.Next)
		}
		m.Next++
		m.State = HdrL2LWS
		return Progressed

	case HdrL2LWS:
		// Lookahead: is the next physical line a continuation (starts with
		// SP/HT)? We need at least one byte of lookahead to decide.
		if m.Next >= avail {
			return NeedMoreData
		}
		b := buf.ReadAt(m.Next)
		if b == ' ' || b == '\t' {
			return p.foldContinuation(m, buf)
		}
		// Not a fold: the header line [hdrLineOff, terminator) is complete.
		return p.commitHeader(m, buf, idx)

	case LastLF:
		return p.finishHeaderSection(m, buf, idx)

	default:
		return p.fail(m, m.Next)
	}
}

// foldContinuation rewrites the CRLF (or LF) plus the run of leading LWS on
// the continuation line into a single SP, in place, then resumes scanning
// the (now-extended) value. The terminator-plus-indent span collapses to
// exactly one byte, so the rewrite always shrinks the buffer — it never
// needs the reserved-margin check Insert enforces for growth.
func (p *Parser) foldContinuation(m *Message, buf *ring.Buffer) Result {
	terminatorLen := 1
	if m.hdrHasCR {
		terminatorLen = 2
	}
	foldStart := m.Next - terminatorLen
	indentEnd := m.Next
	avail := buf.InputLen()
	for indentEnd < avail {
		b := buf.ReadAt(indentEnd)
		if b == ' ' || b == '\t' {
			indentEnd++
			continue
		}
		break
	}
	if indentEnd >= avail {
		// Could still be more indent; wait for more data before committing
		// the rewrite (avoids folding a partial indent run).
		return NeedMoreData
	}
	delta := buf.Replace(foldStart, indentEnd, []byte{' '})
	m.Next = foldStart + 1
	m.State = HdrVal
	_ = delta // delta is always -(terminatorLen+indentRun-1); no external offsets to fix yet (header not committed)
	return Progressed
}

// commitHeader registers the just-scanned header line into the index and
// loops back to scan the next one.
func (p *Parser) commitHeader(m *Message, buf *ring.Buffer, idx *headeridx.Index) Result {
	terminatorLen := 1
	if m.hdrHasCR {
		terminatorLen = 2
	}
	lineEnd := m.Next - terminatorLen
	lineLen := lineEnd - m.hdrLineOff
	afterIdx := idx.Tail()
	if _, err := idx.Add(m.hdrLineOff, lineLen, m.hdrHasCR, afterIdx); err != nil {
		return p.fail(m, m.hdrLineOff)
	}
	m.State = HdrFirst
	return Progressed
}

// finishHeaderSection consumes the terminating blank line and transitions
// the message into BODY, recording eoh/sov per spec §4.3.
func (p *Parser) finishHeaderSection(m *Message, buf *ring.Buffer, idx *headeridx.Index) Result {
	avail := buf.InputLen()
	if m.Next >= avail {
		return NeedMoreData
	}
	eoh := m.Next
	b := buf.ReadAt(m.Next)
	if b == '\r' {
		if m.Next+1 >= avail {
			return NeedMoreData
		}
		if buf.ReadAt(m.Next+1) != '\n' {
			return p.fail(m, m.Next+1)
		}
		m.Next += 2
	} else if b == '\n' {
		m.Next++
	} else {
		return p.fail(m, m.Next)
	}
	m.Eoh = eoh
	m.Sov = m.Next
	m.State = Body
	return HeadersDone
}
