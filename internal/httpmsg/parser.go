package httpmsg

import (
	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/ring"
)

// Result is returned by StepRequest and StepResponse to tell the caller what happened this
// call, per spec §5 "Suspension points": every analyser may return 0 ("need
// more data"), installing itself back on the channel for the next read.
type Result int

const (
	// NeedMoreData means the parser consumed everything currently
	// available and is waiting for more bytes; State and Next have been
	// saved on the Message so the next StepRequest/StepResponse call
	// resumes exactly here.
	NeedMoreData Result = iota
	// HeadersDone means the header section just completed; m.Eoh, m.Sov
	// and m.State (now Body) are populated.
	HeadersDone
	// Progressed means the parser made progress but headers are not yet
	// complete (used internally; StepRequest/StepResponse loop until
	// NeedMoreData or HeadersDone or Failed).
	Progressed
	// Failed means a parse error occurred; m.State is Error and
	// m.ErrPosition records the offending offset.
	Failed
)

// Limits carries the parser's configuration. Only AcceptInvalid is
// consulted; MaxLineBytes and MaxHeaderBytes are not checked by the parser.
type Limits struct {
	MaxLineBytes   int
	MaxHeaderBytes int
	AcceptInvalid  bool // corresponds to spec's "accept invalid request" config bit
}

// Parser drives one Message through the FSM described in spec §4.3. A
// Parser instance is stateless and may be shared across transactions; all
// mutable progress lives on the Message and the ring.Buffer it is bound to
// for the call.
type Parser struct {
	Limits Limits
}

func New(limits Limits) *Parser { return &Parser{Limits: limits} }

// isToken reports whether b is a valid RFC 7230 token character (used for
// method and header-name bytes): no separators, no CTLs.
func isToken(b byte) bool {
	if b < 0x21 || b > 0x7e {
		return false
	}
	switch b {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}':
		return false
	}
	return true
}

// isURIChar reports whether b is a printable-ASCII URI byte (0x21-0x7E);
// bytes >= 0x80 are accepted only when AcceptInvalid is set.
func (p *Parser) isURIChar(b byte) bool {
	if b >= 0x21 && b <= 0x7e {
		return true
	}
	if b >= 0x80 && p.Limits.AcceptInvalid {
		return true
	}
	return false
}

// isVersionChar reports whether b belongs to the HTTP-version token
// charset: digits, '.', '/', 'H', 'T', 'P'.
func isVersionChar(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b == '.' || b == '/':
		return true
	case b == 'H' || b == 'T' || b == 'P':
		return true
	}
	return false
}

// StepRequest advances the request-direction FSM as far as currently
// available input allows.
func (p *Parser) StepRequest(m *Message, buf *ring.Buffer, idx *headeridx.Index) Result {
	for {
		r := p.stepRequestOnce(m, buf, idx)
		if r != Progressed {
			return r
		}
	}
}

// StepResponse advances the response-direction FSM as far as currently
// available input allows.
func (p *Parser) StepResponse(m *Message, buf *ring.Buffer, idx *headeridx.Index) Result {
	for {
		r := p.stepResponseOnce(m, buf, idx)
		if r != Progressed {
			return r
		}
	}
}

func (p *Parser) fail(m *Message, at int) Result {
	m.State = Error
	m.ErrPosition = at
	return Failed
}

// --- Request-line states -----------------------------------------------

func (p *Parser) stepRequestOnce(m *Message, buf *ring.Buffer, idx *headeridx.Index) Result {
	avail := buf.InputLen()

	switch m.State {
	case RQBefore:
		// Leading empty lines are skipped only when nothing is pending
		// output; approximated as buf.OutputLen() == 0.
		if m.Next >= avail {
			return NeedMoreData
		}
		b := buf.ReadAt(m.Next)
		if b == '\r' {
			if buf.OutputLen() != 0 {
				return p.fail(m, m.Next)
			}
			m.Next++
			m.State = RQBeforeCR
			return Progressed
		}
		if b == '\n' {
			if buf.OutputLen() != 0 {
				return p.fail(m, m.Next)
			}
			m.Next++
			return Progressed
		}
		m.Sol = m.Next
		m.tokenStart = m.Next
		m.State = RQMeth
		return Progressed

	case RQBeforeCR:
		if m.Next >= avail {
			return NeedMoreData
		}
		if buf.ReadAt(m.Next) != '\n' {
			return p.fail(m, m.Next)
		}
		m.Next++
		m.State = RQBefore
		return Progressed

	case RQMeth:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == ' ' {
				m.Method = readString(buf, m.tokenStart, m.Next)
				m.Next++
				m.State = RQMethSP
				return Progressed
			}
			if !isToken(b) {
				return p.fail(m, m.Next)
			}
			m.Next++
		}
		return NeedMoreData

	case RQMethSP:
		m.tokenStart = m.Next
		m.State = RQURI
		return Progressed

	case RQURI:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == ' ' {
				m.URI = readString(buf, m.tokenStart, m.Next)
				m.Next++
				m.State = RQURISP
				return Progressed
			}
			if b == '\r' || b == '\n' {
				// HTTP/0.9-style request: no version token present.
				m.URI = readString(buf, m.tokenStart, m.Next)
				m.Proto = "HTTP/1.0"
				m.ProtoMajor, m.ProtoMinor = 1, 0
				m.Flags |= FlagHTTP09Upgraded
				m.State = RQLineEnd
				return Progressed
			}
			if !p.isURIChar(b) {
				return p.fail(m, m.Next)
			}
			m.Next++
		}
		return NeedMoreData

	case RQURISP:
		m.tokenStart = m.Next
		m.State = RQVer
		return Progressed

	case RQVer:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == '\r' || b == '\n' {
				m.Proto = readString(buf, m.tokenStart, m.Next)
				if err := parseVersion(m); err != nil {
					return p.fail(m, m.Next)
				}
				m.State = RQLineEnd
				return Progressed
			}
			if !isVersionChar(b) {
				return p.fail(m, m.Next)
			}
			m.Next++
		}
		return NeedMoreData

	case RQLineEnd:
		return stepLineEnd(p, m, buf, idx, HdrFirst)

	default:
		return p.stepHeadersOnce(m, buf, idx)
	}
}

// --- Status-line states --------------------------------------------------

func (p *Parser) stepResponseOnce(m *Message, buf *ring.Buffer, idx *headeridx.Index) Result {
	avail := buf.InputLen()

	switch m.State {
	case RPBefore:
		if m.Next >= avail {
			return NeedMoreData
		}
		b := buf.ReadAt(m.Next)
		if b == '\r' {
			if buf.OutputLen() != 0 {
				return p.fail(m, m.Next)
			}
			m.Next++
			m.State = RPBeforeCR
			return Progressed
		}
		if b == '\n' {
			if buf.OutputLen() != 0 {
				return p.fail(m, m.Next)
			}
			m.Next++
			return Progressed
		}
		m.Sol = m.Next
		m.tokenStart = m.Next
		m.State = RPVer
		return Progressed

	case RPBeforeCR:
		if m.Next >= avail {
			return NeedMoreData
		}
		if buf.ReadAt(m.Next) != '\n' {
			return p.fail(m, m.Next)
		}
		m.Next++
		m.State = RPBefore
		return Progressed

	case RPVer:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == ' ' {
				m.Proto = readString(buf, m.tokenStart, m.Next)
				if err := parseVersion(m); err != nil {
					return p.fail(m, m.Next)
				}
				m.Next++
				m.State = RPVerSP
				return Progressed
			}
			if !isVersionChar(b) {
				return p.fail(m, m.Next)
			}
			m.Next++
		}
		return NeedMoreData

	case RPVerSP:
		m.tokenStart = m.Next
		m.State = RPCode
		return Progressed

	case RPCode:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == ' ' {
				code, err := atoi(readString(buf, m.tokenStart, m.Next))
				if err != nil {
					return p.fail(m, m.Next)
				}
				m.StatusCode = code
				m.Next++
				m.State = RPCodeSP
				return Progressed
			}
			if b < '0' || b > '9' {
				return p.fail(m, m.Next)
			}
			m.Next++
		}
		return NeedMoreData

	case RPCodeSP:
		m.tokenStart = m.Next
		m.State = RPReason
		return Progressed

	case RPReason:
		for m.Next < avail {
			b := buf.ReadAt(m.Next)
			if b == '\r' || b == '\n' {
				m.Reason = readString(buf, m.tokenStart, m.Next)
				m.State = RPLineEnd
				return Progressed
			}
			m.Next++
		}
		return NeedMoreData

	case RPLineEnd:
		return stepLineEnd(p, m, buf, idx, HdrFirst)

	default:
		return p.stepHeadersOnce(m, buf, idx)
	}
}

// stepLineEnd consumes the terminator of the start line (CRLF or bare LF),
// records the first-header offset on idx, and transitions to next on
// success.
func stepLineEnd(p *Parser, m *Message, buf *ring.Buffer, idx *headeridx.Index, next State) Result {
	avail := buf.InputLen()
	if m.Next >= avail {
		return NeedMoreData
	}
	b := buf.ReadAt(m.Next)
	if b == '\r' {
		m.Next++
		if m.Next >= avail {
			return NeedMoreData
		}
		if buf.ReadAt(m.Next) != '\n' {
			return p.fail(m, m.Next)
		}
		m.Next++
		idx.Start(m.Next, true)
		m.State = next
		return Progressed
	}
	if b == '\n' {
		m.Next++
		idx.Start(m.Next, false)
		m.State = next
		return Progressed
	}
	return p.fail(m, m.Next)
}

func readString(buf *ring.Buffer, from, to int) string {
	b := make([]byte, to-from)
	for i := range b {
		b[i] = buf.ReadAt(from + i)
	}
	return string(b)
}

func atoi(s string) (int, error) {
	n := 0
	if len(s) == 0 {
		return 0, errEmptyNumber
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, errEmptyNumber
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, nil
}

func parseVersion(m *Message) error {
	// "HTTP/major.minor"
	s := m.Proto
	if len(s) < 8 || s[:5] != "HTTP/" {
		return errBadVersion
	}
	rest := s[5:]
	dot := -1
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return errBadVersion
	}
	major, err1 := atoi(rest[:dot])
	minor, err2 := atoi(rest[dot+1:])
	if err1 != nil || err2 != nil {
		return errBadVersion
	}
	m.ProtoMajor, m.ProtoMinor = major, minor
	return nil
}

var (
	errEmptyNumber = parseErr("httpmsg: invalid number")
	errBadVersion  = parseErr("httpmsg: invalid HTTP version")
)

type parseErr string

func (e parseErr) Error() string { return string(e) }
