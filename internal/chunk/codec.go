// Package chunk implements the chunked-transfer-encoding codec described in
// spec §4.4: a chunk-size reader, CRLF skipper, trailer skipper, and a
// fixed-width size emitter. All parsing primitives tolerate buffer wrap by
// advancing a local cursor modulo the ring's capacity and converting back
// to an absolute offset relative to the buffer's current start.
package chunk

import (
	"errors"

	"github.com/jbuchbinder/haproxy/internal/ring"
)

// ErrOverflow is returned by EmitChunkSize for a size above MaxChunkSize.
// ParseChunkSize does not return it: an oversized chunk-size line is
// reported as malformed.
var ErrOverflow = errors.New("chunk: size overflow")

// ErrBadChunk covers malformed chunk-size lines, missing CRLF, and the
// lone-CR-without-LF trailer error named in spec §4.4.
var ErrBadChunk = errors.New("chunk: malformed chunk framing")

// MaxChunkSize bounds an individual chunk at 16 MiB - 1, matching the fixed
// 6-hex-digit size field emitted by EmitChunkSize.
const MaxChunkSize = 0xFFFFFF

// ParseResult reports what ParseChunkSize found.
type ParseResult int

const (
	NeedMore ParseResult = iota
	GotSize
	Malformed
)

// ParseChunkSize reads "1*HEXDIGIT *WSP [';' extensions] CRLF" starting at
// offset `at` in buf. On success it returns the parsed size and the offset
// just past the terminating LF; the caller is responsible for advancing
// its own cursor (and the message's `next`) to that offset.
func ParseChunkSize(buf *ring.Buffer, at int) (size int64, next int, res ParseResult) {
	avail := buf.InputLen()
	pos := at
	if pos >= avail {
		return 0, at, NeedMore
	}

	var n int64
	digits := 0
	for pos < avail {
		b := buf.ReadAt(pos)
		v, ok := hexVal(b)
		if !ok {
			break
		}
		n = n*16 + int64(v)
		if n > 1<<31 {
			return 0, at, Malformed
		}
		digits++
		pos++
	}
	if digits == 0 {
		if pos >= avail {
			return 0, at, NeedMore
		}
		return 0, at, Malformed
	}

	// Skip optional WSP and ';' extensions up to CR/LF.
	for pos < avail {
		b := buf.ReadAt(pos)
		if b == '\r' || b == '\n' {
			break
		}
		pos++
	}
	if pos >= avail {
		return 0, at, NeedMore
	}

	end, ok := consumeLineEnd(buf, pos)
	if !ok {
		if end == -1 {
			return 0, at, NeedMore
		}
		return 0, at, Malformed
	}
	return n, end, GotSize
}

func hexVal(b byte) (int, bool) {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0'), true
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10, true
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10, true
	default:
		return 0, false
	}
}

// consumeLineEnd consumes an optional CR followed by a mandatory LF
// starting at pos, returning the offset just past it. ok=false, end=-1
// means more data is needed; ok=false, end>=0 means malformed (a lone CR
// with no following LF available within the current input is reported as
// NeedMore by the caller retrying, but a CR followed by a non-LF byte is
// malformed).
func consumeLineEnd(buf *ring.Buffer, pos int) (end int, ok bool) {
	avail := buf.InputLen()
	b := buf.ReadAt(pos)
	if b == '\n' {
		return pos + 1, true
	}
	if b != '\r' {
		return pos, false
	}
	if pos+1 >= avail {
		return -1, false
	}
	if buf.ReadAt(pos+1) != '\n' {
		return pos, false
	}
	return pos + 2, true
}

// SkipChunkCRLF consumes the optional CR then mandatory LF that follows a
// chunk's data bytes.
func SkipChunkCRLF(buf *ring.Buffer, at int) (next int, res ParseResult) {
	avail := buf.InputLen()
	if at >= avail {
		return at, NeedMore
	}
	end, ok := consumeLineEnd(buf, at)
	if !ok {
		if end == -1 {
			return at, NeedMore
		}
		return at, Malformed
	}
	return end, GotSize
}

// ForwardTrailers scans wrapped trailer lines starting at `at`. An empty
// line ends the message (message moves to DONE externally); a lone CR
// without a following LF on the same line is a parse error. Returns the
// offset past the terminating blank line on success.
func ForwardTrailers(buf *ring.Buffer, at int) (next int, res ParseResult) {
	avail := buf.InputLen()
	pos := at
	for {
		if pos >= avail {
			return at, NeedMore
		}
		b := buf.ReadAt(pos)
		if b == '\r' || b == '\n' {
			end, ok := consumeLineEnd(buf, pos)
			if !ok {
				if end == -1 {
					return at, NeedMore
				}
				return at, Malformed
			}
			return end, GotSize
		}
		// Skip to end of this trailer line, then its terminator.
		for pos < avail {
			b = buf.ReadAt(pos)
			if b == '\r' || b == '\n' {
				break
			}
			pos++
		}
		if pos >= avail {
			return at, NeedMore
		}
		end, ok := consumeLineEnd(buf, pos)
		if !ok {
			if end == -1 {
				return at, NeedMore
			}
			return at, Malformed
		}
		pos = end
	}
}

// EmitChunkSize writes a fixed 6-hex-digit, zero-padded chunk size header
// into out, followed by addCRLF+1 CRLFs (spec §4.4: the fixed width lets
// the writer reserve the header slot and backpatch it after compressing
// the payload). size must fit in 6 hex digits (<= MaxChunkSize).
func EmitChunkSize(out *ring.Buffer, at int, size int64, addCRLF int) (int, error) {
	if size < 0 || size > MaxChunkSize {
		return 0, ErrOverflow
	}
	hex := []byte("000000")
	for i := 5; i >= 0; i-- {
		hex[i] = "0123456789abcdef"[size&0xF]
		size >>= 4
	}
	buf := make([]byte, 0, 6+2*(addCRLF+1))
	buf = append(buf, hex...)
	for i := 0; i <= addCRLF; i++ {
		buf = append(buf, '\r', '\n')
	}
	delta, err := out.Insert(at, buf)
	if err != nil {
		return 0, err
	}
	return delta, nil
}
