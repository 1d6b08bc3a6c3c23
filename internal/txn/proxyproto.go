package txn

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

// ErrMalformedProxyHeader is returned when a line begins with "PROXY " but
// does not conform to the v1 wire grammar.
var ErrMalformedProxyHeader = errors.New("txn: malformed PROXY protocol v1 header")

// ErrProxyLineTooLong indicates the preamble line exceeded maxProxyLineLen
// without terminating.
var ErrProxyLineTooLong = errors.New("txn: PROXY protocol line too long")

// maxProxyLineLen bounds a v1 header line: "PROXY UNKNOWN " plus two
// IPv6 addresses and two 5-digit ports comfortably fits in 107 bytes,
// the limit the v1 specification itself names.
const maxProxyLineLen = 107

// proxyPreambleBufSize is the lookahead window ReadProxyHeader needs: large
// enough to peek "PROXY " and, once committed, to read a full v1 line in
// one buffered read.
const proxyPreambleBufSize = 256

// proxyLineReader is a minimal buffered line reader scoped to what
// ReadProxyHeader needs: a bounded peek to decide whether a connection
// opens with a PROXY preamble, and a CRLF/LF-tolerant line read that never
// consumes past the line it returns (so the caller's own header parser
// picks up exactly where this reader left off).
type proxyLineReader struct {
	br *bufio.Reader
}

func newProxyLineReader(r io.Reader) *proxyLineReader {
	return &proxyLineReader{br: bufio.NewReaderSize(r, proxyPreambleBufSize)}
}

// peek returns the next n bytes without advancing the reader.
func (r *proxyLineReader) peek(n int) ([]byte, error) {
	return r.br.Peek(n)
}

// readLine reads one logical line, trimming a trailing CRLF or bare LF, and
// refuses to accumulate more than max bytes before a newline is found.
func (r *proxyLineReader) readLine(max int) ([]byte, error) {
	var buf []byte
	for {
		part, err := r.br.ReadSlice('\n')
		if len(buf)+len(part) > max {
			return nil, ErrProxyLineTooLong
		}
		buf = append(buf, part...)
		switch {
		case err == nil:
			n := len(buf)
			if n > 0 && buf[n-1] == '\n' {
				n--
				if n > 0 && buf[n-1] == '\r' {
					n--
				}
			}
			return buf[:n], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(buf) == 0 {
				return nil, io.EOF
			}
			return buf, io.EOF
		default:
			return buf, err
		}
	}
}

// ProxyHeader is a decoded PROXY protocol v1 preamble.
type ProxyHeader struct {
	Protocol string // "TCP4", "TCP6", or "UNKNOWN"
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  int
	DstPort  int
}

// ReadProxyHeader peeks the first six bytes of r and, if they equal
// "PROXY " (spec §9 Open Question (b): a positive prefix test, not the
// source's suspect negated-memcmp idiom), consumes and decodes the whole
// line. If the connection does not open with a PROXY line, ok is false
// and nothing has been consumed beyond the peek. r is wrapped once per
// connection by the caller before any HTTP parsing begins; the caller
// continues reading from the returned rest reader, which still holds any
// bytes read ahead but not claimed by the preamble.
func ReadProxyHeader(r io.Reader) (hdr *ProxyHeader, ok bool, rest io.Reader, err error) {
	lr := newProxyLineReader(r)
	peek, perr := lr.peek(6)
	if perr != nil {
		if errors.Is(perr, io.EOF) || errors.Is(perr, bufio.ErrBufferFull) {
			return nil, false, lr.br, nil
		}
		return nil, false, lr.br, perr
	}
	if !bytes.HasPrefix(peek, []byte("PROXY ")) {
		return nil, false, lr.br, nil
	}

	line, rerr := lr.readLine(maxProxyLineLen)
	if rerr != nil {
		return nil, false, lr.br, rerr
	}
	fields := bytes.Fields(line)
	if len(fields) < 2 || string(fields[0]) != "PROXY" {
		return nil, false, lr.br, ErrMalformedProxyHeader
	}

	h := &ProxyHeader{Protocol: string(fields[1])}
	if h.Protocol == "UNKNOWN" {
		return h, true, lr.br, nil
	}
	if h.Protocol != "TCP4" && h.Protocol != "TCP6" {
		return nil, false, lr.br, ErrMalformedProxyHeader
	}
	if len(fields) != 6 {
		return nil, false, lr.br, ErrMalformedProxyHeader
	}

	h.SrcIP = net.ParseIP(string(fields[2]))
	h.DstIP = net.ParseIP(string(fields[3]))
	if h.SrcIP == nil || h.DstIP == nil {
		return nil, false, lr.br, ErrMalformedProxyHeader
	}
	sport, serr := strconv.Atoi(string(fields[4]))
	if serr != nil {
		return nil, false, lr.br, ErrMalformedProxyHeader
	}
	dport, derr := strconv.Atoi(string(fields[5]))
	if derr != nil {
		return nil, false, lr.br, ErrMalformedProxyHeader
	}
	h.SrcPort, h.DstPort = sport, dport
	return h, true, lr.br, nil
}

// WriteProxyHeader emits the bit-exact v1 text for hdr, using inet_ntop
// equivalent formatting via net.IP.String.
func WriteProxyHeader(w io.Writer, hdr *ProxyHeader) error {
	if hdr.Protocol == "UNKNOWN" {
		_, err := io.WriteString(w, "PROXY UNKNOWN\r\n")
		return err
	}
	line := fmt.Sprintf("PROXY %s %s %s %d %d\r\n", hdr.Protocol, hdr.SrcIP.String(), hdr.DstIP.String(), hdr.SrcPort, hdr.DstPort)
	_, err := io.WriteString(w, line)
	return err
}
