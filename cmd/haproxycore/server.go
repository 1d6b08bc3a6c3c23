package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jbuchbinder/haproxy/internal/chunk"
	"github.com/jbuchbinder/haproxy/internal/compress"
	"github.com/jbuchbinder/haproxy/internal/cookie"
	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/httpmsg"
	"github.com/jbuchbinder/haproxy/internal/logctx"
	"github.com/jbuchbinder/haproxy/internal/proxyerr"
	"github.com/jbuchbinder/haproxy/internal/ring"
	"github.com/jbuchbinder/haproxy/internal/rules"
	"github.com/jbuchbinder/haproxy/internal/txn"
)

// Server relays one frontend listener to one fixed upstream, wiring
// header parsing, the rule engine, cookie persistence, connection-mode
// negotiation, and response compression selection through every
// transaction (spec §1 "the core owns... parsing, rewriting, state
// tracking"; socket polling itself stays a thin net.Listener/net.Dial
// loop, per spec's explicit scope boundary).
type Server struct {
	cfg      *Config
	log      *logctx.Context
	engine   *rules.Engine
	compress *compress.Pool

	ringSize      int
	rewriteMargin int
	cookieCfg     cookie.Config
	cookieProc    *cookie.Processor
}

// NewServer builds a Server from resolved configuration.
func NewServer(cfg *Config, log *logctx.Context, engine *rules.Engine) (*Server, error) {
	ringSize, err := cfg.ringSizeBytes()
	if err != nil {
		return nil, err
	}
	margin, err := cfg.rewriteMarginBytes()
	if err != nil {
		return nil, err
	}
	mode, err := cfg.cookieMode()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:           cfg,
		log:           log,
		engine:        engine,
		compress:      compress.NewPool(),
		ringSize:      ringSize,
		rewriteMargin: margin,
		cookieCfg: cookie.Config{
			PersistName: cfg.CookieName,
			Mode:        mode,
			Indirect:    mode == cookie.ModeInsert,
		},
		cookieProc: cookie.New(nil),
	}, nil
}

// Run accepts connections on ln until it is closed or an unrecoverable
// Accept error occurs.
func (s *Server) Run(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(client net.Conn) {
	defer client.Close()

	var proxyHdr *txn.ProxyHeader
	if s.cfg.AcceptProxyProtocol {
		hdr, ok, rest, err := txn.ReadProxyHeader(client)
		if err != nil {
			s.log.RecordError(proxyerr.New(proxyerr.WhoClient, proxyerr.WhenConnection, proxyerr.KindRead, err))
			return
		}
		client = &proxyAwareConn{Conn: client, r: rest}
		if ok {
			proxyHdr = hdr
		}
	}

	for {
		keepAlive, err := s.relayOne(client, proxyHdr)
		if err != nil {
			s.log.RecordError(proxyerr.New(proxyerr.WhoProxy, proxyerr.WhenData, proxyerr.KindRead, err))
			return
		}
		if !keepAlive {
			return
		}
	}
}

// proxyAwareConn lets a connection's Read calls resume from the buffered
// tail ReadProxyHeader left behind (the bufio lookahead that peeked past
// the preamble line into the first request), while Write/Close/deadline
// calls still go straight to the underlying net.Conn.
type proxyAwareConn struct {
	net.Conn
	r io.Reader
}

func (c *proxyAwareConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// relayOne relays exactly one request/response transaction over client,
// dialing a fresh upstream connection per transaction; backend
// connections are not reused across transactions.
func (s *Server) relayOne(client net.Conn, proxyHdr *txn.ProxyHeader) (keepAlive bool, err error) {
	start := time.Now()
	tx := txn.NewTransaction(s.ringSize, s.cfg.HeaderSlots)
	tx.ReqBuf.Reserve = s.rewriteMargin
	tx.RespBuf.Reserve = s.rewriteMargin

	parser := httpmsg.New(httpmsg.Limits{MaxLineBytes: 8192, MaxHeaderBytes: s.ringSize})

	if err := readHeaders(client, tx.ReqBuf, tx.ReqIdx, tx.ReqMsg, parser.StepRequest); err != nil {
		return false, err
	}

	tx.Cookies = s.cookieProc.ProcessRequest(tx.ReqBuf, tx.ReqIdx, &tx.ReqMsg.Eoh, s.cookieCfg, s.serverLookup)

	reqTokens := txn.ParseConnectionTokens(tx.ReqBuf, tx.ReqIdx, "Connection")
	mode := txn.SelectMode(txn.SelectionInput{
		FE:               s.cfg.frontendOptions(),
		BE:               s.cfg.backendOptions(),
		ProtoMinor:       tx.ReqMsg.ProtoMinor,
		ReqTokens:        reqTokens,
		KnownLength:      hasKnownRequestLength(tx.ReqMsg),
		UpgradeRequested: reqTokens.Upgrade,
	})
	tx.Mode = mode

	if s.cfg.StatsURI != "" && tx.ReqMsg.Method == "POST" && tx.ReqMsg.URI == s.cfg.StatsURI {
		werr := s.handleAdminPost(client, tx)
		s.log.LogTransaction(logctx.TransactionSummary{
			Method: tx.ReqMsg.Method, ConnectionMode: mode.String(), Duration: time.Since(start),
		})
		return mode == txn.ModeKeepAlive && werr == nil, werr
	}

	evalCtx := s.buildEvalContext(client, proxyHdr, tx)
	outcome, applied := s.engine.Evaluate(rules.HookHTTPRequest, evalCtx, true)
	if err := applyHeaderActions(tx.ReqBuf, tx.ReqIdx, &tx.ReqMsg.Eoh, applied); err != nil {
		return false, err
	}
	if outcome.Matched {
		if resp, handled := canned(outcome.Action, mode == txn.ModeKeepAlive); handled {
			_, werr := client.Write(resp)
			s.log.LogTransaction(logctx.TransactionSummary{
				Method: tx.ReqMsg.Method, ConnectionMode: mode.String(), Duration: time.Since(start),
			})
			return mode == txn.ModeKeepAlive && werr == nil, werr
		}
	}

	if err := txn.RewriteConnectionHeader(tx.ReqBuf, tx.ReqIdx, &tx.ReqMsg.Eoh, mode); err != nil {
		return false, err
	}

	upstream, err := net.DialTimeout("tcp", s.cfg.Upstream, 10*time.Second)
	if err != nil {
		s.log.RecordError(proxyerr.New(proxyerr.WhoServer, proxyerr.WhenConnection, proxyerr.KindRead, err))
		_, _ = client.Write(proxyerr.CannedResponse(502))
		return false, nil
	}
	defer upstream.Close()

	if err := writeHeaders(upstream, tx.ReqBuf, tx.ReqMsg.Eoh); err != nil {
		return false, err
	}
	if err := relayBody(upstream, client, tx.ReqBuf, tx.ReqMsg); err != nil {
		return false, err
	}

	if err := readHeaders(upstream, tx.RespBuf, tx.RespIdx, tx.RespMsg, parser.StepResponse); err != nil {
		return false, err
	}

	respTokens := txn.ParseConnectionTokens(tx.RespBuf, tx.RespIdx, "Connection")
	mode = txn.ResolveResponseMode(mode, respTokens, s.cfg.BackendServerClose)
	tx.Mode = mode

	s.cookieProc.ProcessResponse(tx.RespBuf, tx.RespIdx, &tx.RespMsg.Eoh, s.cookieCfg, s.cfg.Upstream, "")

	if err := txn.RewriteConnectionHeader(tx.RespBuf, tx.RespIdx, &tx.RespMsg.Eoh, mode); err != nil {
		return false, err
	}

	if compressed, algo, ok := s.compressIfApplicable(tx, upstream); ok {
		if err := rewriteContentEncoding(tx.RespBuf, tx.RespIdx, &tx.RespMsg.Eoh, algo); err != nil {
			return false, err
		}
		if err := stripContentLengthAddChunked(tx.RespBuf, tx.RespIdx, &tx.RespMsg.Eoh); err != nil {
			return false, err
		}
		if err := writeHeaders(client, tx.RespBuf, tx.RespMsg.Eoh); err != nil {
			return false, err
		}
		if err := writeChunkedPayload(client, compressed); err != nil {
			return false, err
		}
	} else {
		if err := writeHeaders(client, tx.RespBuf, tx.RespMsg.Eoh); err != nil {
			return false, err
		}
		if err := relayBody(client, upstream, tx.RespBuf, tx.RespMsg); err != nil {
			return false, err
		}
	}

	tx.Resync()
	s.log.LogTransaction(logctx.TransactionSummary{
		Method:         tx.ReqMsg.Method,
		Status:         tx.RespMsg.StatusCode,
		ConnectionMode: mode.String(),
		Duration:       time.Since(start),
	})
	return mode == txn.ModeKeepAlive && !tx.Aborted(), nil
}

func (s *Server) serverLookup(serverID string) (known, up bool) {
	return serverID == s.cfg.Upstream, true
}

// applyHeaderActions executes the non-terminal ADD_HDR/SET_HDR actions a
// rule walk accumulated, mutating the header index in place. SET_HDR
// drops every existing line with that name first; ADD_HDR always appends.
// A rule-supplied name/value that fails header validation is skipped
// rather than applied, so a misconfigured rule can't corrupt the wire.
func applyHeaderActions(buf *ring.Buffer, idx *headeridx.Index, eoh *int, actions []rules.Action) error {
	for _, a := range actions {
		if a.Kind != rules.ActionAddHdr && a.Kind != rules.ActionSetHdr {
			continue
		}
		if err := headeridx.ValidateField(a.HeaderName, a.HeaderValue); err != nil {
			continue
		}
		if a.Kind == rules.ActionSetHdr {
			removeAllHeaderLines(idx, eoh, a.HeaderName)
		}
		if err := insertHeaderLine(buf, idx, eoh, a.HeaderName, a.HeaderValue); err != nil {
			return err
		}
	}
	return nil
}

func removeAllHeaderLines(idx *headeridx.Index, eoh *int, name string) {
	for {
		ctx, ok := idx.Find(name, headeridx.Ctx{})
		if !ok {
			return
		}
		idx.RemoveEntry(ctx.EntryIdx(), eoh)
	}
}

func insertHeaderLine(buf *ring.Buffer, idx *headeridx.Index, eoh *int, name, value string) error {
	line := []byte(name + ": " + value + "\r\n")
	delta, err := buf.Insert(*eoh, line)
	if err != nil {
		return err
	}
	if _, err := idx.Add(*eoh, len(line)-2, true, idx.Tail()); err != nil {
		return err
	}
	*eoh += delta
	return nil
}

// handleAdminPost decodes a stats-admin POST body and answers with the
// 303/Location;st=<status> redirect the admin UI polls for (spec §6
// "Stats admin protocol"). Malformed or unrecognized bodies get st=ERRP;
// a backend name that doesn't match this relay's single fixed upstream
// gets st=UNKN.
func (s *Server) handleAdminPost(client net.Conn, tx *txn.Transaction) error {
	if tx.ReqMsg.Flags&httpmsg.FlagHasContentLength == 0 {
		_, err := client.Write(proxyerr.CannedResponse(400))
		return err
	}
	body, err := readContentLengthBody(client, tx.ReqBuf, tx.ReqMsg.BodyLen)
	if err != nil {
		return err
	}

	status := rules.StatusDone
	req, perr := rules.ParseAdminRequest(string(body))
	switch {
	case perr != nil || !req.Valid():
		status = rules.StatusErrP
	case req.Backend != "" && req.Backend != s.cfg.Upstream:
		status = rules.StatusUnkn
	}

	location := rules.BuildAdminRedirectLocation(s.cfg.StatsURI, status)
	_, err = client.Write(proxyerr.RedirectResponse(303, location, "", false))
	return err
}

func (s *Server) buildEvalContext(client net.Conn, proxyHdr *txn.ProxyHeader, tx *txn.Transaction) *rules.EvalContext {
	host, portStr, _ := net.SplitHostPort(client.RemoteAddr().String())
	port, _ := strconv.Atoi(portStr)
	if proxyHdr != nil && proxyHdr.SrcIP != nil {
		host = proxyHdr.SrcIP.String()
		port = proxyHdr.SrcPort
	}

	parsedURL, _ := httpmsg.ParseRequestURI(tx.ReqMsg.URI)
	path := tx.ReqMsg.URI
	if parsedURL != nil {
		path = parsedURL.Path
	}

	headerLookup := func(name string) (string, bool) {
		ctx, ok := tx.ReqIdx.Find(name, headeridx.Ctx{})
		if !ok {
			return "", false
		}
		return headerValue(tx.ReqBuf, ctx), true
	}

	hostHdr, _ := headerLookup("Host")

	return &rules.EvalContext{
		SrcIP:        net.ParseIP(host),
		SrcPort:      port,
		Method:       tx.ReqMsg.Method,
		Path:         path,
		URL:          tx.ReqMsg.URI,
		Host:         hostHdr,
		Version:      fmt.Sprintf("1.%d", tx.ReqMsg.ProtoMinor),
		FirstRequest: true,
		HeaderLookup: headerLookup,
		CookieLookup: func(name string) (string, bool) {
			ctx := headeridx.Ctx{}
			for {
				next, ok := tx.ReqIdx.Find("Cookie", ctx)
				if !ok {
					return "", false
				}
				ctx = next
				if v, ok := lookupCookiePair(tx.ReqBuf, ctx, name); ok {
					return v, true
				}
			}
		},
		URLParam: func(name string) (string, bool) {
			if parsedURL == nil {
				return "", false
			}
			return lookupURLParam(parsedURL.RawQuery, name)
		},
	}
}

// lookupCookiePair scans one Cookie header line's value for name, returning
// its raw value. Used only by the rule engine's sample fetches; the cookie
// package owns the authoritative, index-synchronized pair scan used for
// persistence-cookie rewriting.
func lookupCookiePair(buf *ring.Buffer, ctx headeridx.Ctx, name string) (string, bool) {
	val := headerValue(buf, ctx)
	for _, part := range strings.Split(val, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && strings.EqualFold(strings.TrimSpace(kv[0]), name) {
			return strings.TrimSpace(kv[1]), true
		}
	}
	return "", false
}

// lookupURLParam finds name in a raw query string without allocating a
// full url.Values map, mirroring the shape of lookupCookiePair above.
func lookupURLParam(rawQuery, name string) (string, bool) {
	for _, part := range strings.Split(rawQuery, "&") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && kv[0] == name {
			return kv[1], true
		}
	}
	return "", false
}

// compressIfApplicable selects a response compression algorithm off the
// configured whitelist and, when one applies to a body whose length is
// known up front (not chunked), reads the whole body and runs it through
// a pooled codec. Chunked bodies are relayed untouched: recompressing a
// chunked stream chunk-by-chunk would need a second framing pass this
// relay doesn't attempt; the codec itself is exercised
// directly by internal/compress's own tests.
func (s *Server) compressIfApplicable(tx *txn.Transaction, upstream io.Reader) (compressed []byte, algo compress.Algorithm, ok bool) {
	if tx.RespMsg.Flags&httpmsg.FlagChunked != 0 {
		return nil, "", false
	}
	if tx.RespMsg.Flags&httpmsg.FlagHasContentLength == 0 || tx.RespMsg.BodyLen <= 0 {
		return nil, "", false
	}

	acceptCtx, found := tx.ReqIdx.Find("Accept-Encoding", headeridx.Ctx{})
	if !found {
		return nil, "", false
	}
	accepts := strings.Split(headerValue(tx.ReqBuf, acceptCtx), ",")

	_, hasCE := tx.RespIdx.Find("Content-Encoding", headeridx.Ctx{})
	var contentType string
	if ctTypeCtx, found := tx.RespIdx.Find("Content-Type", headeridx.Ctx{}); found {
		contentType = headerValue(tx.RespBuf, ctTypeCtx)
	}

	algo, selected := compress.SelectResponseAlgorithm(compress.SelectionInput{
		AcceptEncodings:    accepts,
		HTTPMinor:          tx.RespMsg.ProtoMinor,
		StatusCode:         tx.RespMsg.StatusCode,
		BodyLen:            tx.RespMsg.BodyLen,
		Chunked:            false,
		ContentEncodingSet: hasCE,
		ContentType:        contentType,
	}, algorithmList(s.cfg.CompressionAlgorithms))
	if !selected || algo == compress.Identity {
		return nil, "", false
	}

	body, err := readContentLengthBody(upstream, tx.RespBuf, tx.RespMsg.BodyLen)
	if err != nil {
		s.log.RecordError(proxyerr.New(proxyerr.WhoServer, proxyerr.WhenData, proxyerr.KindRead, err))
		return nil, "", false
	}

	codec, err := s.compress.Get(algo, s.cfg.CompressionLevel)
	if err != nil {
		return nil, "", false
	}
	defer s.compress.Put(algo, s.cfg.CompressionLevel, codec)

	if _, err := codec.AddData(body); err != nil {
		return nil, "", false
	}
	out := codec.Take()
	tail, err := codec.Flush(compress.Finish)
	if err != nil {
		return nil, "", false
	}
	return append(out, tail...), algo, true
}

// readContentLengthBody collects exactly bodyLen bytes of a Content-Length
// framed body, first draining whatever was already read ahead into buf.
func readContentLengthBody(src io.Reader, buf *ring.Buffer, bodyLen int64) ([]byte, error) {
	out := make([]byte, 0, bodyLen)
	if preread := buf.InputLen(); preread > 0 {
		n := preread
		if int64(n) > bodyLen {
			n = int(bodyLen)
		}
		buf.Advance(n)
		for buf.OutputLen() > 0 {
			m := buf.OutputLen()
			data := buf.SliceContiguous(-m, m)
			if len(data) == 0 {
				break
			}
			out = append(out, data...)
			buf.Consume(len(data))
		}
	}
	remaining := bodyLen - int64(len(out))
	if remaining > 0 {
		rest := make([]byte, remaining)
		if _, err := io.ReadFull(src, rest); err != nil {
			return nil, err
		}
		out = append(out, rest...)
	}
	return out, nil
}

// rewriteContentEncoding inserts or replaces the response's
// Content-Encoding header with algo.
func rewriteContentEncoding(buf *ring.Buffer, idx *headeridx.Index, eoh *int, algo compress.Algorithm) error {
	if ctx, found := idx.Find("Content-Encoding", headeridx.Ctx{}); found {
		delta := buf.Replace(ctx.ValOffset(), ctx.ValOffset()+ctx.ValLen(), []byte(algo))
		idx.ApplyDelta(ctx.ValOffset(), delta)
		*eoh += delta
		return nil
	}
	line := []byte("Content-Encoding: " + string(algo) + "\r\n")
	delta, err := buf.Insert(*eoh, line)
	if err != nil {
		return err
	}
	if _, err := idx.Add(*eoh, len(line)-2, true, idx.Tail()); err != nil {
		return err
	}
	*eoh += delta
	return nil
}

// stripContentLengthAddChunked drops the response's Content-Length header
// and adds Transfer-Encoding: chunked in its place, matching spec §4.5 "on
// success: strip Content-Length, add Transfer-Encoding: chunked" for a
// response whose body is being compressed in place.
func stripContentLengthAddChunked(buf *ring.Buffer, idx *headeridx.Index, eoh *int) error {
	if ctx, found := idx.Find("Content-Length", headeridx.Ctx{}); found {
		idx.RemoveEntry(ctx.EntryIdx(), eoh)
	}
	return insertHeaderLine(buf, idx, eoh, "Transfer-Encoding", "chunked")
}

// writeChunkedPayload frames body as a single chunk followed by the
// terminating zero-chunk and writes both straight to w (spec §4.4's fixed
// 6-hex-digit chunk-size header, reused here to frame an already-fully-
// buffered compressed body rather than a streamed one). EmitChunkSize only
// knows how to write into a ring.Buffer, so a small scratch buffer is used
// purely to render the size lines before draining them to w.
func writeChunkedPayload(w io.Writer, body []byte) error {
	if err := writeChunkSizeLine(w, int64(len(body)), 0); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		return err
	}
	return writeChunkSizeLine(w, 0, 1)
}

func writeChunkSizeLine(w io.Writer, size int64, addCRLF int) error {
	scratch := ring.New(16)
	if _, err := chunk.EmitChunkSize(scratch, 0, size, addCRLF); err != nil {
		return err
	}
	scratch.Advance(scratch.InputLen())
	return drainOutput(w, scratch)
}

func algorithmList(names []string) []compress.Algorithm {
	out := make([]compress.Algorithm, 0, len(names))
	for _, n := range names {
		out = append(out, compress.Algorithm(strings.ToLower(strings.TrimSpace(n))))
	}
	return out
}

func headerValue(buf *ring.Buffer, ctx headeridx.Ctx) string {
	out := make([]byte, ctx.ValLen())
	for i := range out {
		out[i] = buf.ReadAt(ctx.ValOffset() + i)
	}
	return strings.TrimSpace(string(out))
}

func hasKnownRequestLength(m *httpmsg.Message) bool {
	if m.Flags&httpmsg.FlagChunked != 0 {
		return true
	}
	if m.Flags&httpmsg.FlagHasContentLength != 0 {
		return true
	}
	return m.Method == "GET" || m.Method == "HEAD"
}

// canned renders a terminal rule action into an HTTP response, or reports
// handled=false for actions this relay doesn't terminate on (SET_BACKEND
// has no meaning with a single fixed upstream).
func canned(a rules.Action, keepAlive bool) (resp []byte, handled bool) {
	switch a.Kind {
	case rules.ActionDeny:
		return proxyerr.CannedResponse(403), true
	case rules.ActionAllow:
		return nil, false
	case rules.ActionAuth:
		return proxyerr.AuthChallenge(401, a.Realm), true
	case rules.ActionRedirect:
		return proxyerr.RedirectResponse(a.RedirectCode, a.Location, a.SetCookie, keepAlive), true
	case rules.ActionTarpit:
		return proxyerr.CannedResponse(500), true
	default:
		return nil, false
	}
}

// readHeaders reads from r into buf until step reports HeadersDone,
// feeding the ring as bytes arrive (spec §5 "every analyser may return
// NeedMoreData, installing itself back on the channel for the next
// read").
func readHeaders(r io.Reader, buf *ring.Buffer, idx *headeridx.Index, msg *httpmsg.Message, step func(*httpmsg.Message, *ring.Buffer, *headeridx.Index) httpmsg.Result) error {
	readBuf := make([]byte, 4096)
	for {
		switch step(msg, buf, idx) {
		case httpmsg.HeadersDone:
			return nil
		case httpmsg.Failed:
			return fmt.Errorf("haproxycore: malformed message at offset %d", msg.ErrPosition)
		case httpmsg.NeedMoreData:
			n, err := r.Read(readBuf)
			if n > 0 {
				buf.AppendInput(readBuf[:n])
			}
			if err != nil {
				return err
			}
		}
	}
}

// writeHeaders drains exactly the header-section bytes (everything up to
// eoh) from buf onto w, advancing them from input into output first.
func writeHeaders(w io.Writer, buf *ring.Buffer, eoh int) error {
	buf.Advance(eoh)
	return drainOutput(w, buf)
}

func drainOutput(w io.Writer, buf *ring.Buffer) error {
	for buf.OutputLen() > 0 {
		n := buf.OutputLen()
		data := buf.SliceContiguous(-n, n)
		if len(data) == 0 {
			break
		}
		written, err := w.Write(data)
		if written > 0 {
			buf.Consume(written)
		}
		if err != nil {
			return err
		}
		if written == 0 {
			break
		}
	}
	return nil
}

// relayBody forwards whatever body bytes remain per the message's framing:
// Content-Length-bounded, chunked (forwarded byte-for-byte after validating
// framing through internal/chunk), or close-delimited.
func relayBody(dst io.Writer, src io.Reader, buf *ring.Buffer, msg *httpmsg.Message) error {
	switch {
	case msg.Flags&httpmsg.FlagChunked != 0:
		return relayChunkedBody(dst, src, buf)

	case msg.Flags&httpmsg.FlagHasContentLength != 0:
		remaining := msg.BodyLen
		if preread := buf.InputLen(); preread > 0 {
			n := preread
			if int64(n) > remaining {
				n = int(remaining)
			}
			buf.Advance(n)
			if err := drainOutput(dst, buf); err != nil {
				return err
			}
			remaining -= int64(n)
		}
		if remaining <= 0 {
			return nil
		}
		_, err := io.CopyN(dst, src, remaining)
		if err == io.EOF {
			return nil
		}
		return err

	default:
		if preread := buf.InputLen(); preread > 0 {
			buf.Advance(preread)
			if err := drainOutput(dst, buf); err != nil {
				return err
			}
		}
		if msg.Method == "HEAD" {
			return nil
		}
		_, err := io.Copy(dst, src)
		if err != nil && err != io.EOF {
			return err
		}
		return nil
	}
}

// relayChunkedBody reads chunk-size lines, chunk data, and the trailer
// section directly against buf's ring cursor, forwarding each fully
// buffered chunk (data plus its terminating CRLF) as soon as it arrives
// rather than accumulating the whole body in memory.
func relayChunkedBody(dst io.Writer, src io.Reader, buf *ring.Buffer) error {
	readBuf := make([]byte, 4096)
	fill := func() error {
		n, err := src.Read(readBuf)
		if n > 0 {
			buf.AppendInput(readBuf[:n])
		}
		if n == 0 && err == nil {
			return io.ErrNoProgress
		}
		return err
	}

	pos := 0
	for {
		size, next, res := chunk.ParseChunkSize(buf, pos)
		for res == chunk.NeedMore {
			if err := fill(); err != nil {
				return err
			}
			size, next, res = chunk.ParseChunkSize(buf, pos)
		}
		if res == chunk.Malformed {
			return chunk.ErrBadChunk
		}
		pos = next

		if size == 0 {
			tnext, tres := chunk.ForwardTrailers(buf, pos)
			for tres == chunk.NeedMore {
				if err := fill(); err != nil {
					return err
				}
				tnext, tres = chunk.ForwardTrailers(buf, pos)
			}
			if tres == chunk.Malformed {
				return chunk.ErrBadChunk
			}
			buf.Advance(tnext)
			return drainOutput(dst, buf)
		}

		for int64(buf.InputLen()) < int64(pos)+size {
			if err := fill(); err != nil {
				return err
			}
		}
		pos += int(size)

		cnext, cres := chunk.SkipChunkCRLF(buf, pos)
		for cres == chunk.NeedMore {
			if err := fill(); err != nil {
				return err
			}
			cnext, cres = chunk.SkipChunkCRLF(buf, pos)
		}
		if cres == chunk.Malformed {
			return chunk.ErrBadChunk
		}
		pos = cnext

		buf.Advance(pos)
		if err := drainOutput(dst, buf); err != nil {
			return err
		}
		pos = 0
	}
}
