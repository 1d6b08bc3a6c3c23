// Package txn ties together the ring buffers, header index, message
// parser, chunk codec, compression, and cookie passes into one
// per-connection transaction, and implements the bidirectional
// state-machine pair that negotiates connection mode and end-of-message
// across both directions (spec §4.7, §3 "Transaction").
package txn

import (
	"strings"

	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/ring"
)

// Mode is the negotiated connection-lifecycle mode for a transaction
// (spec §4.7).
type Mode int

const (
	ModeKeepAlive Mode = iota
	ModeServerClose
	ModeHTTPClose
	ModeForceClose
	ModeTunnel
)

func (m Mode) String() string {
	switch m {
	case ModeKeepAlive:
		return "KAL"
	case ModeServerClose:
		return "SCL"
	case ModeHTTPClose:
		return "HTC"
	case ModeForceClose:
		return "FCL"
	case ModeTunnel:
		return "TUN"
	default:
		return "?"
	}
}

// Tokens records which Connection-header tokens were present on a
// message.
type Tokens struct {
	Close     bool
	KeepAlive bool
	Upgrade   bool
}

// FrontendOptions and BackendOptions carry the configured per-proxy
// connection-mode policy (spec §4.7 "Inputs: frontend options, backend
// options").
type FrontendOptions struct {
	ForceClose bool
	Stopping   bool
}

type BackendOptions struct {
	ForceClose  bool
	HTTPClose   bool
	ServerClose bool
}

// SelectionInput bundles everything connection-mode selection reads.
type SelectionInput struct {
	FE FrontendOptions
	BE BackendOptions

	ProtoMinor       int // 1 for HTTP/1.1, 0 for HTTP/1.0
	ReqTokens        Tokens
	KnownLength      bool
	UpgradeRequested bool
}

// SelectMode applies the precedence FORCE_CLOSE > HTTP_CLOSE >
// SERVER_CLOSE > KEEP_ALIVE > TUNNEL, then downgrades a tentative
// KEEP_ALIVE to a close mode per spec's listed conditions. Upgrade
// requests win outright and move the transaction to TUNNEL.
func SelectMode(in SelectionInput) Mode {
	if in.UpgradeRequested {
		return ModeTunnel
	}

	mode := ModeKeepAlive
	switch {
	case in.FE.ForceClose || in.BE.ForceClose:
		mode = ModeForceClose
	case in.BE.HTTPClose:
		mode = ModeHTTPClose
	case in.BE.ServerClose:
		mode = ModeServerClose
	}

	if mode == ModeKeepAlive {
		switch {
		case in.ReqTokens.Close:
			mode = ModeHTTPClose
		case in.ProtoMinor == 0 && !in.ReqTokens.KeepAlive:
			mode = ModeHTTPClose
		case !in.KnownLength:
			mode = ModeHTTPClose
		case in.FE.Stopping:
			mode = ModeHTTPClose
		}
	}
	return mode
}

// ResolveResponseMode applies the response-side downgrade rule: a
// tentative KEEP_ALIVE is downgraded to SERVER_CLOSE if the server forces
// close or the response itself carries a Connection: close token.
func ResolveResponseMode(initial Mode, respTokens Tokens, serverForcesClose bool) Mode {
	if initial != ModeKeepAlive {
		return initial
	}
	if serverForcesClose || respTokens.Close {
		return ModeServerClose
	}
	return initial
}

// ParseConnectionTokens scans every occurrence of headerName (normally
// "Connection") for close/keep-alive/upgrade tokens.
func ParseConnectionTokens(buf *ring.Buffer, idx *headeridx.Index, headerName string) Tokens {
	var t Tokens
	ctx := headeridx.Ctx{}
	for {
		next, ok := idx.Find(headerName, ctx)
		if !ok {
			break
		}
		ctx = next
		for v, has := next, true; has; v, has = idx.IterateValue(v) {
			for _, part := range strings.Split(readRange(buf, v.ValOffset(), v.ValOffset()+v.ValLen()), ",") {
				switch strings.ToLower(strings.TrimSpace(part)) {
				case "close":
					t.Close = true
				case "keep-alive":
					t.KeepAlive = true
				case "upgrade":
					t.Upgrade = true
				}
			}
		}
	}
	return t
}

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

// RewriteConnectionHeader sets (or inserts) a Connection header reflecting
// mode, unless an existing Connection header carries an Upgrade token, in
// which case it is left untouched (spec §4.7 "Upgrade: if Upgrade token
// present, do not alter Connection").
func RewriteConnectionHeader(buf *ring.Buffer, idx *headeridx.Index, eoh *int, mode Mode) error {
	if mode == ModeTunnel {
		return nil
	}
	desired := "close"
	if mode == ModeKeepAlive {
		desired = "keep-alive"
	}

	ctx, ok := idx.Find("Connection", headeridx.Ctx{})
	if ok {
		for v, has := ctx, true; has; v, has = idx.IterateValue(v) {
			for _, part := range strings.Split(readRange(buf, v.ValOffset(), v.ValOffset()+v.ValLen()), ",") {
				if strings.ToLower(strings.TrimSpace(part)) == "upgrade" {
					return nil
				}
			}
		}
		delta := buf.Replace(ctx.ValOffset(), ctx.ValOffset()+ctx.ValLen(), []byte(desired))
		idx.ApplyDelta(ctx.ValOffset(), delta)
		*eoh += delta
		return nil
	}

	line := []byte("Connection: " + desired + "\r\n")
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
