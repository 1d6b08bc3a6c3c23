package txn

import (
	"github.com/jbuchbinder/haproxy/internal/compress"
	"github.com/jbuchbinder/haproxy/internal/cookie"
	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/httpmsg"
	"github.com/jbuchbinder/haproxy/internal/ring"
)

// Transaction owns one request and one response message, their shared
// header indices, and the per-direction ring buffers, per spec §3
// "Ownership": a connection exclusively owns its two rings and one
// transaction; the transaction exclusively owns its header index and
// compression context.
type Transaction struct {
	ReqBuf  *ring.Buffer
	RespBuf *ring.Buffer
	ReqIdx  *headeridx.Index
	RespIdx *headeridx.Index
	ReqMsg  *httpmsg.Message
	RespMsg *httpmsg.Message

	Mode Mode

	Compression *compress.Context
	Cookies     cookie.RequestResult

	ended   bool
	aborted bool
}

// NewTransaction allocates a Transaction with rings of the given capacity
// and header-index arenas of the given entry capacity.
func NewTransaction(ringSize, idxCapacity int) *Transaction {
	reqBuf := ring.New(ringSize)
	respBuf := ring.New(ringSize)
	return &Transaction{
		ReqBuf:  reqBuf,
		RespBuf: respBuf,
		ReqIdx:  headeridx.New(reqBuf, idxCapacity),
		RespIdx: headeridx.New(respBuf, idxCapacity),
		ReqMsg:  httpmsg.NewRequest(),
		RespMsg: httpmsg.NewResponse(),
		Mode:    ModeKeepAlive,
	}
}

// Ended reports whether the transaction reached a terminal close and was
// cleaned up by Resync.
func (t *Transaction) Ended() bool { return t.ended }

// Aborted reports whether Resync force-aborted both directions.
func (t *Transaction) Aborted() bool { return t.aborted }

// Resync applies the bidirectional convergence rules of spec §4.7. It
// should be called after every state change on either side; repeated
// calls with no state change are idempotent no-ops.
func (t *Transaction) Resync() {
	if t.aborted || t.ended {
		return
	}

	// Either side entering TUNNEL puts the other into TUNNEL and disables
	// body analysers (their own scheduler simply stops invoking the
	// parser once State == Tunnel).
	if t.ReqMsg.State == httpmsg.Tunnel || t.RespMsg.State == httpmsg.Tunnel {
		t.ReqMsg.State = httpmsg.Tunnel
		t.RespMsg.State = httpmsg.Tunnel
		t.Mode = ModeTunnel
		return
	}

	if t.RespMsg.State == httpmsg.Error || (t.ReqMsg.State == httpmsg.Closed && t.RespMsg.State == httpmsg.Closed) {
		t.abort()
		return
	}

	if t.Mode == ModeServerClose {
		// Request DONE + Response DONE in SCL: request side initiates
		// shutdown-writes.
		// Each call advances at most one step.
		if t.ReqMsg.State == httpmsg.Done && t.RespMsg.State == httpmsg.Done {
			t.ReqMsg.State = httpmsg.Closing
			return
		}
		if t.ReqMsg.State == httpmsg.Closing && t.ReqBuf.OutputLen() == 0 {
			t.ReqMsg.State = httpmsg.Closed
			return
		}
		// Request CLOSED + Response DONE + SCL: end the transaction.
		if t.ReqMsg.State == httpmsg.Closed && t.RespMsg.State == httpmsg.Done {
			t.end()
		}
	}
}

// end marks the transaction finished; the caller (connection owner) resets
// state for keep-alive reuse and closes the backend connection.
func (t *Transaction) end() { t.ended = true }

// abort marks both directions aborted; the caller tears down both
// connections.
func (t *Transaction) abort() {
	t.aborted = true
	t.ReqMsg.State = httpmsg.Error
	t.RespMsg.State = httpmsg.Error
}

// Reset clears both messages and indices for keep-alive reuse, preserving
// the allocated ring/index arenas (spec §9 "process-wide pools"; here
// scoped per-connection since rings are exclusively owned, per
// §3 "Ownership").
func (t *Transaction) Reset() {
	t.ReqMsg.Reset(true)
	t.RespMsg.Reset(false)
	t.ReqIdx.Reset()
	t.RespIdx.Reset()
	t.ReqBuf.Reset()
	t.RespBuf.Reset()
	t.Mode = ModeKeepAlive
	t.Cookies = cookie.RequestResult{}
	t.ended = false
	t.aborted = false
}
