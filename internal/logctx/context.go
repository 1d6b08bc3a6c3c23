// Package logctx bundles the process-wide logging surface and allocation
// pools described in spec §9 ("Global mutable state... Represent them as
// a process-wide context struct initialized at startup and passed by
// reference") and the compact flag sets of §7 that logging consults.
package logctx

import (
	"io"
	"sync"
	"time"

	"github.com/jbuchbinder/haproxy/internal/proxyerr"
	"github.com/sirupsen/logrus"
)

// Capacities sizes the process-wide pools; zero values fall back to
// sane defaults so a caller can pass a zero-value Capacities.
type Capacities struct {
	HeaderBuf   int
	CaptureBuf  int
	UniqueIDBuf int
}

func (c Capacities) headerCap() int {
	if c.HeaderBuf > 0 {
		return c.HeaderBuf
	}
	return 256
}

func (c Capacities) captureCap() int {
	if c.CaptureBuf > 0 {
		return c.CaptureBuf
	}
	return 128
}

func (c Capacities) uniqueIDCap() int {
	if c.UniqueIDBuf > 0 {
		return c.UniqueIDBuf
	}
	return 32
}

// Context is the process-wide logging and pooling surface; one instance
// is shared by every connection (spec §5 "Memory pools for headers,
// captures, and unique-IDs are process-wide, but allocations and frees
// happen only from the event loop").
type Context struct {
	Logger *logrus.Logger

	mu        sync.Mutex
	errorMask proxyerr.Mask
	phaseMask proxyerr.Mask

	headerPool   sync.Pool
	capturePool  sync.Pool
	uniqueIDPool sync.Pool
}

// NewContext builds a Context logging at level to out, sizing its pools
// per capacity (spec §9 "process-wide context struct initialized at
// startup"). No config file is read here; the CLI layer is the only
// place flags are parsed, and it passes the resulting plain values in.
func NewContext(level logrus.Level, out io.Writer, capacity Capacities) *Context {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(out)
	return &Context{
		Logger:       logger,
		headerPool:   sync.Pool{New: func() any { return make([]byte, 0, capacity.headerCap()) }},
		capturePool:  sync.Pool{New: func() any { return make([]byte, 0, capacity.captureCap()) }},
		uniqueIDPool: sync.Pool{New: func() any { return make([]byte, 0, capacity.uniqueIDCap()) }},
	}
}

// GetHeaderBuf and PutHeaderBuf hand out reusable scratch buffers for
// header-line assembly (e.g. cookie/rewrite staging) so the hot path
// doesn't allocate per request.
func (c *Context) GetHeaderBuf() []byte  { return c.headerPool.Get().([]byte)[:0] }
func (c *Context) PutHeaderBuf(b []byte) { c.headerPool.Put(b) } //nolint:staticcheck // pool element intentionally reused by value

func (c *Context) GetCaptureBuf() []byte  { return c.capturePool.Get().([]byte)[:0] }
func (c *Context) PutCaptureBuf(b []byte) { c.capturePool.Put(b) }

func (c *Context) GetUniqueIDBuf() []byte  { return c.uniqueIDPool.Get().([]byte)[:0] }
func (c *Context) PutUniqueIDBuf(b []byte) { c.uniqueIDPool.Put(b) }

// RecordError folds e into both compact masks and logs it at the
// severity its Kind implies (spec §7 "recorded in two compact flag sets
// (error mask and phase mask) consulted by logging").
func (c *Context) RecordError(e *proxyerr.Error) {
	c.mu.Lock()
	c.errorMask = proxyerr.ErrorMaskBit(c.errorMask, e)
	c.phaseMask = proxyerr.PhaseMaskBit(c.phaseMask, e)
	c.mu.Unlock()

	entry := c.Logger.WithFields(logrus.Fields{
		"who":  e.Who.String(),
		"when": e.When.String(),
		"kind": e.Kind.String(),
	})
	if e.Kind == proxyerr.KindParse {
		entry = entry.WithField("err_pos", e.ErrPosition)
	}
	if e.Kind == proxyerr.KindPolicyDenial {
		entry.Warn("proxy error")
		return
	}
	entry.Error("proxy error")
}

// ErrorMask and PhaseMask return the accumulated masks (spec §7) as
// uint16, the width the masks are specified to use.
func (c *Context) ErrorMask() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint16(c.errorMask)
}

func (c *Context) PhaseMask() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint16(c.phaseMask)
}

// TransactionSummary is the plain-value digest LogTransaction emits one
// structured line for; callers build it from a txn.Transaction without
// this package depending on txn.
type TransactionSummary struct {
	Method         string
	Status         int
	BytesIn        int64
	BytesOut       int64
	ConnectionMode string
	Duration       time.Duration
}

// LogTransaction emits one structured line summarizing a completed
// transaction, folding in the masks accumulated since the Context was
// created (they are cumulative and never cleared)
// (spec A.1: "emits one structured logrus.Fields entry per finished
// transaction recording method, status, bytes in/out, connection mode,
// error mask, phase mask, and duration").
func (c *Context) LogTransaction(s TransactionSummary) {
	c.Logger.WithFields(logrus.Fields{
		"method":          s.Method,
		"status":          s.Status,
		"bytes_in":        s.BytesIn,
		"bytes_out":       s.BytesOut,
		"connection_mode": s.ConnectionMode,
		"error_mask":      c.ErrorMask(),
		"phase_mask":      c.PhaseMask(),
		"duration":        s.Duration.String(),
	}).Info("transaction complete")
}
