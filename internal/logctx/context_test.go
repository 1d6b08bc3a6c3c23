package logctx

import (
	"io"
	"testing"
	"time"

	"github.com/jbuchbinder/haproxy/internal/proxyerr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRecordErrorAccumulatesMasks(t *testing.T) {
	ctx := NewContext(logrus.ErrorLevel, io.Discard, Capacities{})
	ctx.RecordError(proxyerr.New(proxyerr.WhoClient, proxyerr.WhenConnection, proxyerr.KindRead, nil))
	ctx.RecordError(proxyerr.New(proxyerr.WhoServer, proxyerr.WhenData, proxyerr.KindTimeout, nil))

	errMask := proxyerr.Mask(ctx.ErrorMask())
	phaseMask := proxyerr.Mask(ctx.PhaseMask())
	assert.True(t, errMask.HasKind(proxyerr.KindRead))
	assert.True(t, errMask.HasKind(proxyerr.KindTimeout))
	assert.False(t, errMask.HasKind(proxyerr.KindWrite))
	assert.True(t, phaseMask.HasWhen(proxyerr.WhenConnection))
	assert.True(t, phaseMask.HasWhen(proxyerr.WhenData))
}

func TestHeaderBufPoolResetsLength(t *testing.T) {
	ctx := NewContext(logrus.ErrorLevel, io.Discard, Capacities{})
	b := ctx.GetHeaderBuf()
	assert.Equal(t, 0, len(b))
	b = append(b, "x-forwarded-for"...)
	ctx.PutHeaderBuf(b)

	b2 := ctx.GetHeaderBuf()
	assert.Equal(t, 0, len(b2))
}

func TestCaptureAndUniqueIDPoolsRoundTrip(t *testing.T) {
	ctx := NewContext(logrus.ErrorLevel, io.Discard, Capacities{})

	c := ctx.GetCaptureBuf()
	assert.Equal(t, 0, len(c))
	ctx.PutCaptureBuf(append(c, "GET / HTTP/1.1"...))

	u := ctx.GetUniqueIDBuf()
	assert.Equal(t, 0, len(u))
	ctx.PutUniqueIDBuf(append(u, "req-1"...))
}

func TestLogTransactionDoesNotPanic(t *testing.T) {
	ctx := NewContext(logrus.InfoLevel, io.Discard, Capacities{})
	ctx.RecordError(proxyerr.New(proxyerr.WhoServer, proxyerr.WhenData, proxyerr.KindWrite, nil))
	ctx.LogTransaction(TransactionSummary{
		Method:         "GET",
		Status:         200,
		BytesIn:        128,
		BytesOut:       4096,
		ConnectionMode: "keep-alive",
		Duration:       15 * time.Millisecond,
	})
}
