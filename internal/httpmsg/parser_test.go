package httpmsg

import (
	"testing"

	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(raw string) (*ring.Buffer, *headeridx.Index) {
	buf := ring.New(len(raw) + 256)
	buf.AppendInput([]byte(raw))
	idx := headeridx.New(buf, 32)
	return buf, idx
}

func TestParseSimpleRequest(t *testing.T) {
	buf, idx := newFixture("GET /a/b?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n")
	p := New(Limits{MaxLineBytes: 4096})
	m := NewRequest()

	res := p.StepRequest(m, buf, idx)
	require.Equal(t, HeadersDone, res)
	assert.Equal(t, "GET", m.Method)
	assert.Equal(t, "/a/b?x=1", m.URI)
	assert.Equal(t, 1, m.ProtoMajor)
	assert.Equal(t, 1, m.ProtoMinor)
	assert.Equal(t, Body, m.State)

	ctx, ok := idx.Find("Host", headeridx.Ctx{})
	require.True(t, ok)
	val := make([]byte, ctx.ValLen())
	for i := range val {
		val[i] = buf.ReadAt(ctx.ValOffset() + i)
	}
	assert.Equal(t, "example.com", string(val))
}

func TestParseResumableAcrossPartitions(t *testing.T) {
	raw := "GET /x HTTP/1.1\r\nHost: h\r\nX-A: 1\r\n\r\n"
	full := ring.New(512)
	full.AppendInput([]byte(raw))
	idxFull := headeridx.New(full, 32)
	mFull := NewRequest()
	p := New(Limits{MaxLineBytes: 4096})
	require.Equal(t, HeadersDone, p.StepRequest(mFull, full, idxFull))

	partitioned := ring.New(512)
	idxPart := headeridx.New(partitioned, 32)
	mPart := NewRequest()
	var last Result
	for i := 0; i < len(raw); i++ {
		partitioned.AppendInput([]byte{raw[i]})
		last = p.StepRequest(mPart, partitioned, idxPart)
		if last == HeadersDone {
			break
		}
		require.NotEqual(t, Failed, last)
	}
	assert.Equal(t, HeadersDone, last)
	assert.Equal(t, mFull.Method, mPart.Method)
	assert.Equal(t, mFull.URI, mPart.URI)
	assert.Equal(t, mFull.Eoh, mPart.Eoh)
	assert.Equal(t, idxFull.Used(), idxPart.Used())
}

func TestParseResponseStatusLine(t *testing.T) {
	buf, idx := newFixture("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	p := New(Limits{MaxLineBytes: 4096})
	m := NewResponse()
	res := p.StepResponse(m, buf, idx)
	require.Equal(t, HeadersDone, res)
	assert.Equal(t, 200, m.StatusCode)
	assert.Equal(t, "OK", m.Reason)
	assert.Equal(t, 1, m.ProtoMajor)
}

func TestObsoleteLineFolding(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Long: first\r\n second\r\n\r\n"
	buf, idx := newFixture(raw)
	p := New(Limits{MaxLineBytes: 4096})
	m := NewRequest()
	res := p.StepRequest(m, buf, idx)
	require.Equal(t, HeadersDone, res)

	ctx, ok := idx.Find("X-Long", headeridx.Ctx{})
	require.True(t, ok)
	val := make([]byte, ctx.ValLen())
	for i := range val {
		val[i] = buf.ReadAt(ctx.ValOffset() + i)
	}
	assert.Equal(t, "first second", string(val))
}

func TestInvalidMethodCharFails(t *testing.T) {
	buf, idx := newFixture("G\x01T / HTTP/1.1\r\n\r\n")
	p := New(Limits{MaxLineBytes: 4096})
	m := NewRequest()
	res := p.StepRequest(m, buf, idx)
	assert.Equal(t, Failed, res)
	assert.Equal(t, Error, m.State)
	assert.GreaterOrEqual(t, m.ErrPosition, 0)
}

func TestNeedMoreDataThenCompletes(t *testing.T) {
	buf := ring.New(512)
	idx := headeridx.New(buf, 32)
	p := New(Limits{MaxLineBytes: 4096})
	m := NewRequest()

	buf.AppendInput([]byte("GET / HTTP/1.1\r\nHost: "))
	res := p.StepRequest(m, buf, idx)
	assert.Equal(t, NeedMoreData, res)

	buf.AppendInput([]byte("x\r\n\r\n"))
	res = p.StepRequest(m, buf, idx)
	assert.Equal(t, HeadersDone, res)
}

func TestHTTP09RequestUpgraded(t *testing.T) {
	buf, idx := newFixture("GET /\r\n")
	p := New(Limits{MaxLineBytes: 4096})
	m := NewRequest()
	// HTTP/0.9 has no header section at all; we only assert the
	// request-line handling here, so drive just that far manually isn't
	// exposed -- instead assert flags/proto once URI state completes by
	// checking after line-end processing (headers loop will then wait for
	// more data since there's no blank-line terminator in this fixture).
	res := p.StepRequest(m, buf, idx)
	assert.Equal(t, NeedMoreData, res)
	assert.Equal(t, "GET", m.Method)
	assert.Equal(t, "/", m.URI)
	assert.Equal(t, "HTTP/1.0", m.Proto)
	assert.NotZero(t, m.Flags&FlagHTTP09Upgraded)
}
