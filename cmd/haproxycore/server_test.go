package main

import (
	"bytes"
	"testing"

	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/httpmsg"
	"github.com/jbuchbinder/haproxy/internal/ring"
	"github.com/jbuchbinder/haproxy/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respFixture(t *testing.T, raw string) (*ring.Buffer, *headeridx.Index, *httpmsg.Message) {
	t.Helper()
	buf := ring.New(len(raw) + 256)
	buf.AppendInput([]byte(raw))
	idx := headeridx.New(buf, 32)
	m := httpmsg.NewResponse()
	p := httpmsg.New(httpmsg.Limits{MaxLineBytes: 4096})
	res := p.StepResponse(m, buf, idx)
	require.Equal(t, httpmsg.HeadersDone, res)
	return buf, idx, m
}

func TestWriteChunkedPayloadFramesBodyAsSingleChunk(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeChunkedPayload(&out, []byte("hello")))
	assert.Equal(t, "000005\r\nhello\r\n000000\r\n\r\n", out.String())
}

func TestWriteChunkedPayloadHandlesEmptyBody(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeChunkedPayload(&out, nil))
	assert.Equal(t, "000000\r\n\r\n000000\r\n\r\n", out.String())
}

func TestStripContentLengthAddChunkedReplacesHeader(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 123\r\nContent-Type: text/plain\r\n\r\n"
	buf, idx, m := respFixture(t, raw)

	require.NoError(t, stripContentLengthAddChunked(buf, idx, &m.Eoh))

	_, found := idx.Find("Content-Length", headeridx.Ctx{})
	assert.False(t, found, "Content-Length should be removed")

	ctx, found := idx.Find("Transfer-Encoding", headeridx.Ctx{})
	require.True(t, found, "Transfer-Encoding should be added")
	assert.Equal(t, "chunked", headerValueAt(buf, ctx))
}

func headerValueAt(buf *ring.Buffer, ctx headeridx.Ctx) string {
	out := make([]byte, ctx.ValLen())
	for i := range out {
		out[i] = buf.ReadAt(ctx.ValOffset() + i)
	}
	return string(out)
}

func TestApplyHeaderActionsAddAndSetHdr(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Existing: one\r\n\r\n"
	buf := ring.New(len(raw) + 256)
	buf.AppendInput([]byte(raw))
	idx := headeridx.New(buf, 32)
	m := httpmsg.NewRequest()
	p := httpmsg.New(httpmsg.Limits{MaxLineBytes: 4096})
	require.Equal(t, httpmsg.HeadersDone, p.StepRequest(m, buf, idx))

	actions := []rules.Action{
		{Kind: rules.ActionAddHdr, HeaderName: "X-Added", HeaderValue: "v1"},
		{Kind: rules.ActionSetHdr, HeaderName: "X-Existing", HeaderValue: "two"},
	}
	require.NoError(t, applyHeaderActions(buf, idx, &m.Eoh, actions))

	ctx, found := idx.Find("X-Added", headeridx.Ctx{})
	require.True(t, found)
	assert.Equal(t, "v1", headerValueAt(buf, ctx))

	ctx, found = idx.Find("X-Existing", headeridx.Ctx{})
	require.True(t, found)
	assert.Equal(t, "two", headerValueAt(buf, ctx))

	_, found = idx.Find("X-Existing", ctx)
	assert.False(t, found, "SET_HDR must leave exactly one line behind")
}

func TestApplyHeaderActionsSkipsInvalidField(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n\r\n"
	buf := ring.New(len(raw) + 256)
	buf.AppendInput([]byte(raw))
	idx := headeridx.New(buf, 32)
	m := httpmsg.NewRequest()
	p := httpmsg.New(httpmsg.Limits{MaxLineBytes: 4096})
	require.Equal(t, httpmsg.HeadersDone, p.StepRequest(m, buf, idx))

	actions := []rules.Action{
		{Kind: rules.ActionAddHdr, HeaderName: "Bad Name", HeaderValue: "v"},
	}
	require.NoError(t, applyHeaderActions(buf, idx, &m.Eoh, actions))
	_, found := idx.Find("Bad", headeridx.Ctx{})
	assert.False(t, found)
}

func TestLookupURLParamFindsValue(t *testing.T) {
	v, ok := lookupURLParam("a=1&id=7&b=2", "id")
	require.True(t, ok)
	assert.Equal(t, "7", v)

	_, ok = lookupURLParam("a=1", "missing")
	assert.False(t, ok)
}
