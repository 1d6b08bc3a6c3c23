package txn

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadProxyHeaderParsesTCP4Line(t *testing.T) {
	hdr, ok, rest, err := ReadProxyHeader(strings.NewReader("PROXY TCP4 10.0.0.1 10.0.0.2 51234 80\r\nGET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "TCP4", hdr.Protocol)
	assert.Equal(t, "10.0.0.1", hdr.SrcIP.String())
	assert.Equal(t, "10.0.0.2", hdr.DstIP.String())
	assert.Equal(t, 51234, hdr.SrcPort)
	assert.Equal(t, 80, hdr.DstPort)

	line, lerr := bufio.NewReader(rest).ReadString('\n')
	require.NoError(t, lerr)
	assert.Equal(t, "GET / HTTP/1.1\r\n", line)
}

func TestReadProxyHeaderUnknownProtocol(t *testing.T) {
	hdr, ok, _, err := ReadProxyHeader(strings.NewReader("PROXY UNKNOWN\r\nrest"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "UNKNOWN", hdr.Protocol)
}

func TestReadProxyHeaderAbsentReturnsNotOK(t *testing.T) {
	hdr, ok, _, err := ReadProxyHeader(strings.NewReader("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, hdr)
}

func TestReadProxyHeaderRejectsTruncatedFields(t *testing.T) {
	_, ok, _, err := ReadProxyHeader(strings.NewReader("PROXY TCP4 10.0.0.1\r\n"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMalformedProxyHeader)
}

func TestWriteProxyHeaderRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	hdr := &ProxyHeader{
		Protocol: "TCP6",
		SrcIP:    net.ParseIP("::1"),
		DstIP:    net.ParseIP("::2"),
		SrcPort:  1111,
		DstPort:  2222,
	}
	require.NoError(t, WriteProxyHeader(&buf, hdr))

	got, ok, _, err := ReadProxyHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hdr.Protocol, got.Protocol)
	assert.Equal(t, hdr.SrcPort, got.SrcPort)
	assert.Equal(t, hdr.DstPort, got.DstPort)
}
