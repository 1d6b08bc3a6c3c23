package compress

import (
	"bytes"
	"compress/flate"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityCodecPassesThrough(t *testing.T) {
	c, err := NewCodec(Identity)
	require.NoError(t, err)
	require.NoError(t, c.Init(0))

	_, err = c.AddData([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(c.Take()))
}

func TestDeflateCodecRoundTrips(t *testing.T) {
	c, err := NewCodec(Deflate)
	require.NoError(t, err)
	require.NoError(t, c.Init(flate.BestSpeed))

	_, err = c.AddData([]byte("the quick brown fox jumps over the lazy dog"))
	require.NoError(t, err)
	out, err := c.Flush(Finish)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	r := flate.NewReader(bytes.NewReader(out))
	defer r.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox jumps over the lazy dog", buf.String())
}

func TestGzipCodecUsesSingleWriterBelowThreshold(t *testing.T) {
	c, err := NewCodec(Gzip)
	require.NoError(t, err)
	gc := c.(*gzipCodec)
	require.NoError(t, gc.Init(1))
	assert.Nil(t, gc.parallel)
	assert.NotNil(t, gc.single)
}

func TestGzipCodecUsesParallelWriterAtOrAboveThreshold(t *testing.T) {
	c, err := NewCodec(Gzip)
	require.NoError(t, err)
	gc := c.(*gzipCodec)
	require.NoError(t, gc.Init(pgzipMinLevel))
	assert.NotNil(t, gc.parallel)
	assert.Nil(t, gc.single)
}

func TestGzipCodecRoundTripsAtLowLevel(t *testing.T) {
	c, err := NewCodec(Gzip)
	require.NoError(t, err)
	require.NoError(t, c.Init(1))

	_, err = c.AddData([]byte("payload payload payload"))
	require.NoError(t, err)
	out, err := c.Flush(Finish)
	require.NoError(t, err)

	r, err := kgzip.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer r.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, "payload payload payload", buf.String())
}

func TestNewCodecRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewCodec("brotli")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}
