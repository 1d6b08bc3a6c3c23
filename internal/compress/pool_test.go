package compress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesSameIdentity(t *testing.T) {
	pool := NewPool()
	c1, err := pool.Get(Deflate, 5)
	require.NoError(t, err)
	pool.Put(Deflate, 5, c1)

	c2, err := pool.Get(Deflate, 5)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestPoolDoesNotCrossIdentity(t *testing.T) {
	pool := NewPool()
	c1, err := pool.Get(Deflate, 5)
	require.NoError(t, err)
	pool.Put(Deflate, 5, c1)

	c2, err := pool.Get(Gzip, 5)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
}
