package main

import (
	"testing"

	"github.com/jbuchbinder/haproxy/internal/cookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigResolvesRingSizeAndMargin(t *testing.T) {
	cfg := defaultConfig()

	ringSize, err := cfg.ringSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, 16*1024, ringSize)

	margin, err := cfg.rewriteMarginBytes()
	require.NoError(t, err)
	assert.Equal(t, 1024, margin)
}

func TestCookieModeParsesEachName(t *testing.T) {
	cfg := defaultConfig()

	cfg.CookieMode = "prefix"
	mode, err := cfg.cookieMode()
	require.NoError(t, err)
	assert.Equal(t, cookie.ModePrefix, mode)

	cfg.CookieMode = "rewrite"
	mode, err = cfg.cookieMode()
	require.NoError(t, err)
	assert.Equal(t, cookie.ModeRewrite, mode)

	cfg.CookieMode = "bogus"
	_, err = cfg.cookieMode()
	assert.Error(t, err)
}

func TestBackendOptionsReflectFlags(t *testing.T) {
	cfg := defaultConfig()
	cfg.BackendServerClose = true

	opts := cfg.backendOptions()
	assert.True(t, opts.ServerClose)
	assert.False(t, opts.ForceClose)
	assert.False(t, opts.HTTPClose)
}
