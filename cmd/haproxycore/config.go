package main

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
	"github.com/jbuchbinder/haproxy/internal/cookie"
	"github.com/jbuchbinder/haproxy/internal/txn"
	"github.com/spf13/pflag"
)

// Config is the flat set of plain Go values the CLI layer resolves from
// flags before handing them to the core packages; no on-disk config
// format is parsed here, per spec that job belongs to an external
// collaborator.
type Config struct {
	Listen   string
	Upstream string

	RingSize     string
	RewriteMargin string
	HeaderSlots  int

	FrontendForceClose bool
	BackendForceClose  bool
	BackendHTTPClose   bool
	BackendServerClose bool

	CompressionAlgorithms []string
	CompressionLevel      int

	CookieName string
	CookieMode string

	AcceptProxyProtocol bool
	StatsURI            string

	Debug bool
}

func defaultConfig() *Config {
	return &Config{
		Listen:                ":8080",
		Upstream:              "127.0.0.1:80",
		RingSize:              "16KB",
		RewriteMargin:         "1KB",
		HeaderSlots:           64,
		CompressionAlgorithms: []string{"gzip", "deflate", "identity"},
		CompressionLevel:      6,
		CookieName:            "SRVID",
		CookieMode:            "insert",
		StatsURI:              "/haproxy?stats",
	}
}

func (c *Config) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Listen, "listen", c.Listen, "address the frontend listens on")
	fs.StringVar(&c.Upstream, "upstream", c.Upstream, "address of the backend server to relay to")
	fs.StringVar(&c.RingSize, "ring-size", c.RingSize, "per-direction ring buffer capacity, e.g. 16KB")
	fs.StringVar(&c.RewriteMargin, "rewrite-margin", c.RewriteMargin, "reserved in-place rewrite headroom, e.g. 1KB")
	fs.IntVar(&c.HeaderSlots, "header-slots", c.HeaderSlots, "header index arena capacity per direction")

	fs.BoolVar(&c.FrontendForceClose, "frontend-force-close", c.FrontendForceClose, "frontend forces Connection: close on every response")
	fs.BoolVar(&c.BackendForceClose, "backend-force-close", c.BackendForceClose, "backend connection mode: force close")
	fs.BoolVar(&c.BackendHTTPClose, "backend-http-close", c.BackendHTTPClose, "backend connection mode: close after each request")
	fs.BoolVar(&c.BackendServerClose, "backend-server-close", c.BackendServerClose, "backend connection mode: close toward server only")

	fs.StringSliceVar(&c.CompressionAlgorithms, "compression-algorithms", c.CompressionAlgorithms, "response compression whitelist, in preference order")
	fs.IntVar(&c.CompressionLevel, "compression-level", c.CompressionLevel, "starting compression level")

	fs.StringVar(&c.CookieName, "cookie-name", c.CookieName, "persistence cookie name")
	fs.StringVar(&c.CookieMode, "cookie-mode", c.CookieMode, "persistence cookie mode: none|prefix|passive|insert|rewrite")

	fs.BoolVar(&c.AcceptProxyProtocol, "accept-proxy", c.AcceptProxyProtocol, "expect a PROXY protocol v1 preamble on each accepted connection")
	fs.StringVar(&c.StatsURI, "stats-uri", c.StatsURI, "path that serves the admin stats/server-state form")

	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug-level logging")
}

// ringSizeBytes resolves the RingSize flag into a byte count.
func (c *Config) ringSizeBytes() (int, error) {
	n, err := units.RAMInBytes(c.RingSize)
	if err != nil {
		return 0, fmt.Errorf("ring-size: %w", err)
	}
	return int(n), nil
}

func (c *Config) rewriteMarginBytes() (int, error) {
	n, err := units.RAMInBytes(c.RewriteMargin)
	if err != nil {
		return 0, fmt.Errorf("rewrite-margin: %w", err)
	}
	return int(n), nil
}

func (c *Config) backendOptions() txn.BackendOptions {
	return txn.BackendOptions{
		ForceClose:  c.BackendForceClose,
		HTTPClose:   c.BackendHTTPClose,
		ServerClose: c.BackendServerClose,
	}
}

func (c *Config) frontendOptions() txn.FrontendOptions {
	return txn.FrontendOptions{ForceClose: c.FrontendForceClose}
}

func (c *Config) cookieMode() (cookie.Mode, error) {
	switch strings.ToLower(c.CookieMode) {
	case "none", "":
		return cookie.ModeNone, nil
	case "prefix":
		return cookie.ModePrefix, nil
	case "passive":
		return cookie.ModePassive, nil
	case "insert":
		return cookie.ModeInsert, nil
	case "rewrite":
		return cookie.ModeRewrite, nil
	default:
		return cookie.ModeNone, fmt.Errorf("cookie-mode: unknown mode %q", c.CookieMode)
	}
}
