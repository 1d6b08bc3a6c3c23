package compress

import (
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Context is the per-transaction compression state (spec §3 "Compression
// context"): algorithm, level, input/output counters, and the underlying
// codec's stream state.
type Context struct {
	Algorithm Algorithm
	Level     int

	InputCounter  int64
	OutputCounter int64

	codec   Codec
	limiter *rate.Limiter

	// MinLevel/MaxLevel bound the level adaptation loop (spec §4.5 "Rate
	// adaptation"). CeilingBytesPerSec is the configured rate ceiling.
	MinLevel           int
	MaxLevel           int
	CeilingBytesPerSec float64

	ema float64 // exponential moving average of output bytes per AddData call
}

// NewContext initializes a Context for algorithm at the given starting
// level (spec "Lifecycle: initialized when response selection succeeds").
func NewContext(algo Algorithm, level int, ceilingBytesPerSec float64, minLevel, maxLevel int) (*Context, error) {
	codec, err := NewCodec(algo)
	if err != nil {
		return nil, err
	}
	if err := codec.Init(level); err != nil {
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Limit(ceilingBytesPerSec), int(ceilingBytesPerSec))
	return &Context{
		Algorithm:          algo,
		Level:              level,
		codec:              codec,
		limiter:            limiter,
		MinLevel:           minLevel,
		MaxLevel:           maxLevel,
		CeilingBytesPerSec: ceilingBytesPerSec,
	}, nil
}

// AddData feeds in through the codec, tracking counters and driving the
// rate-adaptation loop described in spec §4.5.
func (c *Context) AddData(in []byte) ([]byte, error) {
	c.InputCounter += int64(len(in))
	if _, err := c.codec.AddData(in); err != nil {
		return nil, err
	}
	out := c.codec.Take()
	c.OutputCounter += int64(len(out))
	c.adapt(len(out))
	return out, nil
}

// adapt updates the moving average of output bytes per AddData call and
// moves Level one step toward MinLevel when that average is above
// CeilingBytesPerSec, or one step toward MaxLevel when it is below. It
// changes only the Level field and does not call the codec: the running
// codec keeps the level it was initialized with until Reset reinitializes
// it at the adapted level. The rate.Limiter built by NewContext is not
// consulted.
func (c *Context) adapt(producedBytes int) {
	const alpha = 0.3
	instant := float64(producedBytes)
	if c.ema == 0 {
		c.ema = instant
	} else {
		c.ema = alpha*instant + (1-alpha)*c.ema
	}
	if c.ema > c.CeilingBytesPerSec && c.Level > c.MinLevel {
		c.Level--
	} else if c.ema < c.CeilingBytesPerSec && c.Level < c.MaxLevel {
		c.Level++
	}
}

// Flush finalizes the current chunk (SyncFlush) or the whole stream
// (Finish).
func (c *Context) Flush(mode FlushMode) ([]byte, error) {
	out, err := c.codec.Flush(mode)
	if err != nil {
		return nil, err
	}
	c.OutputCounter += int64(len(out))
	return out, nil
}

// Reset reinitializes the codec at the current (possibly adapted) level.
func (c *Context) Reset() error {
	if err := c.codec.Reset(); err != nil {
		return err
	}
	return c.codec.Init(c.Level)
}

// End releases the codec (spec "reset or ended at transaction completion").
func (c *Context) End() { c.codec.End() }

// --- Selection rules (spec §4.5 "Selection rules (response)") -------------

// SelectionInput bundles everything the response-side selection rule
// needs to read.
type SelectionInput struct {
	AcceptEncodings  []string // tokens parsed from the request's Accept-Encoding
	HTTPMinor        int      // response's HTTP minor version (1 for 1.1)
	StatusCode       int
	BodyLen          int64 // -1 if unknown
	Chunked          bool
	ContentEncodingSet bool
	CacheControlNoTransform bool
	ContentType      string
	TypeWhitelist    []string // empty means "no whitelist configured"
	IdlePercent      float64  // measured CPU idle, 0-100
	IdleThreshold    float64  // configured minimum idle percent
}

// SelectResponseAlgorithm applies spec's response selection rules in order
// and returns the chosen algorithm, or ("", false) if compression must be
// refused.
func SelectResponseAlgorithm(in SelectionInput, registryOrder []Algorithm) (Algorithm, bool) {
	if len(in.AcceptEncodings) == 0 {
		return "", false
	}
	if in.HTTPMinor < 1 {
		return "", false
	}
	if in.StatusCode != 200 {
		return "", false
	}
	if in.BodyLen == 0 && !in.Chunked {
		return "", false
	}
	if in.ContentEncodingSet {
		return "", false
	}
	if in.CacheControlNoTransform {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(in.ContentType), "multipart") {
		return "", false
	}
	if len(in.TypeWhitelist) > 0 && !typeAllowed(in.ContentType, in.TypeWhitelist) {
		return "", false
	}
	if in.IdleThreshold > 0 && in.IdlePercent < in.IdleThreshold {
		return "", false
	}

	accepted := make(map[Algorithm]bool, len(in.AcceptEncodings))
	for _, tok := range in.AcceptEncodings {
		accepted[Algorithm(strings.ToLower(strings.TrimSpace(tok)))] = true
	}
	for _, algo := range registryOrder {
		if accepted[algo] {
			return algo, true
		}
	}
	return "", false
}

func typeAllowed(contentType string, whitelist []string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if semi := strings.IndexByte(ct, ';'); semi >= 0 {
		ct = ct[:semi]
	}
	for _, w := range whitelist {
		if strings.EqualFold(strings.TrimSpace(w), ct) {
			return true
		}
	}
	return false
}

// AllowRequestCompression applies spec's request-side rule: legacy
// "Mozilla/4" user agents are blocked from compression unless they
// identify as MSIE 6+ SP2 or MSIE 7+ (spec §4.5 "Selection rules
// (request)").
func AllowRequestCompression(userAgent string) bool {
	if !strings.Contains(userAgent, "Mozilla/4") {
		return true
	}
	if strings.Contains(userAgent, "MSIE 6") && strings.Contains(userAgent, "SV1") {
		return true
	}
	if strings.Contains(userAgent, "MSIE 7") || msieVersionAtLeast(userAgent, 7) {
		return true
	}
	return false
}

func msieVersionAtLeast(ua string, min int) bool {
	i := strings.Index(ua, "MSIE ")
	if i < 0 {
		return false
	}
	rest := ua[i+len("MSIE "):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return false
	}
	major := 0
	for _, c := range rest[:dot] {
		if c < '0' || c > '9' {
			return false
		}
		major = major*10 + int(c-'0')
	}
	return major >= min
}

// now is a package-level clock hook; no code in this package or its tests
// reads or replaces it.
var now = time.Now
