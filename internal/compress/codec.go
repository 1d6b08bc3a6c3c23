// Package compress implements the CompressionPipeline of spec §4.5: a
// small registry of algorithms behind a uniform Codec interface (spec §9
// "dynamic dispatch over algorithms... tagged variant with a small
// trait-like interface"), a buffered per-response pipeline with chunk-size
// backpatching, and byte-rate-driven level adaptation.
package compress

import (
	"bytes"
	"compress/flate"
	"errors"
	"io"

	kflate "github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
)

// Algorithm names an available compression scheme (spec §3 "Compression
// context").
type Algorithm string

const (
	Identity Algorithm = "identity"
	Deflate  Algorithm = "deflate"
	Gzip     Algorithm = "gzip"
)

// FlushMode selects the semantics of Codec.Flush (spec §4.5).
type FlushMode int

const (
	SyncFlush FlushMode = iota
	Finish
)

var ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")

// Codec is the uniform algorithm interface every compressor implements
// (spec §4.5 "Algorithm contract"). Init/AddData/Flush/Reset/End mirror
// the contract exactly; callers never reach for algorithm-specific types.
type Codec interface {
	Init(level int) error
	// AddData compresses in, appending output into the codec's internal
	// buffer; it never reads more than len(in) at a time. The compressed
	// bytes produced so far (since the last Flush) are retrieved with
	// Take.
	AddData(in []byte) (produced int, err error)
	Take() []byte // returns and clears buffered compressed output
	Flush(mode FlushMode) ([]byte, error)
	Reset() error
	End()
}

// NewCodec constructs a fresh, uninitialized Codec for algorithm. It
// always allocates and never draws from the codec pool.
func NewCodec(algo Algorithm) (Codec, error) {
	switch algo {
	case Identity:
		return &identityCodec{}, nil
	case Deflate:
		return &deflateCodec{}, nil
	case Gzip:
		return &gzipCodec{}, nil
	default:
		return nil, ErrUnknownAlgorithm
	}
}

// --- identity -------------------------------------------------------------

type identityCodec struct {
	out bytes.Buffer
}

func (c *identityCodec) Init(level int) error { return nil }
func (c *identityCodec) AddData(in []byte) (int, error) {
	c.out.Write(in)
	return len(in), nil
}
func (c *identityCodec) Take() []byte {
	b := append([]byte(nil), c.out.Bytes()...)
	c.out.Reset()
	return b
}
func (c *identityCodec) Flush(mode FlushMode) ([]byte, error) { return c.Take(), nil }
func (c *identityCodec) Reset() error                         { c.out.Reset(); return nil }
func (c *identityCodec) End()                                 {}

// --- deflate (klauspost/compress/flate) ------------------------------------

type deflateCodec struct {
	out bytes.Buffer
	w   *kflate.Writer
}

func (c *deflateCodec) Init(level int) error {
	if level < flate.NoCompression || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	w, err := kflate.NewWriter(&c.out, level)
	if err != nil {
		return err
	}
	c.w = w
	return nil
}

func (c *deflateCodec) AddData(in []byte) (int, error) {
	if c.w == nil {
		if err := c.Init(flate.DefaultCompression); err != nil {
			return 0, err
		}
	}
	n, err := c.w.Write(in)
	return n, err
}

func (c *deflateCodec) Take() []byte {
	b := append([]byte(nil), c.out.Bytes()...)
	c.out.Reset()
	return b
}

func (c *deflateCodec) Flush(mode FlushMode) ([]byte, error) {
	if c.w == nil {
		return nil, nil
	}
	if mode == Finish {
		if err := c.w.Close(); err != nil {
			return nil, err
		}
	} else if err := c.w.Flush(); err != nil {
		return nil, err
	}
	return c.Take(), nil
}

func (c *deflateCodec) Reset() error {
	c.out.Reset()
	if c.w != nil {
		c.w.Reset(&c.out)
	}
	return nil
}

func (c *deflateCodec) End() {
	if c.w != nil {
		_ = c.w.Close()
	}
}

// --- gzip (pgzip, falling back to klauspost/compress/gzip) -----------------

// pgzipMinLevel is the level at which we consider spinning up pgzip's
// parallel writer worthwhile; below it (fast, small responses) the extra
// goroutines cost more than they save, so we use the single-threaded
// klauspost gzip writer instead (see SPEC_FULL §B.1).
const pgzipMinLevel = 6

type gzipCodec struct {
	out      bytes.Buffer
	parallel *pgzip.Writer
	single   *kgzip.Writer
}

func (c *gzipCodec) Init(level int) error {
	if level < kgzip.NoCompression || level > kgzip.BestCompression {
		level = kgzip.DefaultCompression
	}
	if level >= pgzipMinLevel {
		w, err := pgzip.NewWriterLevel(&c.out, level)
		if err != nil {
			return err
		}
		c.parallel = w
		return nil
	}
	w, err := kgzip.NewWriterLevel(&c.out, level)
	if err != nil {
		return err
	}
	c.single = w
	return nil
}

func (c *gzipCodec) writer() io.WriteCloser {
	if c.parallel != nil {
		return c.parallel
	}
	return c.single
}

func (c *gzipCodec) AddData(in []byte) (int, error) {
	if c.parallel == nil && c.single == nil {
		if err := c.Init(kgzip.DefaultCompression); err != nil {
			return 0, err
		}
	}
	return c.writer().Write(in)
}

func (c *gzipCodec) Take() []byte {
	b := append([]byte(nil), c.out.Bytes()...)
	c.out.Reset()
	return b
}

func (c *gzipCodec) Flush(mode FlushMode) ([]byte, error) {
	if c.parallel == nil && c.single == nil {
		return nil, nil
	}
	if mode == Finish {
		if err := c.writer().Close(); err != nil {
			return nil, err
		}
	} else if c.single != nil {
		if err := c.single.Flush(); err != nil {
			return nil, err
		}
	}
	// pgzip.Writer has no mid-stream Flush; SyncFlush is a no-op for it
	// and the accumulated bytes are still returned below.
	return c.Take(), nil
}

func (c *gzipCodec) Reset() error {
	c.out.Reset()
	c.parallel = nil
	c.single = nil
	return nil
}

func (c *gzipCodec) End() {
	if c.parallel != nil {
		_ = c.parallel.Close()
	}
	if c.single != nil {
		_ = c.single.Close()
	}
}
