package rules

// Fetches is the built-in registry of the sample fetches that take no
// argument (spec §4.8). hdr, cook and url_param take a name and are not in
// the map; HeaderFetch, CookieFetch and URLParamFetch build them.
var Fetches = map[string]FetchFunc{
	"src":      fetchSrc,
	"src_port": fetchSrcPort,
	"dst":      fetchDst,
	"dst_port": fetchDstPort,
	"url":      fetchURL,
	"path":     fetchPath,
	"status":   fetchStatus,
	"method":   fetchMethod,
	"version":  fetchVersion,

	"http_first_req": fetchHTTPFirstReq,
	"http_auth":      fetchHTTPAuth,

	// base = Host header followed by the path (no query string);
	// base32 is its 32-bit hash, used for coarse stick-table keys.
	"base":   fetchBase,
	"base32": fetchBase32,
}

func fetchSrc(ctx *EvalContext) (any, TriState) {
	if ctx.SrcIP == nil {
		return nil, Miss
	}
	return ctx.SrcIP, Pass
}

func fetchSrcPort(ctx *EvalContext) (any, TriState) {
	if ctx.SrcPort == 0 {
		return nil, Miss
	}
	return ctx.SrcPort, Pass
}

func fetchDst(ctx *EvalContext) (any, TriState) {
	if ctx.DstIP == nil {
		return nil, Miss
	}
	return ctx.DstIP, Pass
}

func fetchDstPort(ctx *EvalContext) (any, TriState) {
	if ctx.DstPort == 0 {
		return nil, Miss
	}
	return ctx.DstPort, Pass
}

func fetchURL(ctx *EvalContext) (any, TriState) {
	if ctx.URL == "" {
		return nil, Miss
	}
	return ctx.URL, Pass
}

func fetchPath(ctx *EvalContext) (any, TriState) {
	if ctx.Path == "" {
		return nil, Miss
	}
	return ctx.Path, Pass
}

func fetchStatus(ctx *EvalContext) (any, TriState) {
	if ctx.StatusCode == 0 {
		return nil, Miss
	}
	return ctx.StatusCode, Pass
}

func fetchMethod(ctx *EvalContext) (any, TriState) {
	if ctx.Method == "" {
		return nil, Miss
	}
	return ctx.Method, Pass
}

func fetchVersion(ctx *EvalContext) (any, TriState) {
	if ctx.Version == "" {
		return nil, Miss
	}
	return ctx.Version, Pass
}

func fetchHTTPFirstReq(ctx *EvalContext) (any, TriState) {
	return ctx.FirstRequest, Pass
}

func fetchHTTPAuth(ctx *EvalContext) (any, TriState) {
	if ctx.AuthHeader == "" {
		return "", Pass
	}
	return ctx.AuthHeader, Pass
}

// fetchBase returns Host concatenated with Path (spec §8 scenario 2: "base32
// fetch over Host + /a", i.e. base = Host∥Path). A request with no Host
// header still has a path, so only a missing Path counts as MISS.
func fetchBase(ctx *EvalContext) (any, TriState) {
	if ctx.Path == "" {
		return nil, Miss
	}
	return ctx.Host + ctx.Path, Pass
}

// fetchBase32 hashes the base sample into a 32-bit stick-table key via the
// same djb2 pre-hash + Thomas Wang integer mix ("full avalanche") spec §8
// scenario 2 names: "base32 fetch ... yields a 32-bit hash equal to
// full_avalanche(Host∥Path)".
func fetchBase32(ctx *EvalContext) (any, TriState) {
	base, state := fetchBase(ctx)
	if state != Pass {
		return nil, state
	}
	return fullAvalanche(djb2(base.(string))), Pass
}

// djb2 is Bernstein's string pre-hash, the conventional input to an
// integer-mixing avalanche step when hashing a string into a fixed-width
// table key.
func djb2(s string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(s); i++ {
		h = ((h << 5) + h) + uint32(s[i])
	}
	return h
}

// fullAvalanche is Thomas Wang's 32-bit integer mix function: every output
// bit depends on every input bit, which is what makes it suitable for
// spreading a pre-hash across stick-table buckets.
func fullAvalanche(a uint32) uint32 {
	a = (a ^ 61) ^ (a >> 16)
	a += a << 3
	a ^= a >> 4
	a *= 0x27d4eb2d
	a ^= a >> 15
	return a
}

// HeaderFetch builds a FetchFunc for "hdr(name)".
func HeaderFetch(name string) FetchFunc {
	return func(ctx *EvalContext) (any, TriState) {
		if ctx.HeaderLookup == nil {
			return nil, Miss
		}
		v, ok := ctx.HeaderLookup(name)
		if !ok {
			return nil, Fail
		}
		return v, Pass
	}
}

// CookieFetch builds a FetchFunc for "cook(name)".
func CookieFetch(name string) FetchFunc {
	return func(ctx *EvalContext) (any, TriState) {
		if ctx.CookieLookup == nil {
			return nil, Miss
		}
		v, ok := ctx.CookieLookup(name)
		if !ok {
			return nil, Fail
		}
		return v, Pass
	}
}

// URLParamFetch builds a FetchFunc for "url_param(name)".
func URLParamFetch(name string) FetchFunc {
	return func(ctx *EvalContext) (any, TriState) {
		if ctx.URLParam == nil {
			return nil, Miss
		}
		v, ok := ctx.URLParam(name)
		if !ok {
			return nil, Fail
		}
		return v, Pass
	}
}
