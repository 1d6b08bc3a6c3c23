package rules

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Matchers is the built-in ACL pattern-matcher registry (spec §4.8: "str,
// beg, end, sub, dir, dom, reg, len, ip, int").
var Matchers = map[string]MatchFunc{
	"str": matchStr,
	"beg": matchBeg,
	"end": matchEnd,
	"sub": matchSub,
	"dir": matchDir,
	"dom": matchDom,
	"reg": matchReg,
	"len": matchLen,
	"ip":  matchIP,
	"int": matchInt,
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func fold(s string, ci bool) string {
	if ci {
		return strings.ToLower(s)
	}
	return s
}

func boolState(b bool) TriState {
	if b {
		return Pass
	}
	return Fail
}

func matchStr(value any, pattern string, ci bool) TriState {
	s, ok := asString(value)
	if !ok {
		return Fail
	}
	return boolState(fold(s, ci) == fold(pattern, ci))
}

func matchBeg(value any, pattern string, ci bool) TriState {
	s, ok := asString(value)
	if !ok {
		return Fail
	}
	return boolState(strings.HasPrefix(fold(s, ci), fold(pattern, ci)))
}

func matchEnd(value any, pattern string, ci bool) TriState {
	s, ok := asString(value)
	if !ok {
		return Fail
	}
	return boolState(strings.HasSuffix(fold(s, ci), fold(pattern, ci)))
}

func matchSub(value any, pattern string, ci bool) TriState {
	s, ok := asString(value)
	if !ok {
		return Fail
	}
	return boolState(strings.Contains(fold(s, ci), fold(pattern, ci)))
}

// matchDir matches pattern as a full path segment occurring anywhere in a
// '/'-separated value (e.g. "dir /img" matches "/a/img/b").
func matchDir(value any, pattern string, ci bool) TriState {
	s, ok := asString(value)
	if !ok {
		return Fail
	}
	segs := strings.Split(fold(s, ci), "/")
	target := fold(strings.Trim(pattern, "/"), ci)
	for _, seg := range segs {
		if seg == target {
			return Pass
		}
	}
	return Fail
}

// matchDom matches pattern as a full, dot-separated domain label sequence
// occurring as a suffix of a host value.
func matchDom(value any, pattern string, ci bool) TriState {
	s, ok := asString(value)
	if !ok {
		return Fail
	}
	host := fold(s, ci)
	dom := fold(pattern, ci)
	if host == dom {
		return Pass
	}
	return boolState(strings.HasSuffix(host, "."+dom))
}

func matchReg(value any, pattern string, ci bool) TriState {
	s, ok := asString(value)
	if !ok {
		return Fail
	}
	expr := pattern
	if ci {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Fail
	}
	return boolState(re.MatchString(s))
}

func matchLen(value any, pattern string, _ bool) TriState {
	s, ok := asString(value)
	if !ok {
		return Fail
	}
	want, err := strconv.Atoi(pattern)
	if err != nil {
		return Fail
	}
	return boolState(len(s) == want)
}

func matchIP(value any, pattern string, _ bool) TriState {
	var ip net.IP
	switch v := value.(type) {
	case net.IP:
		ip = v
	case string:
		ip = net.ParseIP(v)
	default:
		return Fail
	}
	if ip == nil {
		return Fail
	}
	if strings.Contains(pattern, "/") {
		_, cidr, err := net.ParseCIDR(pattern)
		if err != nil {
			return Fail
		}
		return boolState(cidr.Contains(ip))
	}
	want := net.ParseIP(pattern)
	if want == nil {
		return Fail
	}
	return boolState(ip.Equal(want))
}

func matchInt(value any, pattern string, _ bool) TriState {
	want, err := strconv.Atoi(pattern)
	if err != nil {
		return Fail
	}
	switch v := value.(type) {
	case int:
		return boolState(v == want)
	case int64:
		return boolState(v == int64(want))
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return Fail
		}
		return boolState(n == want)
	default:
		return Fail
	}
}
