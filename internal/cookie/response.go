package cookie

import (
	"strings"

	"github.com/jbuchbinder/haproxy/internal/headeridx"
	"github.com/jbuchbinder/haproxy/internal/ring"
)

// ResponseResult summarizes what ProcessResponse found.
type ResponseResult struct {
	AppSessionID string // captured app-session stickiness id, if configured
	Rewritten    bool
}

// ProcessResponse walks Set-Cookie and Set-Cookie2 headers, rewriting the
// backend's persistence cookie per cfg.Mode and capturing an app-session
// id when appSessionName is non-empty (spec §4.6 "Response-side"). Unlike
// Cookie:, Set-Cookie2 packs multiple comma-separated cookies per header;
// Set-Cookie carries exactly one pair per header (commas inside an
// Expires attribute are not separators).
func (p *Processor) ProcessResponse(buf *ring.Buffer, idx *headeridx.Index, eoh *int, cfg Config, serverID string, appSessionName string) ResponseResult {
	var result ResponseResult

	ctx := headeridx.Ctx{}
	for {
		next, ok := idx.Find("Set-Cookie", ctx)
		if !ok {
			break
		}
		ctx = next
		p.processSetCookieValue(buf, idx, eoh, ctx, cfg, serverID, appSessionName, &result)
	}

	ctx = headeridx.Ctx{}
	for {
		next, ok := idx.Find("Set-Cookie2", ctx)
		if !ok {
			break
		}
		ctx = next
		for v, ok2 := next, true; ok2; v, ok2 = idx.IterateValue(v) {
			p.processSetCookieValue(buf, idx, eoh, v, cfg, serverID, appSessionName, &result)
		}
	}
	return result
}

// processSetCookieValue handles one NAME=VALUE[; attr...] cookie-value
// span (already isolated by Find/IterateValue for Set-Cookie2, or the
// whole header value for Set-Cookie where attribute-level ';' still needs
// splitting to isolate just the first pair).
func (p *Processor) processSetCookieValue(buf *ring.Buffer, idx *headeridx.Index, eoh *int, ctx headeridx.Ctx, cfg Config, serverID string, appSessionName string, result *ResponseResult) {
	valOff, valLen := ctx.ValOffset(), ctx.ValLen()
	semi := -1
	for i := 0; i < valLen; i++ {
		if buf.ReadAt(valOff+i) == ';' {
			semi = i
			break
		}
	}
	nameValEnd := valLen
	if semi >= 0 {
		nameValEnd = semi
	}
	sp := pairSpan{valOff, valOff + nameValEnd}
	name, pairValStart, pairValEnd, ok := splitPair(buf, sp)
	if !ok {
		return
	}

	if appSessionName != "" && strings.EqualFold(name, appSessionName) && result.AppSessionID == "" {
		result.AppSessionID = readRange(buf, pairValStart, pairValEnd)
	}

	if cfg.PersistName == "" || !strings.EqualFold(name, cfg.PersistName) {
		return
	}

	switch cfg.Mode {
	case ModePrefix:
		orig := readRange(buf, pairValStart, pairValEnd)
		newVal := serverID + "~" + orig
		delta := buf.Replace(pairValStart, pairValEnd, []byte(newVal))
		idx.ApplyDelta(pairValStart, delta)
		*eoh += delta
		result.Rewritten = true
	case ModeRewrite, ModeInsert:
		stamped := serverID + "|" + EncodeDate(p.nowUnix())
		delta := buf.Replace(pairValStart, pairValEnd, []byte(stamped))
		idx.ApplyDelta(pairValStart, delta)
		*eoh += delta
		result.Rewritten = true
	}
}

func (p *Processor) nowUnix() int64 { return p.Clock.Now().Unix() }
