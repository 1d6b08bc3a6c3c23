// Package rules implements the ordered per-hook-point rule lists that
// evaluate sample fetches and ACL pattern matchers to decide block, allow,
// tarpit, redirect, header-rewrite, tracking, and backend-selection
// actions (spec §4.8).
package rules

import (
	"net"

	"github.com/hashicorp/go-multierror"
)

// HookPoint names where in the transaction lifecycle a rule list is
// consulted (spec §4.8 "ordered lists per hook point").
type HookPoint int

const (
	HookTCPConnAccept HookPoint = iota
	HookTCPContentRequest
	HookTCPContentResponse
	HookHTTPRequest
	HookHTTPResponse
	HookHTTPRedirect
)

// TriState is the three-valued ACL evaluation result (spec §4.8
// "A tri-state result {PASS, FAIL, MISS}").
type TriState int

const (
	Pass TriState = iota
	Fail
	Miss
)

// ResolveMiss treats a still-MISS result as FAIL once the inspection
// deadline has passed (spec §4.8 "after which MISS is treated as FAIL").
func ResolveMiss(state TriState, deadlineExceeded bool) TriState {
	if state == Miss && deadlineExceeded {
		return Fail
	}
	return state
}

// EvalContext bundles everything a fetch or matcher needs to read about
// the in-flight transaction. It deliberately holds plain data, not
// behavior, so fetches stay pure functions of context.
type EvalContext struct {
	SrcIP   net.IP
	SrcPort int
	DstIP   net.IP
	DstPort int

	Method     string
	Host       string
	Path       string
	URL        string
	Version    string
	StatusCode int

	FirstRequest bool
	AuthHeader   string

	HeaderLookup func(name string) (string, bool)
	CookieLookup func(name string) (string, bool)
	URLParam     func(name string) (string, bool)
}

// FetchFunc extracts a typed sample from ctx. A MISS return means the
// needed data hasn't arrived yet (e.g. TCP content inspection waiting on
// more bytes); callers must propagate MISS rather than treating it as
// absence.
type FetchFunc func(ctx *EvalContext) (value any, state TriState)

// MatchFunc compares a fetched value against pattern, honoring
// caseInsensitive where the matcher supports it.
type MatchFunc func(value any, pattern string, caseInsensitive bool) TriState

// ACLTerm is one fetch+matcher pair; a Condition ANDs a list of terms.
type ACLTerm struct {
	FetchName       string
	Fetch           FetchFunc
	MatchName       string
	Match           MatchFunc
	Pattern         string
	CaseInsensitive bool
}

// Condition is an ACL expression: a conjunction of terms, optionally
// negated by "unless" polarity (spec §4.8 "Conditions combine with
// polarity (if/unless)").
type Condition struct {
	Terms  []ACLTerm
	Negate bool // true for "unless"
}

// Evaluate runs every term against ctx, ANDing the results. A nil
// Condition always passes (an unconditional rule).
func (c *Condition) Evaluate(ctx *EvalContext) TriState {
	if c == nil {
		return Pass
	}
	result := Pass
	sawMiss := false
	for _, term := range c.Terms {
		val, state := term.Fetch(ctx)
		if state == Fail {
			result = Fail
			break
		}
		if state == Miss {
			sawMiss = true
			continue
		}
		m := term.Match(val, term.Pattern, term.CaseInsensitive)
		if m == Fail {
			result = Fail
			break
		}
		if m == Miss {
			sawMiss = true
		}
	}
	if result != Fail && sawMiss {
		result = Miss
	}
	return negate(result, c.Negate)
}

func negate(state TriState, flip bool) TriState {
	if !flip {
		return state
	}
	switch state {
	case Pass:
		return Fail
	case Fail:
		return Pass
	default:
		return state
	}
}

// EvaluateDiagnostics runs every term unconditionally (even past the
// first failure) and aggregates every failing term's description, for
// callers that want to explain *why* a condition failed rather than just
// that it did.
func (c *Condition) EvaluateDiagnostics(ctx *EvalContext) (TriState, error) {
	if c == nil {
		return Pass, nil
	}
	var errs *multierror.Error
	result := Pass
	sawMiss := false
	for _, term := range c.Terms {
		val, state := term.Fetch(ctx)
		if state == Miss {
			sawMiss = true
			continue
		}
		m := term.Match(val, term.Pattern, term.CaseInsensitive)
		if m != Pass {
			result = Fail
			errs = multierror.Append(errs, &aclFailure{fetch: term.FetchName, match: term.MatchName, pattern: term.Pattern})
		}
	}
	if result != Fail && sawMiss {
		result = Miss
	}
	return negate(result, c.Negate), errs.ErrorOrNil()
}

type aclFailure struct {
	fetch, match, pattern string
}

func (e *aclFailure) Error() string {
	return "acl " + e.fetch + " " + e.match + " " + e.pattern + ": no match"
}

// ActionKind enumerates the actions a rule can take (spec §4.8).
type ActionKind int

const (
	ActionAllow ActionKind = iota
	ActionDeny
	ActionTarpit
	ActionAuth
	ActionRedirect
	ActionAddHdr
	ActionSetHdr
	ActionTrackSC1
	ActionTrackSC2
	ActionSetBackend
)

// terminal reports whether applying this action stops further rule
// evaluation in the list (spec: "ALLOW (stop, pass), DENY (stop,
// block...)" vs ADD_HDR/SET_HDR/TRACK_* which fall through).
func (k ActionKind) terminal() bool {
	switch k {
	case ActionAllow, ActionDeny, ActionTarpit, ActionAuth, ActionRedirect, ActionSetBackend:
		return true
	default:
		return false
	}
}

// Action carries every action's parameters; only the fields relevant to
// Kind are populated.
type Action struct {
	Kind ActionKind

	HeaderName  string
	HeaderValue string

	RedirectCode int // 301, 302, or 303
	Location     string
	AppendSlash  bool
	DropQuery    bool
	SetCookie    string

	Realm string

	TrackKey   string
	TrackTable string

	Backend string
}

// Rule pairs an optional condition with the action to apply when it
// passes.
type Rule struct {
	Cond   *Condition
	Action Action
}

// Engine holds the ordered rule lists for every hook point.
type Engine struct {
	Rules map[HookPoint][]Rule
}

// New returns an empty Engine.
func New() *Engine {
	return &Engine{Rules: make(map[HookPoint][]Rule)}
}

// Add appends rule to hook's list, preserving declaration order (spec
// "Rules are ordered lists per hook point").
func (e *Engine) Add(hook HookPoint, rule Rule) {
	e.Rules[hook] = append(e.Rules[hook], rule)
}

// Outcome reports how Evaluate concluded.
type Outcome struct {
	Action    Action
	Matched   bool // a terminal action fired
	Suspended bool // a MISS is still pending more data
}

// Evaluate walks hook's rule list in order. Non-terminal actions
// (ADD_HDR, SET_HDR, TRACK_SC1/SC2) are returned via applied and
// evaluation continues; the first terminal action ends the walk. A MISS
// not yet resolved by the inspection deadline suspends the whole walk so
// the caller can retry once more bytes arrive.
func (e *Engine) Evaluate(hook HookPoint, ctx *EvalContext, deadlineExceeded bool) (outcome Outcome, applied []Action) {
	for _, rule := range e.Rules[hook] {
		state := ResolveMiss(rule.Cond.Evaluate(ctx), deadlineExceeded)
		switch state {
		case Miss:
			return Outcome{Suspended: true}, applied
		case Fail:
			continue
		case Pass:
			if rule.Action.Kind.terminal() {
				return Outcome{Action: rule.Action, Matched: true}, applied
			}
			applied = append(applied, rule.Action)
		}
	}
	return Outcome{}, applied
}
