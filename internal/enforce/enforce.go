// Package enforce combines the safety verdict and the intelligence signal
// into one enforcement decision using a fixed precedence table. Decide is a
// total, pure function: for a fixed policy table version the same inputs
// always yield the same decision, and no input (missing, zero-valued, or
// out of range) can make it fail or fall through to a permissive outcome.
package enforce

import (
	"strings"

	"github.com/warden-io/warden/internal/intelligence"
	"github.com/warden-io/warden/internal/safety"
)

// Decisions, in increasing severity of the user-visible effect.
const (
	DecisionAllow     = "ALLOW"
	DecisionRewrite   = "REWRITE"
	DecisionBlock     = "BLOCK"
	DecisionTerminate = "TERMINATE"
)

// Scopes name what part of the exchange a decision applies to.
const (
	ScopeInput  = "input"
	ScopeOutput = "output"
	ScopeBoth   = "both"
)

// Reason codes carried on decisions.
const (
	ReasonSelfHarm   = "SELF_HARM_BLOCK"
	ReasonHardDeny   = "SAFETY_HARD_DENY"
	ReasonTerminate  = "RISK_TERMINATE"
	ReasonRewrite    = "SAFE_REWRITE_REQUIRED"
	ReasonAllowed    = "CONTENT_ALLOWED"
	ReasonFailClosed = "uncertain_fail_closed"
)

// Decision is the enforcement outcome for one request.
type Decision struct {
	Decision   string `json:"decision"`
	Scope      string `json:"scope"`
	ReasonCode string `json:"reason_code"`
	TraceID    string `json:"trace_id"`
}

// selfHarmTokens are matched against the verdict's category, reason code and
// pattern names as defense in depth: a self-harm signal can never resolve to
// ALLOW regardless of how the verdict was plumbed.
var selfHarmTokens = []string{"self_harm", "suicide", "suicidal", "kill myself", "end my life", "want to die"}

// Engine applies the precedence table with a configured terminate threshold.
type Engine struct {
	terminateThreshold float64
}

// NewEngine creates an enforcement engine. A non-positive threshold falls
// back to the 0.95 default so a misconfigured table cannot disable rule 2.
func NewEngine(terminateThreshold float64) *Engine {
	if terminateThreshold <= 0 {
		terminateThreshold = 0.95
	}
	return &Engine{terminateThreshold: terminateThreshold}
}

// Decide resolves the enforcement decision. Precedence, first match wins:
//
//	0. invalid verdict or signal        → BLOCK (fail closed)
//	1. self-harm signal or hard_deny    → BLOCK, scope=both
//	2. risk ≥ threshold and not allow   → TERMINATE, scope=both
//	3. soft_rewrite                     → REWRITE, scope=output
//	4. otherwise                        → ALLOW, scope=both
func (e *Engine) Decide(verdict safety.Verdict, signal intelligence.Signal, traceID string) Decision {
	if !validVerdict(verdict) || !validSignal(signal) {
		return Decision{
			Decision:   DecisionBlock,
			Scope:      ScopeBoth,
			ReasonCode: ReasonFailClosed,
			TraceID:    traceID,
		}
	}

	if selfHarmSignal(verdict) {
		return Decision{
			Decision:   DecisionBlock,
			Scope:      ScopeBoth,
			ReasonCode: ReasonSelfHarm,
			TraceID:    traceID,
		}
	}

	if verdict.Decision == safety.DecisionHardDeny {
		return Decision{
			Decision:   DecisionBlock,
			Scope:      ScopeBoth,
			ReasonCode: ReasonHardDeny,
			TraceID:    traceID,
		}
	}

	if signal.RiskScore >= e.terminateThreshold && verdict.Decision != safety.DecisionAllow {
		return Decision{
			Decision:   DecisionTerminate,
			Scope:      ScopeBoth,
			ReasonCode: ReasonTerminate,
			TraceID:    traceID,
		}
	}

	if verdict.Decision == safety.DecisionSoftRewrite {
		return Decision{
			Decision:   DecisionRewrite,
			Scope:      ScopeOutput,
			ReasonCode: ReasonRewrite,
			TraceID:    traceID,
		}
	}

	return Decision{
		Decision:   DecisionAllow,
		Scope:      ScopeBoth,
		ReasonCode: ReasonAllowed,
		TraceID:    traceID,
	}
}

// validVerdict accepts only the three defined safety decisions with a sane
// confidence. Anything else is an unclear state.
func validVerdict(v safety.Verdict) bool {
	switch v.Decision {
	case safety.DecisionAllow, safety.DecisionSoftRewrite, safety.DecisionHardDeny:
	default:
		return false
	}
	return v.Confidence >= 0 && v.Confidence <= 1
}

// validSignal accepts risk scores in [0,1] with a non-empty behavioral
// state. The fail-closed default signal is valid by construction.
func validSignal(s intelligence.Signal) bool {
	return s.BehavioralState != "" && s.RiskScore >= 0 && s.RiskScore <= 1
}

func selfHarmSignal(v safety.Verdict) bool {
	haystack := strings.ToLower(v.RiskCategory + " " + v.ReasonCode + " " + strings.Join(v.MatchedPatterns, " "))
	for _, token := range selfHarmTokens {
		if strings.Contains(haystack, token) {
			return true
		}
	}
	return false
}
