// Package safety matches request content against the policy table's rule
// families and emits a safety verdict. Evaluation is a pure function over
// (text, table): no I/O, no shared mutable state, safe for concurrent use.
package safety

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	wardenotel "github.com/warden-io/warden/internal/otel"
	"github.com/warden-io/warden/internal/policy"
)

var tracer = wardenotel.Tracer("github.com/warden-io/warden/internal/safety")

// Verdict decisions.
const (
	DecisionAllow       = "allow"
	DecisionSoftRewrite = "soft_rewrite"
	DecisionHardDeny    = "hard_deny"
)

// RiskCategoryClean marks content that matched no rule family.
const RiskCategoryClean = "clean"

// Verdict is the result of safety evaluation. Produced exactly once per
// request and never mutated afterward.
type Verdict struct {
	Decision        string   `json:"decision"`
	RiskCategory    string   `json:"risk_category"`
	Confidence      float64  `json:"confidence"`
	ReasonCode      string   `json:"reason_code"`
	Explanation     string   `json:"explanation,omitempty"`
	MatchedPatterns []string `json:"matched_patterns,omitempty"`
}

// Evaluator matches text against the hard-deny and soft-rewrite families of
// one compiled policy table.
type Evaluator struct {
	table *policy.Compiled
}

// NewEvaluator creates an evaluator bound to a compiled policy table.
func NewEvaluator(table *policy.Compiled) *Evaluator {
	return &Evaluator{table: table}
}

// Evaluate returns the safety verdict for the given text. Hard-deny rules
// are always checked first and always win; within a family the first
// matching rule in table order determines the reason code. Empty text is
// clean by definition; Evaluate never fails.
func (e *Evaluator) Evaluate(ctx context.Context, text string) Verdict {
	_, span := tracer.Start(ctx, "safety.evaluate")
	defer span.End()

	if text == "" {
		span.SetAttributes(attribute.String("safety.decision", DecisionAllow))
		return cleanVerdict()
	}

	if v, ok := matchFamily(e.table.HardDeny, text, DecisionHardDeny); ok {
		span.SetAttributes(
			attribute.String("safety.decision", v.Decision),
			attribute.String("safety.risk_category", v.RiskCategory),
		)
		return v
	}

	if v, ok := matchFamily(e.table.SoftRewrite, text, DecisionSoftRewrite); ok {
		span.SetAttributes(
			attribute.String("safety.decision", v.Decision),
			attribute.String("safety.risk_category", v.RiskCategory),
		)
		return v
	}

	span.SetAttributes(attribute.String("safety.decision", DecisionAllow))
	return cleanVerdict()
}

// matchFamily walks one rule family in table order; the first pattern of the
// first matching rule short-circuits. Pattern matching is binary, so the
// confidence of any match is 1.0.
func matchFamily(rules []policy.CompiledRule, text, decision string) (Verdict, bool) {
	for _, rule := range rules {
		for _, p := range rule.Patterns {
			if p.Regex.MatchString(text) {
				return Verdict{
					Decision:        decision,
					RiskCategory:    rule.RiskCategory,
					Confidence:      1.0,
					ReasonCode:      rule.ReasonCode,
					Explanation:     "matched rule " + rule.Name,
					MatchedPatterns: []string{p.Name},
				}, true
			}
		}
	}
	return Verdict{}, false
}

func cleanVerdict() Verdict {
	return Verdict{
		Decision:     DecisionAllow,
		RiskCategory: RiskCategoryClean,
		Confidence:   1.0,
		ReasonCode:   "CONTENT_CLEAN",
	}
}
