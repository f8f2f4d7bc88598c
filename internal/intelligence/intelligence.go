// Package intelligence derives a coarse behavioral/risk signal from request
// content and channel metadata. It is independent of the safety verdict: the
// enforcement engine combines both. Classification never fails: any
// internal problem produces the maximally restrictive default signal so
// enforcement fails closed rather than open.
package intelligence

import (
	"context"
	"regexp"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-io/warden/internal/otel"
	"github.com/warden-io/warden/internal/policy"
)

var tracer = wardenotel.Tracer("github.com/warden-io/warden/internal/intelligence")

// Behavioral states, ordered from least to most restrictive. StateUncertain
// is reserved for classification failure and always carries risk 1.0.
const (
	StateSafe      = "safe"
	StateMonitor   = "monitor"
	StateRestrict  = "restrict"
	StateUncertain = "uncertain"
)

// Signal is the classifier output: a coarse risk score in [0,1], a
// behavioral state tag, and constraint tags for downstream consumers.
// Produced once per request; read-only input to enforcement.
type Signal struct {
	BehavioralState      string   `json:"behavioral_state"`
	RiskScore            float64  `json:"risk_score"`
	SuggestedConstraints []string `json:"suggested_constraints,omitempty"`
}

// FailClosed is the signal returned on any classification failure. Risk 1.0
// guarantees the enforcement engine can never treat an unclear state as
// permissive.
func FailClosed() Signal {
	return Signal{BehavioralState: StateUncertain, RiskScore: 1.0}
}

var (
	linkPattern    = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+\.\S+`)
	urgencyPattern = regexp.MustCompile(`(?i)\b(?:urgent(?:ly)?|immediately|right\s+now|asap|emergency|before\s+it'?s\s+too\s+late)\b`)
)

// Classifier scores requests against channel trust levels and content
// heuristics from the active policy table. Deterministic for identical
// inputs and policy version.
type Classifier struct {
	table *policy.Compiled
}

// NewClassifier creates a classifier bound to a compiled policy table.
func NewClassifier(table *policy.Compiled) *Classifier {
	return &Classifier{table: table}
}

// Classify derives the risk signal for one request. reqContext carries the
// normalized auxiliary fields (platform, voice_input flag and similar);
// fields absent from the map simply do not contribute, so the map shape can
// vary by channel.
func (c *Classifier) Classify(ctx context.Context, text, channel string, reqContext map[string]any) Signal {
	_, span := tracer.Start(ctx, "intelligence.classify",
		oteltrace.WithAttributes(attribute.String("request.channel", channel)))
	defer span.End()

	sig := func() (sig Signal) {
		// A panic anywhere in scoring degrades to the fail-closed signal
		// instead of propagating into the pipeline.
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("intelligence_classify_panic")
				sig = FailClosed()
			}
		}()
		return c.score(text, channel, reqContext)
	}()

	span.SetAttributes(
		attribute.Float64("intelligence.risk_score", sig.RiskScore),
		attribute.String("intelligence.behavioral_state", sig.BehavioralState),
	)
	return sig
}

// score computes the risk score from channel trust and content markers, then
// bands it into a behavioral state. The banding mirrors the safe/monitor/
// restrict escalation used for trust signals: any strongly adverse marker
// escalates immediately.
func (c *Classifier) score(text, channel string, reqContext map[string]any) Signal {
	trust := c.table.Table.TrustFor(channel)
	risk := 1.0 - trust

	var constraints []string

	if voice, _ := reqContext["voice_input"].(bool); voice {
		// Transcribed speech carries transcription error risk.
		risk += 0.05
		constraints = append(constraints, "voice_transcript")
	}
	if linkPattern.MatchString(text) {
		risk += 0.15
		constraints = append(constraints, "external_link")
	}
	if urgencyPattern.MatchString(text) {
		risk += 0.15
		constraints = append(constraints, "urgency_marker")
	}
	if isShouting(text) {
		risk += 0.05
		constraints = append(constraints, "aggressive_tone")
	}
	if risk > 1.0 {
		risk = 1.0
	}

	state := StateSafe
	switch {
	case risk >= 0.8:
		state = StateRestrict
	case risk >= 0.5:
		state = StateMonitor
	}

	return Signal{
		BehavioralState:      state,
		RiskScore:            risk,
		SuggestedConstraints: constraints,
	}
}

// isShouting reports whether letter content is predominantly upper case.
// Short fragments are exempt to avoid flagging acronyms.
func isShouting(text string) bool {
	var letters, upper int
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z':
			letters++
		case r >= 'A' && r <= 'Z':
			letters++
			upper++
		}
	}
	return letters >= 12 && upper*10 >= letters*8
}
