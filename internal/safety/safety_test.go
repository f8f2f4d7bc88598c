package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-io/warden/internal/policy"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	table, err := policy.Load(context.Background(), "")
	require.NoError(t, err)
	return NewEvaluator(table)
}

func TestEvaluate(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		text         string
		wantDecision string
		wantCategory string
		wantReason   string
	}{
		{
			name:         "clean content",
			text:         "Please send the quarterly report to the team",
			wantDecision: DecisionAllow,
			wantCategory: RiskCategoryClean,
			wantReason:   "CONTENT_CLEAN",
		},
		{
			name:         "direct self harm",
			text:         "I want to hurt myself",
			wantDecision: DecisionHardDeny,
			wantCategory: "self_harm",
			wantReason:   "SELF_HARM_BLOCK",
		},
		{
			name:         "suicidal phrasing",
			text:         "I am going to kill myself tonight",
			wantDecision: DecisionHardDeny,
			wantCategory: "self_harm",
			wantReason:   "SELF_HARM_BLOCK",
		},
		{
			name:         "emotional dependency",
			text:         "You're the only one who understands me",
			wantDecision: DecisionSoftRewrite,
			wantCategory: "emotional_dependency",
			wantReason:   "SAFE_REWRITE_REQUIRED",
		},
		{
			name:         "empty text is clean",
			text:         "",
			wantDecision: DecisionAllow,
			wantCategory: RiskCategoryClean,
			wantReason:   "CONTENT_CLEAN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Evaluate(ctx, tt.text)
			assert.Equal(t, tt.wantDecision, v.Decision)
			assert.Equal(t, tt.wantCategory, v.RiskCategory)
			assert.Equal(t, tt.wantReason, v.ReasonCode)
			assert.InDelta(t, 1.0, v.Confidence, 0.001, "pattern matching is binary")
		})
	}
}

func TestHardDenyWinsOverSoftRewrite(t *testing.T) {
	e := newEvaluator(t)

	// Text matching both families must resolve to hard_deny.
	v := e.Evaluate(context.Background(), "You're the only one who understands me and I want to hurt myself")
	assert.Equal(t, DecisionHardDeny, v.Decision)
	assert.Equal(t, "SELF_HARM_BLOCK", v.ReasonCode)
}

func TestEvaluateDeterministic(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	first := e.Evaluate(ctx, "I want to hurt myself")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, e.Evaluate(ctx, "I want to hurt myself"))
	}
}

func TestEvaluateRecordsMatchedPattern(t *testing.T) {
	e := newEvaluator(t)

	v := e.Evaluate(context.Background(), "I want to hurt myself")
	require.NotEmpty(t, v.MatchedPatterns)
	assert.Equal(t, "direct_self_harm", v.MatchedPatterns[0])
}
