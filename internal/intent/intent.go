// Package intent resolves request text into a concrete task descriptor via
// the policy table's ordered intent patterns, and extracts the parameters
// each task type needs. First match in table order wins, which keeps the
// "first keyword decides" behavior explicit and testable.
package intent

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	wardenotel "github.com/warden-io/warden/internal/otel"
	"github.com/warden-io/warden/internal/policy"
	"github.com/warden-io/warden/internal/task"
)

var tracer = wardenotel.Tracer("github.com/warden-io/warden/internal/intent")

var (
	emailRecipientRE = regexp.MustCompile(`(?i)(?:to|send.*?to)\s+([\w.+-]+@[\w.-]+\.\w+)`)
	subjectRE        = regexp.MustCompile(`(?i)(?:subject|with subject)\s+['"](.*?)['"]`)
	bodyRE           = regexp.MustCompile(`(?i)(?:message|saying|body)\s+['"](.*?)['"]`)
	phoneRecipientRE = regexp.MustCompile(`(?i)(?:to|send.*?to)\s+(\+?[\d][\d\s\-()]{5,})`)
	reminderWhenRE   = regexp.MustCompile(`(?i)\b(?:at|on|in)\s+([\w: ]{2,30}?)(?:\s+to\b|$|[.,])`)
	reminderWhatRE   = regexp.MustCompile(`(?i)remind\s+me\s+(?:to\s+)?(.+?)(?:\s+(?:at|on|in)\s+[\w: ]{2,30})?[.,]?$`)
)

// Resolver maps text to a task via the compiled intent table.
type Resolver struct {
	table *policy.Compiled
}

// NewResolver creates a resolver bound to a compiled policy table.
func NewResolver(table *policy.Compiled) *Resolver {
	return &Resolver{table: table}
}

// Resolve returns the task for the given text, or a task with type "none"
// when no intent pattern matches. The returned task is always pending; the
// orchestrator decides whether it ever reaches dispatch.
func (r *Resolver) Resolve(ctx context.Context, traceID, text string) *task.Task {
	_, span := tracer.Start(ctx, "intent.resolve")
	defer span.End()

	now := time.Now().UTC()
	t := &task.Task{
		TraceID:   traceID,
		TaskType:  policy.TaskNone,
		Status:    task.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, entry := range r.table.Intents {
		for _, re := range entry.Patterns {
			if re.MatchString(text) {
				t.TaskType = entry.TaskType
				t.Parameters = ExtractParameters(text, entry.TaskType)
				span.SetAttributes(attribute.String("intent.task_type", t.TaskType))
				return t
			}
		}
	}

	span.SetAttributes(attribute.String("intent.task_type", t.TaskType))
	return t
}

// ExtractParameters pulls task-type specific parameters out of the request
// text. Missing optional fields get conservative defaults; a missing
// required field (e.g. no recipient) leaves the map without that key and
// the dispatcher reports the failure.
func ExtractParameters(text, taskType string) map[string]string {
	params := map[string]string{}

	switch taskType {
	case policy.TaskEmail:
		if m := emailRecipientRE.FindStringSubmatch(text); m != nil {
			params["recipient"] = m[1]
		}
		if m := subjectRE.FindStringSubmatch(text); m != nil {
			params["subject"] = m[1]
		} else {
			params["subject"] = "Message from assistant"
		}
		if m := bodyRE.FindStringSubmatch(text); m != nil {
			params["body"] = m[1]
		} else {
			params["body"] = text
		}

	case policy.TaskWhatsApp:
		if m := phoneRecipientRE.FindStringSubmatch(text); m != nil {
			params["recipient"] = strings.TrimSpace(m[1])
		}
		if m := bodyRE.FindStringSubmatch(text); m != nil {
			params["body"] = m[1]
		} else {
			params["body"] = text
		}

	case policy.TaskReminder:
		if m := reminderWhatRE.FindStringSubmatch(text); m != nil {
			params["description"] = strings.TrimSpace(m[1])
		} else {
			params["description"] = text
		}
		if m := reminderWhenRE.FindStringSubmatch(text); m != nil {
			params["schedule"] = strings.TrimSpace(m[1])
		}

	case policy.TaskGeneralTask:
		params["description"] = text
	}

	return params
}

// Soften applies the policy table's rewrite transform to a task's outbound
// content before dispatch. Only output-bearing parameters change; recipient
// and schedule fields pass through untouched.
func Soften(t *task.Task, enforcement policy.EnforcementConfig) {
	if t.Parameters == nil {
		return
	}
	if _, ok := t.Parameters["body"]; ok {
		t.Parameters["body"] = enforcement.RewriteTemplate
	}
	if subject, ok := t.Parameters["subject"]; ok && enforcement.RewriteSubjectPrefix != "" {
		t.Parameters["subject"] = enforcement.RewriteSubjectPrefix + subject
	}
}
