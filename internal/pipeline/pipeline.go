// Package pipeline drives one normalized inbound request through the fixed
// stage order: safety evaluation, risk classification, enforcement decision,
// intent resolution, execution, and audit logging. Every stage appends one
// audit record under the request's trace identifier; the trace context and
// the audit log handle are passed explicitly so each stage is testable in
// isolation with a fake log.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/warden-io/warden/internal/bucket"
	"github.com/warden-io/warden/internal/channel"
	"github.com/warden-io/warden/internal/dispatch"
	"github.com/warden-io/warden/internal/enforce"
	"github.com/warden-io/warden/internal/intelligence"
	"github.com/warden-io/warden/internal/intent"
	wardenotel "github.com/warden-io/warden/internal/otel"
	"github.com/warden-io/warden/internal/policy"
	"github.com/warden-io/warden/internal/safety"
	"github.com/warden-io/warden/internal/task"
	"github.com/warden-io/warden/internal/trace"
)

var tracer = wardenotel.Tracer("github.com/warden-io/warden/internal/pipeline")

// Envelope version accepted at the validation gate. Only the major version
// is compared; 3.x requests are processed, anything else is rejected before
// a trace is allocated.
const envelopeVersion = "3.0.0"

// Pipeline stage names as they appear in the audit history.
const (
	StageReceived     = "received"
	StageSafety       = "safety_checked"
	StageRisk         = "risk_checked"
	StageEnforcement  = "enforcement_decided"
	StageTaskResolved = "task_resolved"
	StageBlocked      = "blocked"
	StageExecuted     = "executed"
	StageResponded    = "responded"
	StageError        = "responded_with_error"
)

// AuditLog is the subset of the bucket store the orchestrator writes to.
type AuditLog interface {
	Append(ctx context.Context, rec bucket.Record)
}

// TaskStore is the subset of the task store the orchestrator persists to.
type TaskStore interface {
	Save(ctx context.Context, t *task.Task) error
}

// Response is the versioned envelope returned for every processed request.
type Response struct {
	Version     string       `json:"version"`
	Status      string       `json:"status"`
	Result      *Result      `json:"result,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
	TraceID     string       `json:"trace_id,omitempty"`
	ProcessedAt time.Time    `json:"processed_at"`
}

// Result carries the success-path outcome: the user-facing response text
// plus the decision artifacts that produced it.
type Result struct {
	Type        string              `json:"type"`
	Response    string              `json:"response"`
	Task        *task.Task          `json:"task,omitempty"`
	Enforcement enforce.Decision    `json:"enforcement"`
	Safety      safety.Verdict      `json:"safety"`
	Execution   *task.Result        `json:"execution,omitempty"`
	Signal      intelligence.Signal `json:"intelligence"`
}

// ErrorDetail carries the error-path outcome.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result types, naming which part of the system produced the response.
const (
	ResultPassive  = "passive"
	ResultWorkflow = "workflow"
)

// Orchestrator owns the stage sequencing for one process generation. The
// policy table it holds is read-only; concurrent requests share nothing
// else.
type Orchestrator struct {
	table      *policy.Compiled
	evaluator  *safety.Evaluator
	classifier *intelligence.Classifier
	engine     *enforce.Engine
	resolver   *intent.Resolver
	dispatcher *dispatch.Dispatcher
	audit      AuditLog
	tasks      TaskStore
}

// New wires an orchestrator from its collaborators.
func New(table *policy.Compiled, dispatcher *dispatch.Dispatcher, audit AuditLog, tasks TaskStore) *Orchestrator {
	return &Orchestrator{
		table:      table,
		evaluator:  safety.NewEvaluator(table),
		classifier: intelligence.NewClassifier(table),
		engine:     enforce.NewEngine(table.Table.Enforcement.TerminateThreshold),
		resolver:   intent.NewResolver(table),
		dispatcher: dispatcher,
		audit:      audit,
		tasks:      tasks,
	}
}

// Validate applies the structural gate. It runs before any trace is
// allocated; a failure here produces no audit history.
func Validate(req *channel.Request) *channel.StructuralError {
	if req == nil {
		return &channel.StructuralError{Reason: "empty request body"}
	}
	if req.Version == "" {
		return &channel.StructuralError{Field: "version", Reason: "required"}
	}
	if len(req.Version) < 2 || req.Version[:2] != "3." {
		return &channel.StructuralError{Field: "version", Reason: fmt.Sprintf("unsupported version %q", req.Version)}
	}
	if req.Input.Text() == "" {
		return &channel.StructuralError{Field: "input.message", Reason: "required unless input.audio_derived_text is set"}
	}
	return nil
}

// Process runs one request through the full stage sequence and always
// returns a response carrying the trace identifier. A panic anywhere in the
// stages is caught at this boundary, converted to a block-equivalent error
// response, and still logged under the same trace.
func (o *Orchestrator) Process(ctx context.Context, req *channel.Request) *Response {
	tc := trace.New()

	ctx, span := tracer.Start(ctx, "pipeline.process",
		oteltrace.WithAttributes(
			attribute.String("trace_id", tc.TraceID),
			attribute.String("request.channel", req.Context.ChannelName()),
		))
	defer span.End()

	resp := o.run(ctx, tc, req)
	span.SetAttributes(attribute.String("pipeline.status", resp.Status))
	return resp
}

func (o *Orchestrator) run(ctx context.Context, tc *trace.Context, req *channel.Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("trace_id", tc.TraceID).
				Interface("panic", r).
				Func(wardenotel.LogSpanFields(ctx)).
				Msg("pipeline_panic")
			// The audit log may itself be the panic source; the error
			// record is best effort and must not take down the response.
			func() {
				defer func() { _ = recover() }()
				o.append(ctx, tc, StageError, map[string]any{
					"error": fmt.Sprint(r),
				})
			}()
			resp = errorResponse("INTERNAL_ERROR", "unable to process request", tc.TraceID)
		}
	}()

	text := req.Input.Text()
	channelName := req.Context.ChannelName()
	voiceInput := req.Context.VoiceInput || req.Input.AudioOnly()

	o.append(ctx, tc, StageReceived, map[string]any{
		"input_text":  text,
		"channel":     channelName,
		"session_id":  req.Context.SessionID,
		"voice_input": voiceInput,
	})

	verdict := o.evaluator.Evaluate(ctx, text)
	o.append(ctx, tc, StageSafety, verdict)

	signal := o.classifier.Classify(ctx, text, channelName, map[string]any{
		"voice_input": voiceInput,
	})
	o.append(ctx, tc, StageRisk, signal)

	decision := o.engine.Decide(verdict, signal, tc.TraceID)
	o.append(ctx, tc, StageEnforcement, decision)

	if decision.Decision == enforce.DecisionBlock || decision.Decision == enforce.DecisionTerminate {
		o.append(ctx, tc, StageBlocked, map[string]any{
			"reason_code": decision.ReasonCode,
		})
		resp := o.respond(ctx, tc, &Result{
			Type:        ResultPassive,
			Response:    blockedText(decision),
			Enforcement: decision,
			Safety:      verdict,
			Signal:      signal,
		})
		return resp
	}

	resolved := o.resolver.Resolve(ctx, tc.TraceID, text)
	o.append(ctx, tc, StageTaskResolved, resolved)

	if decision.Decision == enforce.DecisionRewrite {
		intent.Soften(resolved, o.table.Table.Enforcement)
	}

	result := &Result{
		Type:        ResultPassive,
		Response:    "I understand. Let me help you with that.",
		Enforcement: decision,
		Safety:      verdict,
		Signal:      signal,
	}

	if resolved.TaskType != policy.TaskNone {
		result.Type = ResultWorkflow
		exec := o.dispatcher.Dispatch(ctx, resolved)
		o.append(ctx, tc, StageExecuted, exec)

		resolved.Execution = &exec
		resolved.UpdatedAt = time.Now().UTC()
		switch exec.Status {
		case task.ResultSuccess:
			resolved.Status = task.StatusCompleted
			result.Response = fmt.Sprintf("Done: %s", exec.Detail)
		default:
			resolved.Status = task.StatusFailed
			result.Response = fmt.Sprintf("The %s action could not be completed.", resolved.TaskType)
		}
		result.Execution = &exec
		result.Task = resolved

		if err := o.tasks.Save(ctx, resolved); err != nil {
			// Persistence failure is reported but does not change the
			// decision already made.
			log.Error().
				Err(err).
				Str("trace_id", tc.TraceID).
				Func(wardenotel.LogSpanFields(ctx)).
				Msg("task_save_failed")
		}
	} else if decision.Decision == enforce.DecisionRewrite {
		result.Response = o.table.Table.Enforcement.RewriteTemplate
	}

	return o.respond(ctx, tc, result)
}

// respond assembles the final envelope and writes the terminal audit record.
func (o *Orchestrator) respond(ctx context.Context, tc *trace.Context, result *Result) *Response {
	resp := &Response{
		Version:     envelopeVersion,
		Status:      "success",
		Result:      result,
		TraceID:     tc.TraceID,
		ProcessedAt: time.Now().UTC(),
	}
	o.append(ctx, tc, StageResponded, map[string]any{
		"result_type":    result.Type,
		"decision":       result.Enforcement.Decision,
		"chain_complete": true,
	})
	return resp
}

// append serializes a stage payload and writes it to the audit log. Append
// never fails the caller; an unserializable payload degrades to its string
// form rather than dropping the record.
func (o *Orchestrator) append(ctx context.Context, tc *trace.Context, stage string, payload any) {
	seq, dup := tc.Advance(stage)
	if dup {
		log.Warn().
			Str("trace_id", tc.TraceID).
			Str("stage", stage).
			Func(wardenotel.LogSpanFields(ctx)).
			Msg("duplicate_stage")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"unserializable": fmt.Sprint(payload)})
	}

	o.audit.Append(ctx, bucket.Record{
		TraceID:   tc.TraceID,
		Seq:       seq,
		Stage:     stage,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	})
}

func blockedText(d enforce.Decision) string {
	switch d.ReasonCode {
	case enforce.ReasonSelfHarm:
		return "I'm concerned about what you've shared. Please reach out to someone you trust or a crisis line; I can't help with this request."
	case enforce.ReasonTerminate:
		return "This conversation cannot continue."
	default:
		return "I can't help with that request."
	}
}

func errorResponse(code, message, traceID string) *Response {
	return &Response{
		Version:     envelopeVersion,
		Status:      "error",
		Error:       &ErrorDetail{Code: code, Message: message},
		TraceID:     traceID,
		ProcessedAt: time.Now().UTC(),
	}
}

// StructuralResponse converts a pre-pipeline validation failure into the
// error envelope. No trace identifier is attached because no trace exists.
func StructuralResponse(serr *channel.StructuralError) *Response {
	return &Response{
		Version:     envelopeVersion,
		Status:      "error",
		Error:       &ErrorDetail{Code: "INVALID_INPUT", Message: serr.Error()},
		ProcessedAt: time.Now().UTC(),
	}
}
