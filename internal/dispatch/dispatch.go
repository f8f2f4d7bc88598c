// Package dispatch routes a resolved task to the matching external-action
// executor and normalizes whatever comes back (success, provider error,
// timeout, or panic) into one provider-agnostic execution result. The
// dispatcher applies a bounded timeout per dispatch and never retries;
// retry policy, if any, belongs to the provider side.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-io/warden/internal/otel"
	"github.com/warden-io/warden/internal/task"
)

var tracer = wardenotel.Tracer("github.com/warden-io/warden/internal/dispatch")

// Executor performs one external action. Implementations live at the system
// boundary (message providers, reminder store); the dispatcher only consumes
// their pass/fail outcome.
type Executor interface {
	// Send performs the action described by params and returns a short
	// human-readable detail on success.
	Send(ctx context.Context, params map[string]string) (detail string, err error)
	// Method names the provider mechanism, e.g. "provider_api" or "local_store".
	Method() string
}

// Dispatcher routes tasks by type to registered executors.
type Dispatcher struct {
	executors map[string]Executor
	timeout   time.Duration
}

// NewDispatcher creates a dispatcher with the given per-dispatch timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		executors: make(map[string]Executor),
		timeout:   timeout,
	}
}

// Register binds an executor to a task type. Later registrations replace
// earlier ones.
func (d *Dispatcher) Register(taskType string, ex Executor) {
	d.executors[taskType] = ex
}

// Dispatch executes one task and returns the normalized result. Provider
// failures, timeouts, and executor panics all surface as status=error with a
// provider-agnostic detail; no provider-specific failure ever escapes.
func (d *Dispatcher) Dispatch(ctx context.Context, t *task.Task) task.Result {
	ctx, span := tracer.Start(ctx, "dispatch.execute",
		oteltrace.WithAttributes(
			attribute.String("trace_id", t.TraceID),
			attribute.String("task.type", t.TaskType),
		))
	defer span.End()

	ex, ok := d.executors[t.TaskType]
	if !ok {
		return task.Result{
			Status:         task.ResultError,
			ProviderMethod: "none",
			Detail:         fmt.Sprintf("no executor for task type %q", t.TaskType),
			Timestamp:      time.Now().UTC(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	detail, err := d.send(ctx, ex, t.Parameters)
	result := task.Result{
		ProviderMethod: ex.Method(),
		Timestamp:      time.Now().UTC(),
	}
	if err != nil {
		result.Status = task.ResultError
		result.Detail = err.Error()
		span.RecordError(err)
		log.Warn().Err(err).
			Str("trace_id", t.TraceID).
			Str("task_type", t.TaskType).
			Msg("dispatch_failed")
	} else {
		result.Status = task.ResultSuccess
		result.Detail = detail
	}

	span.SetAttributes(attribute.String("dispatch.status", result.Status))
	return result
}

// send invokes the executor with panic containment: a panicking executor is
// indistinguishable from any other execution failure at the core boundary.
func (d *Dispatcher) send(ctx context.Context, ex Executor, params map[string]string) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	type outcome struct {
		detail string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		dt, e := ex.Send(ctx, params)
		done <- outcome{detail: dt, err: e}
	}()

	select {
	case o := <-done:
		return o.detail, o.err
	case <-ctx.Done():
		// Timeout is not distinguished from other execution failures.
		return "", fmt.Errorf("execution timed out after %s", d.timeout)
	}
}
