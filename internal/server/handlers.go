package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/warden-io/warden/internal/channel"
	wardenotel "github.com/warden-io/warden/internal/otel"
	"github.com/warden-io/warden/internal/pipeline"
	"github.com/warden-io/warden/internal/task"
)

// maxBodyBytes bounds inbound payload size; webhook providers send small
// JSON events and the assistant endpoint carries short messages.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"policy_version": s.table.Table.VersionTag,
		"audit_failures": s.auditStore.FailureCount(),
	})
}

// handleAssistant processes a canonical request from the web API surface.
func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read request body")
		return
	}

	req, nerr := channel.WebAdapter{}.Normalize(body)
	if nerr != nil {
		writeJSON(w, http.StatusBadRequest, pipeline.StructuralResponse(structural(nerr)))
		return
	}
	if serr := pipeline.Validate(req); serr != nil {
		writeJSON(w, http.StatusBadRequest, pipeline.StructuralResponse(serr))
		return
	}

	resp := s.orchestrator.Process(r.Context(), req)
	status := http.StatusOK
	if resp.Status == "error" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// handleWebhook normalizes a channel-specific payload and runs it through
// the same pipeline as the web API. Ignored provider events are acknowledged
// with 200 so the provider does not retry them.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "channel")
	adapter := s.channels.Lookup(name)
	if adapter == nil {
		writeError(w, http.StatusNotFound, "unknown_channel", "no adapter for channel "+name)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read request body")
		return
	}

	req, nerr := adapter.Normalize(body)
	if nerr != nil {
		var ignored *channel.IgnoredEvent
		if errors.As(nerr, &ignored) {
			writeJSON(w, http.StatusOK, map[string]string{
				"status": "ignored",
				"reason": ignored.Reason,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, pipeline.StructuralResponse(structural(nerr)))
		return
	}
	if serr := pipeline.Validate(req); serr != nil {
		writeJSON(w, http.StatusBadRequest, pipeline.StructuralResponse(serr))
		return
	}

	resp := s.orchestrator.Process(r.Context(), req)
	log.Info().
		Str("channel", adapter.Name()).
		Str("trace_id", resp.TraceID).
		Func(wardenotel.LogSpanFields(r.Context())).
		Msg("webhook_processed")

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "processed",
		"trace_id":     resp.TraceID,
		"processed_at": resp.ProcessedAt,
	})
}

// handleAuditReplay returns the ordered audit history for one trace together
// with the signature verification result.
func (s *Server) handleAuditReplay(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")

	records, err := s.auditStore.Replay(r.Context(), traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "replay_failed", err.Error())
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "no audit history for "+traceID)
		return
	}

	verified, err := s.auditStore.Verify(r.Context(), traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verify_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id": traceID,
		"verified": verified,
		"count":    len(records),
		"records":  records,
	})
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be 1-500")
			return
		}
		limit = n
	}

	tasks, err := s.taskStore.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(tasks),
		"tasks": tasks,
	})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	t, err := s.taskStore.Get(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no task for "+traceID)
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleTaskDelete removes a task record. The audit history for the trace is
// append-only and is never deleted.
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	if err := s.taskStore.Delete(r.Context(), traceID); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no task for "+traceID)
			return
		}
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "deleted",
		"trace_id": traceID,
	})
}

func (s *Server) handlePolicyInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     s.table.Table.VersionTag,
		"hash":        s.table.Table.Hash,
		"hard_deny":   len(s.table.HardDeny),
		"soft_rules":  len(s.table.SoftRewrite),
		"intents":     len(s.table.Intents),
		"enforcement": s.table.Table.Enforcement,
	})
}

// structural coerces an adapter error into a StructuralError. Adapters only
// return *StructuralError or *IgnoredEvent; anything else is treated as
// structural to stay fail-closed at the edge.
func structural(err error) *channel.StructuralError {
	var serr *channel.StructuralError
	if errors.As(err, &serr) {
		return serr
	}
	return &channel.StructuralError{Reason: err.Error()}
}
