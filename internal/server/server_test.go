package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-io/warden/internal/bucket"
	"github.com/warden-io/warden/internal/channel"
	"github.com/warden-io/warden/internal/dispatch"
	"github.com/warden-io/warden/internal/pipeline"
	"github.com/warden-io/warden/internal/policy"
	"github.com/warden-io/warden/internal/task"
)

const testSigningKey = "server-test-signing-key-0123456789abcdef"

type okExecutor struct{}

func (okExecutor) Method() string { return "test_provider" }

func (okExecutor) Send(context.Context, map[string]string) (string, error) {
	return "delivered", nil
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	table, err := policy.Load(context.Background(), "")
	require.NoError(t, err)

	dir := t.TempDir()
	auditStore, err := bucket.NewStore(filepath.Join(dir, "audit.db"), testSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditStore.Close() })

	taskStore, err := task.NewStore(filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = taskStore.Close() })

	d := dispatch.NewDispatcher(time.Second)
	for _, taskType := range []string{policy.TaskEmail, policy.TaskWhatsApp, policy.TaskReminder, policy.TaskGeneralTask} {
		d.Register(taskType, okExecutor{})
	}

	orchestrator := pipeline.New(table, d, auditStore, taskStore)
	return NewServer(orchestrator, channel.NewRegistry(), auditStore, taskStore, table, opts...)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var decoded map[string]any
	if len(rr.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded), rr.Body.String())
	}
	return rr, decoded
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rr, body := doJSON(t, srv.Routes(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["policy_version"])
}

func TestAssistantEndpoint(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()

	payload := []byte(`{
		"version": "3.0.0",
		"input": {"message": "Send an email to alice@example.com saying 'hello'"},
		"context": {"platform": "web"}
	}`)
	rr, body := doJSON(t, routes, http.MethodPost, "/v1/assistant", payload)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Regexp(t, `^trace_[0-9a-f]{12}$`, body["trace_id"])

	result := body["result"].(map[string]any)
	assert.Equal(t, "workflow", result["type"])

	enforcement := result["enforcement"].(map[string]any)
	assert.Equal(t, "ALLOW", enforcement["decision"])
}

func TestAssistantStructuralRejection(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{broken`},
		{"missing version", `{"input": {"message": "hi"}}`},
		{"unsupported version", `{"version": "2.0.0", "input": {"message": "hi"}}`},
		{"missing message", `{"version": "3.0.0", "input": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doJSON(t, routes, http.MethodPost, "/v1/assistant", []byte(tt.payload))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "error", body["status"])
			assert.Empty(t, body["trace_id"], "no trace for structural rejections")
		})
	}
}

func TestAssistantBlockedRequestStillTraced(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()

	payload := []byte(`{"version": "3.0.0", "input": {"message": "I want to hurt myself"}, "context": {"platform": "web"}}`)
	rr, body := doJSON(t, routes, http.MethodPost, "/v1/assistant", payload)

	require.Equal(t, http.StatusOK, rr.Code)
	traceID := body["trace_id"].(string)

	result := body["result"].(map[string]any)
	enforcement := result["enforcement"].(map[string]any)
	assert.Equal(t, "BLOCK", enforcement["decision"])
	assert.Equal(t, "SELF_HARM_BLOCK", enforcement["reason_code"])

	// The audit history for the blocked request is replayable and verified.
	rr, body = doJSON(t, routes, http.MethodGet, "/v1/audit/"+traceID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, float64(6), body["count"])
}

func TestWebhookWhatsApp(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()

	payload := []byte(`{
		"entry": [{
			"messaging": [{
				"sender": {"id": "4917012345"},
				"message": {"type": "text", "text": {"body": "remind me to stretch at noon"}}
			}]
		}]
	}`)
	rr, body := doJSON(t, routes, http.MethodPost, "/webhook/whatsapp", payload)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "processed", body["status"])
	assert.Regexp(t, `^trace_[0-9a-f]{12}$`, body["trace_id"])
}

func TestWebhookIgnoredEvent(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()

	rr, body := doJSON(t, routes, http.MethodPost, "/webhook/whatsapp", []byte(`{"entry": []}`))

	assert.Equal(t, http.StatusOK, rr.Code, "ignored events are acknowledged so the provider stops retrying")
	assert.Equal(t, "ignored", body["status"])
	assert.Equal(t, "no_entries", body["reason"])
}

func TestWebhookUnknownChannel(t *testing.T) {
	srv := newTestServer(t)

	rr, _ := doJSON(t, srv.Routes(), http.MethodPost, "/webhook/smoke_signals", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookMalformedPayload(t *testing.T) {
	srv := newTestServer(t)

	rr, body := doJSON(t, srv.Routes(), http.MethodPost, "/webhook/telephony", []byte(`{{{`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "error", body["status"])
}

func TestAuditReplayNotFound(t *testing.T) {
	srv := newTestServer(t)

	rr, _ := doJSON(t, srv.Routes(), http.MethodGet, "/v1/audit/trace_000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	routes := srv.Routes()

	payload := []byte(`{"version": "3.0.0", "input": {"message": "Send an email to alice@example.com saying 'hi'"}, "context": {"platform": "web"}}`)
	_, body := doJSON(t, routes, http.MethodPost, "/v1/assistant", payload)
	traceID := body["trace_id"].(string)

	rr, body := doJSON(t, routes, http.MethodGet, "/v1/tasks/"+traceID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "email", body["task_type"])

	rr, body = doJSON(t, routes, http.MethodGet, "/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), body["count"])

	rr, _ = doJSON(t, routes, http.MethodDelete, "/v1/tasks/"+traceID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, _ = doJSON(t, routes, http.MethodGet, "/v1/tasks/"+traceID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Deleting the task does not touch the audit history.
	rr, body = doJSON(t, routes, http.MethodGet, "/v1/audit/"+traceID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["verified"])
}

func TestTaskListLimitValidation(t *testing.T) {
	srv := newTestServer(t)

	rr, _ := doJSON(t, srv.Routes(), http.MethodGet, "/v1/tasks?limit=9999", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPolicyInfo(t *testing.T) {
	srv := newTestServer(t)

	rr, body := doJSON(t, srv.Routes(), http.MethodGet, "/v1/policy", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, body["version"], ":sha256:")
	assert.Greater(t, body["hard_deny"], float64(0))
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, WithAPIKeys([]string{"secret-key"}))
	routes := srv.Routes()

	// No key: rejected.
	rr, _ := doJSON(t, routes, http.MethodGet, "/v1/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Wrong key: rejected.
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("X-Warden-Key", "wrong")
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Header key accepted.
	req = httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("X-Warden-Key", "secret-key")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Bearer token accepted.
	req = httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health and webhooks stay open.
	rr, _ = doJSON(t, routes, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = doJSON(t, routes, http.MethodPost, "/webhook/whatsapp", []byte(`{"entry": []}`))
	assert.Equal(t, http.StatusOK, rr.Code)
}
