package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-io/warden/internal/task"
)

type stubExecutor struct {
	detail string
	err    error
	delay  time.Duration
	panics bool
}

func (s *stubExecutor) Method() string { return "stub" }

func (s *stubExecutor) Send(ctx context.Context, params map[string]string) (string, error) {
	if s.panics {
		panic("executor exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.detail, s.err
}

func emailTask() *task.Task {
	return &task.Task{
		TraceID:  "trace_aaaaaaaaaaaa",
		TaskType: "email",
		Parameters: map[string]string{
			"recipient": "alice@example.com",
			"subject":   "hello",
			"body":      "hi",
		},
		Status: task.StatusPending,
	}
}

func TestDispatchSuccess(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("email", &stubExecutor{detail: "email delivered"})

	result := d.Dispatch(context.Background(), emailTask())
	assert.Equal(t, task.ResultSuccess, result.Status)
	assert.Equal(t, "email delivered", result.Detail)
	assert.Equal(t, "stub", result.ProviderMethod)
	assert.False(t, result.Timestamp.IsZero())
}

func TestDispatchExecutorError(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("email", &stubExecutor{err: errors.New("provider returned status 502")})

	result := d.Dispatch(context.Background(), emailTask())
	assert.Equal(t, task.ResultError, result.Status)
	assert.Contains(t, result.Detail, "502")
}

func TestDispatchUnknownTaskType(t *testing.T) {
	d := NewDispatcher(time.Second)

	tk := emailTask()
	tk.TaskType = "teleport"
	result := d.Dispatch(context.Background(), tk)
	assert.Equal(t, task.ResultError, result.Status)
	assert.Contains(t, result.Detail, "teleport")
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(50 * time.Millisecond)
	d.Register("email", &stubExecutor{delay: 5 * time.Second})

	start := time.Now()
	result := d.Dispatch(context.Background(), emailTask())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, task.ResultError, result.Status)
	assert.Contains(t, result.Detail, "timed out")
}

func TestDispatchExecutorPanicRecovered(t *testing.T) {
	d := NewDispatcher(time.Second)
	d.Register("email", &stubExecutor{panics: true})

	var result task.Result
	assert.NotPanics(t, func() {
		result = d.Dispatch(context.Background(), emailTask())
	})
	assert.Equal(t, task.ResultError, result.Status)
	assert.Contains(t, result.Detail, "panic")
}

func TestProviderExecutorSend(t *testing.T) {
	var gotPath string
	var gotReq providerSendRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providerSendResponse{ID: "msg-42", Status: "queued"})
	}))
	t.Cleanup(ts.Close)

	ex := NewProviderExecutor("email", ts.URL)
	detail, err := ex.Send(context.Background(), map[string]string{
		"recipient": "alice@example.com",
		"subject":   "hello",
		"body":      "hi",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/send/email", gotPath)
	assert.Equal(t, "alice@example.com", gotReq.Recipient)
	assert.Equal(t, "hi", gotReq.Payload["body"])
	assert.NotContains(t, gotReq.Payload, "recipient")
	assert.Contains(t, detail, "msg-42")
}

func TestProviderExecutorErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)

	tests := []struct {
		name    string
		baseURL string
		params  map[string]string
		wantIn  string
	}{
		{
			name:    "provider 5xx",
			baseURL: ts.URL,
			params:  map[string]string{"recipient": "a@b.com"},
			wantIn:  "status 502",
		},
		{
			name:    "missing recipient",
			baseURL: ts.URL,
			params:  map[string]string{"body": "hi"},
			wantIn:  "missing recipient",
		},
		{
			name:    "no provider configured",
			baseURL: "",
			params:  map[string]string{"recipient": "a@b.com"},
			wantIn:  "no provider configured",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := NewProviderExecutor("email", tt.baseURL)
			_, err := ex.Send(context.Background(), tt.params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantIn)
		})
	}
}

func TestReminderExecutor(t *testing.T) {
	ex := NewReminderExecutor()

	detail, err := ex.Send(context.Background(), map[string]string{
		"description": "water the plants",
		"schedule":    "6pm",
	})
	require.NoError(t, err)
	assert.Contains(t, detail, "water the plants")
	assert.Contains(t, detail, "6pm")

	_, err = ex.Send(context.Background(), map[string]string{})
	assert.Error(t, err, "reminder without description is rejected")
}

func TestNoopExecutor(t *testing.T) {
	detail, err := NoopExecutor{}.Send(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, detail, "acknowledged")
}
