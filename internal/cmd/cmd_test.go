package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warden-io/warden/internal/bucket"
	"github.com/warden-io/warden/internal/task"
)

func TestParseAPIKeys(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want []string
	}{
		{"empty", "", nil},
		{"single", "key1", []string{"key1"}},
		{"multiple with spaces", " key1, key2 ,key3", []string{"key1", "key2", "key3"}},
		{"trailing comma", "key1,", []string{"key1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAPIKeys(tt.env))
		})
	}
}

func TestRenderVersion(t *testing.T) {
	t.Run("long form", func(t *testing.T) {
		var buf bytes.Buffer
		renderVersion(&buf, false)
		out := buf.String()
		assert.Contains(t, out, "warden "+resolvedVersion())
		assert.Contains(t, out, "commit:")
		assert.Contains(t, out, "built:")
		assert.Contains(t, out, "runtime:")
	})

	t.Run("short form", func(t *testing.T) {
		var buf bytes.Buffer
		renderVersion(&buf, true)
		assert.Equal(t, resolvedVersion()+"\n", buf.String())
	})
}

func TestReadMessage(t *testing.T) {
	t.Run("from argv", func(t *testing.T) {
		msg, err := readMessage([]string{"hello"}, strings.NewReader("ignored"))
		assert.NoError(t, err)
		assert.Equal(t, "hello", msg)
	})

	t.Run("from stdin", func(t *testing.T) {
		msg, err := readMessage(nil, strings.NewReader("  from a pipe\n"))
		assert.NoError(t, err)
		assert.Equal(t, "from a pipe", msg)
	})

	t.Run("empty stdin", func(t *testing.T) {
		_, err := readMessage(nil, strings.NewReader("   \n"))
		assert.Error(t, err)
	})
}

func TestRenderReplay(t *testing.T) {
	var buf bytes.Buffer
	records := []bucket.Record{
		{
			TraceID:   "trace_aaaaaaaaaaaa",
			Seq:       0,
			Stage:     "received",
			Payload:   json.RawMessage(`{"channel":"web"}`),
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			TraceID:   "trace_aaaaaaaaaaaa",
			Seq:       1,
			Stage:     "responded",
			Payload:   json.RawMessage(`{"chain_complete":true}`),
			Timestamp: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC),
		},
	}
	renderReplay(&buf, "trace_aaaaaaaaaaaa", records)

	out := buf.String()
	assert.Contains(t, out, "trace_aaaaaaaaaaaa (2 stages)")
	assert.Contains(t, out, "received")
	assert.Contains(t, out, "responded")
	assert.Contains(t, out, `{"channel":"web"}`)
}

func TestRenderVerifyResult(t *testing.T) {
	var buf bytes.Buffer
	renderVerifyResult(&buf, "trace_bbbbbbbbbbbb", true)
	assert.Contains(t, buf.String(), "VALID")

	buf.Reset()
	renderVerifyResult(&buf, "trace_bbbbbbbbbbbb", false)
	assert.Contains(t, buf.String(), "INVALID")
}

func TestRenderTaskList(t *testing.T) {
	var buf bytes.Buffer
	tasks := []task.Task{
		{
			TraceID:   "trace_cccccccccccc",
			TaskType:  "email",
			Status:    task.StatusCompleted,
			Execution: &task.Result{Status: task.ResultSuccess},
			UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			TraceID:   "trace_dddddddddddd",
			TaskType:  "reminder",
			Status:    task.StatusPending,
			UpdatedAt: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		},
	}
	renderTaskList(&buf, tasks)

	out := buf.String()
	assert.Contains(t, out, "showing 2")
	assert.Contains(t, out, "trace_cccccccccccc")
	assert.Contains(t, out, "exec=success")
	assert.Contains(t, out, "exec=-")
}
