package task

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func pendingTask(traceID string) *Task {
	now := time.Now().UTC()
	return &Task{
		TraceID:  traceID,
		TaskType: "email",
		Parameters: map[string]string{
			"recipient": "alice@example.com",
			"subject":   "hello",
			"body":      "hi",
		},
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pendingTask("trace_aaaaaaaaaaaa")))

	got, err := store.Get(ctx, "trace_aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "email", got.TaskType)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "alice@example.com", got.Parameters["recipient"])
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "trace_000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tk := pendingTask("trace_bbbbbbbbbbbb")
	require.NoError(t, store.Save(ctx, tk))

	tk.Status = StatusCompleted
	tk.Execution = &Result{
		Status:         ResultSuccess,
		ProviderMethod: "provider_api",
		Detail:         "email delivered",
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, store.Save(ctx, tk))

	got, err := store.Get(ctx, "trace_bbbbbbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Execution)
	assert.Equal(t, ResultSuccess, got.Execution.Status)
}

func TestListMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pendingTask("trace_cccccccccccc")))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Save(ctx, pendingTask("trace_dddddddddddd")))

	tasks, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "trace_dddddddddddd", tasks[0].TraceID)

	limited, err := store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, pendingTask("trace_eeeeeeeeeeee")))
	require.NoError(t, store.Delete(ctx, "trace_eeeeeeeeeeee"))

	_, err := store.Get(ctx, "trace_eeeeeeeeeeee")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "trace_eeeeeeeeeeee"), ErrNotFound)
}
