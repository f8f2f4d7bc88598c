package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-io/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/warden-io/warden/internal/task")

// ErrNotFound is returned when no task exists for a trace identifier.
var ErrNotFound = fmt.Errorf("task not found")

// Store persists tasks in SQLite, keyed by trace identifier.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the task database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening task database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		trace_id TEXT PRIMARY KEY,
		task_type TEXT NOT NULL,
		status TEXT NOT NULL,
		task_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating task schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces the task for its trace identifier.
func (s *Store) Save(ctx context.Context, t *Task) error {
	ctx, span := tracer.Start(ctx, "task.save",
		oteltrace.WithAttributes(
			attribute.String("trace_id", t.TraceID),
			attribute.String("task.type", t.TaskType),
			attribute.String("task.status", t.Status),
		))
	defer span.End()

	t.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (trace_id, task_type, status, task_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.TraceID, t.TaskType, t.Status, string(data), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing task: %w", err)
	}
	return nil
}

// Get returns the task for one trace identifier.
func (s *Store) Get(ctx context.Context, traceID string) (*Task, error) {
	ctx, span := tracer.Start(ctx, "task.get",
		oteltrace.WithAttributes(attribute.String("trace_id", traceID)))
	defer span.End()

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT task_json FROM tasks WHERE trace_id = ?`, traceID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}

	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("unmarshaling task: %w", err)
	}
	return &t, nil
}

// List returns up to limit tasks, most recently updated first. A zero limit
// means no cap.
func (s *Store) List(ctx context.Context, limit int) ([]Task, error) {
	ctx, span := tracer.Start(ctx, "task.list")
	defer span.End()

	query := `SELECT task_json FROM tasks ORDER BY updated_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, rows.Err()
}

// Delete removes the task for one trace identifier. This is the explicit
// external purge operation; the pipeline itself never deletes.
func (s *Store) Delete(ctx context.Context, traceID string) error {
	ctx, span := tracer.Start(ctx, "task.delete",
		oteltrace.WithAttributes(attribute.String("trace_id", traceID)))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE trace_id = ?`, traceID)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
