// Package bucket provides the HMAC-signed, append-only audit log keyed by
// trace identifier. Every pipeline stage appends one record; the ordered set
// of records for one trace is the full replayable history of that request.
//
// Append never fails the caller: a storage failure is logged to the
// operational channel and counted, because logging must not be allowed to
// degrade the primary decision path. Replay returns records in stage
// invocation order (sequence number), not wall-clock order, to tolerate
// clock skew across writers.
package bucket

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	wardenotel "github.com/warden-io/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/warden-io/warden/internal/bucket")

// Record is one audit entry: a payload snapshot of one pipeline stage.
type Record struct {
	TraceID   string          `json:"trace_id"`
	Seq       int             `json:"seq"`
	Stage     string          `json:"stage"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Signature string          `json:"signature,omitempty"`
}

// Store persists signed audit records in SQLite.
type Store struct {
	db       *sql.DB
	signer   *Signer
	failures atomic.Int64
}

// NewStore opens (creating if needed) the audit database at dbPath and
// prepares the HMAC signer.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_records (
		trace_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		stage TEXT NOT NULL,
		payload TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_trace ON audit_records(trace_id, seq);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores one audit record. It never returns an error: failures are
// logged and counted so the response path is never blocked by the audit
// store. A duplicate (trace_id, stage) pair is appended anyway but flagged
// as a protocol violation in the operational log.
func (s *Store) Append(ctx context.Context, rec Record) {
	ctx, span := tracer.Start(ctx, "bucket.append",
		oteltrace.WithAttributes(
			attribute.String("trace_id", rec.TraceID),
			attribute.String("stage", rec.Stage),
		))
	defer span.End()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if err := s.append(ctx, rec); err != nil {
		s.failures.Add(1)
		span.RecordError(err)
		log.Error().Err(err).
			Str("trace_id", rec.TraceID).
			Str("stage", rec.Stage).
			Msg("audit_append_failed")
	}
}

func (s *Store) append(ctx context.Context, rec Record) error {
	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM audit_records WHERE trace_id = ? AND stage = ?`,
		rec.TraceID, rec.Stage).Scan(&existing)
	if err == nil && existing > 0 {
		log.Warn().
			Str("trace_id", rec.TraceID).
			Str("stage", rec.Stage).
			Msg("duplicate_stage_append")
	}

	signature, err := s.signer.Sign(signingBytes(rec))
	if err != nil {
		return fmt.Errorf("signing audit record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records (trace_id, seq, stage, payload, timestamp, signature)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.Seq, rec.Stage, string(rec.Payload), rec.Timestamp, signature,
	)
	if err != nil {
		return fmt.Errorf("storing audit record: %w", err)
	}
	return nil
}

// FailureCount reports how many appends have been dropped since startup.
func (s *Store) FailureCount() int64 {
	return s.failures.Load()
}

// Replay returns all audit records for one trace in stage invocation order.
func (s *Store) Replay(ctx context.Context, traceID string) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "bucket.replay",
		oteltrace.WithAttributes(attribute.String("trace_id", traceID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id, seq, stage, payload, timestamp, signature
		 FROM audit_records WHERE trace_id = ? ORDER BY seq ASC`,
		traceID)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.TraceID, &rec.Seq, &rec.Stage, &payload, &rec.Timestamp, &rec.Signature); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}

	span.SetAttributes(attribute.Int("bucket.record_count", len(records)))
	return records, rows.Err()
}

// Verify recomputes the signature of every record for a trace and reports
// whether all of them are intact.
func (s *Store) Verify(ctx context.Context, traceID string) (bool, error) {
	records, err := s.Replay(ctx, traceID)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, fmt.Errorf("no audit records for %s", traceID)
	}

	for _, rec := range records {
		if !s.signer.Verify(signingBytes(rec), rec.Signature) {
			return false, nil
		}
	}
	return true, nil
}

// signingBytes is the canonical byte form covered by a record's signature.
// Timestamps are excluded: the database round-trip does not preserve their
// exact encoding, and integrity of the decision content is what matters.
func signingBytes(rec Record) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%s", rec.TraceID, rec.Seq, rec.Stage, rec.Payload))
}
