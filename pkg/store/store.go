// Package store is the durable, append-only event log. It is the single
// writer of record: state is never mutated outside it, and every
// observable fact in the engine is a row here.
//
// This package does not sit behind an ORM — it writes the high-write,
// NOTIFY-coupled events table directly with database/sql.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/jackc/pgx/v5/pgconn"
)

// NotifyChannel is the PostgreSQL NOTIFY channel carrying routing envelopes
// for newly appended events — consumed by pkg/bus's distributed plane.
const NotifyChannel = "autonomic_events"

// routingNotification is the small JSON payload sent over NotifyChannel.
// The distributed bus plane re-fetches the full envelope by EventID rather
// than trusting the NOTIFY payload, which is capped at 8000 bytes by
// PostgreSQL.
type routingNotification struct {
	EventID       string `json:"event_id"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
}

// Store is the event store. It owns no in-memory state beyond the *sql.DB
// connection pool — every read and write round-trips to Postgres.
type Store struct {
	db    *sql.DB
	clock eventing.Clock
}

// New constructs a Store over an already-migrated database connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, clock: nil}
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(db *sql.DB, clock eventing.Clock) *Store {
	return &Store{db: db, clock: clock}
}

// Append validates the envelope, atomically assigns the next per-aggregate
// sequence number, and persists it within a single transaction that also
// fires pg_notify — a persist-then-notify-atomically pattern. It returns
// the envelope as stored, with SequenceNumber and CreatedAt populated.
func (s *Store) Append(ctx context.Context, env eventing.Envelope) (eventing.Envelope, error) {
	if err := eventing.Validate(env); err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: begin transaction: %v", ErrTransient, err)
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize concurrent appends to the same aggregate stream with a
	// transaction-scoped advisory lock, released automatically at
	// commit/rollback. This guarantees the sequence_number gap-free
	// invariant without relying on retry-after-conflict alone.
	lockKey := aggregateLockKey(env.AggregateType, env.AggregateID)
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey); err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: advisory lock: %v", ErrTransient, err)
	}

	var nextSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM events WHERE aggregate_type = $1 AND aggregate_id = $2`,
		env.AggregateType, env.AggregateID,
	).Scan(&nextSeq)
	if err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: compute sequence: %v", ErrTransient, err)
	}
	env.SequenceNumber = nextSeq

	metadataJSON, err := json.Marshal(env.Metadata)
	if err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: marshal metadata: %v", ErrValidation, err)
	}

	now := s.now()
	env.CreatedAt = now

	var causationID any
	if env.CausationID != "" {
		causationID = env.CausationID
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (event_id, event_type, aggregate_type, aggregate_id, sequence_number,
			correlation_id, causation_id, payload, metadata, emitted_by, confidence, requires_human,
			timestamp, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		env.EventID, env.EventType, env.AggregateType, env.AggregateID, env.SequenceNumber,
		env.CorrelationID, causationID, []byte(env.Payload), metadataJSON, env.EmittedBy,
		env.Confidence, env.RequiresHuman, env.Timestamp, env.CreatedAt,
	).Scan(&env.GlobalSequence)
	if err != nil {
		if isUniqueViolation(err) {
			return eventing.Envelope{}, fmt.Errorf("%w: aggregate %s/%s sequence %d",
				ErrVersionConflict, env.AggregateType, env.AggregateID, env.SequenceNumber)
		}
		if isForeignKeyViolation(err) {
			return eventing.Envelope{}, fmt.Errorf("%w: causation_id %s does not reference an already-appended event",
				ErrValidation, env.CausationID)
		}
		return eventing.Envelope{}, fmt.Errorf("%w: insert event: %v", ErrTransient, err)
	}

	notifyPayload, err := json.Marshal(routingNotification{
		EventID:       env.EventID,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
	})
	if err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: marshal notify payload: %v", ErrTransient, err)
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, string(notifyPayload)); err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: pg_notify: %v", ErrTransient, err)
	}

	if err := tx.Commit(); err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: commit: %v", ErrTransient, err)
	}

	slog.Debug("event appended", "event_id", env.EventID, "event_type", env.EventType,
		"aggregate_type", env.AggregateType, "aggregate_id", env.AggregateID, "sequence_number", env.SequenceNumber)
	return env, nil
}

// now returns the current time, honoring an injected clock for tests.
func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), raised here by the aggregate/sequence unique index if
// the advisory lock were ever bypassed (e.g. a direct insert from a tool).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isForeignKeyViolation reports whether err is a Postgres
// foreign_key_violation (SQLSTATE 23503), raised here by fk_events_causation
// when causation_id names an event that was never appended — the causation
// graph's DAG integrity check, enforced by the database rather than an
// extra round-trip in Go.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// aggregateLockKey derives a stable int64 advisory-lock key from the
// aggregate stream identity. FNV-1a keeps this dependency-free and
// deterministic across processes.
func aggregateLockKey(aggregateType, aggregateID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(aggregateType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(aggregateID))
	return int64(h.Sum64())
}
