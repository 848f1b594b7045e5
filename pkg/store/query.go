package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/autonomic-systems/engine/pkg/eventing"
)

// Filter selects a subset of the event log for Query. Zero-valued fields
// are not applied as predicates. Results are ordered by global insertion
// order (the internal serial id) ascending.
type Filter struct {
	EventTypes    []string
	AggregateType string
	AggregateID   string
	EmittedBy     string
	CorrelationID string
	RequiresHuman *bool
	From          time.Time
	To            time.Time
	AfterSequence *int64 // internal global id cursor, exclusive

	Limit  int
	Offset int
}

const defaultQueryLimit = 100

// Query returns events matching f, ordered by global insertion order
// ascending, paginated by (Limit, Offset).
func (s *Store) Query(ctx context.Context, f Filter) ([]eventing.Envelope, error) {
	clauses := make([]string, 0, 8)
	args := make([]any, 0, 8)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.EventTypes) > 0 {
		clauses = append(clauses, "event_type = ANY("+arg(pgTextArray(f.EventTypes))+"::text[])")
	}
	if f.AggregateType != "" {
		clauses = append(clauses, "aggregate_type = "+arg(f.AggregateType))
	}
	if f.AggregateID != "" {
		clauses = append(clauses, "aggregate_id = "+arg(f.AggregateID))
	}
	if f.EmittedBy != "" {
		clauses = append(clauses, "emitted_by = "+arg(f.EmittedBy))
	}
	if f.CorrelationID != "" {
		clauses = append(clauses, "correlation_id = "+arg(f.CorrelationID))
	}
	if f.RequiresHuman != nil {
		clauses = append(clauses, "requires_human = "+arg(*f.RequiresHuman))
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "timestamp >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "timestamp <= "+arg(f.To))
	}
	if f.AfterSequence != nil {
		clauses = append(clauses, "id > "+arg(*f.AfterSequence))
	}

	query := "SELECT event_id, event_type, aggregate_type, aggregate_id, sequence_number, " +
		"correlation_id, COALESCE(causation_id::text, ''), payload, metadata, emitted_by, " +
		"confidence, requires_human, timestamp, created_at, id FROM events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query += " LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrTransient, err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// StreamAggregate returns the ordered events of a single aggregate stream
// from fromSequence (inclusive) onward — the replay primitive used by
// pkg/projection.
func (s *Store) StreamAggregate(ctx context.Context, aggregateType, aggregateID string, fromSequence int64) ([]eventing.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_type, aggregate_type, aggregate_id, sequence_number,
			correlation_id, COALESCE(causation_id::text, ''), payload, metadata, emitted_by,
			confidence, requires_human, timestamp, created_at, id
		 FROM events
		 WHERE aggregate_type = $1 AND aggregate_id = $2 AND sequence_number >= $3
		 ORDER BY sequence_number ASC`,
		aggregateType, aggregateID, fromSequence,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: stream aggregate: %v", ErrTransient, err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// GetByEventID fetches a single envelope by its event_id. Used by the
// distributed bus plane to re-fetch the authoritative row after a NOTIFY,
// since the NOTIFY payload only carries routing fields.
func (s *Store) GetByEventID(ctx context.Context, eventID string) (eventing.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event_type, aggregate_type, aggregate_id, sequence_number,
			correlation_id, COALESCE(causation_id::text, ''), payload, metadata, emitted_by,
			confidence, requires_human, timestamp, created_at, id
		 FROM events WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return eventing.Envelope{}, fmt.Errorf("%w: get event by id: %v", ErrTransient, err)
	}
	defer rows.Close()
	envs, err := scanEnvelopes(rows)
	if err != nil {
		return eventing.Envelope{}, err
	}
	if len(envs) == 0 {
		return eventing.Envelope{}, ErrNotFound
	}
	return envs[0], nil
}

func scanEnvelopes(rows *sql.Rows) ([]eventing.Envelope, error) {
	var out []eventing.Envelope
	for rows.Next() {
		var env eventing.Envelope
		var payload, metadata []byte
		var causationID string
		if err := rows.Scan(&env.EventID, &env.EventType, &env.AggregateType, &env.AggregateID,
			&env.SequenceNumber, &env.CorrelationID, &causationID, &payload, &metadata,
			&env.EmittedBy, &env.Confidence, &env.RequiresHuman, &env.Timestamp, &env.CreatedAt,
			&env.GlobalSequence); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", ErrTransient, err)
		}
		env.CausationID = causationID
		env.Payload = payload
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &env.Metadata); err != nil {
				return nil, fmt.Errorf("%w: unmarshal metadata: %v", ErrTransient, err)
			}
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", ErrTransient, err)
	}
	return out, nil
}

// pgTextArray renders a Go string slice as a Postgres text[] array literal
// (e.g. {"LEAD_RECEIVED","LEAD_QUALIFIED"}), for use with "= ANY($n::text[])"
// predicates over the database/sql + pgx/v5/stdlib driver, which does not
// accept []string as a query parameter directly.
func pgTextArray(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
