package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot is a cached projection state at a given sequence, used to
// truncate replay. SchemaVersion handles a projection's apply semantics
// changing incompatibly: a projection bumps SchemaVersion when that
// happens, and GetSnapshot for a mismatched version is treated as absent,
// falling back to full replay.
type Snapshot struct {
	AggregateType string
	AggregateID   string
	SequenceNumber int64
	SchemaVersion int
	State         json.RawMessage
}

// GetSnapshot returns the cached snapshot for an aggregate, or
// (Snapshot{}, false, nil) if none exists or its schema_version does not
// match wantSchemaVersion.
func (s *Store) GetSnapshot(ctx context.Context, aggregateType, aggregateID string, wantSchemaVersion int) (Snapshot, bool, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate_type, aggregate_id, sequence_number, schema_version, state
		 FROM snapshots WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggregateType, aggregateID,
	).Scan(&snap.AggregateType, &snap.AggregateID, &snap.SequenceNumber, &snap.SchemaVersion, &snap.State)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: get snapshot: %v", ErrTransient, err)
	}
	if snap.SchemaVersion != wantSchemaVersion {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// PutSnapshot upserts a snapshot by (aggregate_type, aggregate_id). A newer
// sequence always wins; an older or equal one is a silent no-op, matching
// the store's "newer sequence wins" invariant.
func (s *Store) PutSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_type, aggregate_id, sequence_number, schema_version, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE
		 SET sequence_number = EXCLUDED.sequence_number,
		     schema_version = EXCLUDED.schema_version,
		     state = EXCLUDED.state,
		     created_at = now()
		 WHERE snapshots.sequence_number < EXCLUDED.sequence_number`,
		snap.AggregateType, snap.AggregateID, snap.SequenceNumber, snap.SchemaVersion, []byte(snap.State),
	)
	if err != nil {
		return fmt.Errorf("%w: put snapshot: %v", ErrTransient, err)
	}
	return nil
}
