package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/autonomic-systems/engine/pkg/database"
	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a disposable Postgres container, applies the embedded
// migrations via database.NewClient (exercising the real migration path),
// and returns a ready Store.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("engine_test"),
		postgres.WithUsername("engine"),
		postgres.WithPassword("engine"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	client, err := database.NewClient(ctx, database.Config{
		Host:            host,
		Port:            port.Int(),
		User:            "engine",
		Password:        "engine",
		Database:        "engine_test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return store.New(client.DB())
}

func leadReceived(t *testing.T, aggregateID string) eventing.Envelope {
	t.Helper()
	env, err := eventing.New(nil, eventing.EventLeadReceived, "lead", aggregateID,
		eventing.LeadReceivedPayload{LeadSource: "web", ContactEmail: "a@b.com", InitialMessage: "hello there"},
		"intake-agent", 0.9, false)
	require.NoError(t, err)
	return env
}

func TestAppendAssignsStrictlyIncreasingSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		env := leadReceived(t, "lead-1")
		stored, err := s.Append(ctx, env)
		require.NoError(t, err)
		assert.EqualValues(t, i, stored.SequenceNumber)
	}
}

func TestAppendThenStreamAggregateContainsEventAtItsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Append(ctx, leadReceived(t, "lead-2"))
	require.NoError(t, err)

	events, err := s.StreamAggregate(ctx, "lead", "lead-2", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stored.EventID, events[0].EventID)
	assert.Equal(t, stored.SequenceNumber, events[0].SequenceNumber)
}

func TestAppendRejectsInvalidEnvelope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env, err := eventing.New(nil, "NOT_A_REAL_TYPE", "lead", "lead-3", map[string]any{"a": 1}, "agent", 0.5, false)
	require.NoError(t, err)

	_, err = s.Append(ctx, env)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestApprovalResolveIsExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Append(ctx, leadReceived(t, "lead-4"))
	require.NoError(t, err)

	approval, err := s.CreateApproval(ctx, store.Approval{
		EventID:     stored.EventID,
		AgentID:     "intake-agent",
		RequestType: "lead_qualification",
		Reason:      "low confidence",
		Confidence:  0.5,
	})
	require.NoError(t, err)

	resolved, err := s.Resolve(ctx, approval.ApprovalID, store.DecisionApproved, "ceo@x", "")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalApproved, resolved.Status)

	_, err = s.Resolve(ctx, approval.ApprovalID, store.DecisionApproved, "ceo@x", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAlreadyResolved)
}

func TestSweepTimedOutTransitionsExpiredApprovals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Append(ctx, leadReceived(t, "lead-5"))
	require.NoError(t, err)

	_, err = s.CreateApproval(ctx, store.Approval{
		EventID:     stored.EventID,
		AgentID:     "intake-agent",
		RequestType: "lead_qualification",
		Reason:      "low confidence",
		Confidence:  0.5,
		TimeoutAt:   time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	timedOut, err := s.SweepTimedOut(ctx)
	require.NoError(t, err)
	require.Len(t, timedOut, 1)
	assert.Equal(t, store.ApprovalTimeout, timedOut[0].Status)
}

func TestSnapshotNewerSequenceWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSnapshot(ctx, store.Snapshot{
		AggregateType: "client", AggregateID: "c-1", SequenceNumber: 5, SchemaVersion: 1, State: []byte(`{"score":50}`),
	}))
	// Older sequence must not overwrite.
	require.NoError(t, s.PutSnapshot(ctx, store.Snapshot{
		AggregateType: "client", AggregateID: "c-1", SequenceNumber: 2, SchemaVersion: 1, State: []byte(`{"score":0}`),
	}))

	snap, ok, err := s.GetSnapshot(ctx, "client", "c-1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 5, snap.SequenceNumber)

	// Schema version mismatch is treated as absent.
	_, ok, err = s.GetSnapshot(ctx, "client", "c-1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
}
