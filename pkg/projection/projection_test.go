package projection_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/autonomic-systems/engine/pkg/bus"
	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/projection"
	"github.com/autonomic-systems/engine/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuerier is an in-memory stand-in for *pkg/store.Store's
// Query/GetSnapshot/PutSnapshot methods.
type fakeQuerier struct {
	mu        sync.Mutex
	envs      []eventing.Envelope
	snapshots map[string]store.Snapshot
	queries   []store.Filter
}

func (f *fakeQuerier) seed(envs ...eventing.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, env := range envs {
		env.GlobalSequence = int64(len(f.envs) + 1)
		f.envs = append(f.envs, env)
	}
}

func (f *fakeQuerier) Query(_ context.Context, filter store.Filter) ([]eventing.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, filter)

	typeSet := make(map[string]bool, len(filter.EventTypes))
	for _, t := range filter.EventTypes {
		typeSet[t] = true
	}

	var out []eventing.Envelope
	for _, env := range f.envs {
		if filter.AfterSequence != nil && env.GlobalSequence <= *filter.AfterSequence {
			continue
		}
		if len(typeSet) == 0 || typeSet[env.EventType] {
			out = append(out, env)
		}
	}
	return out, nil
}

func (f *fakeQuerier) GetSnapshot(_ context.Context, aggregateType, aggregateID string, wantSchemaVersion int) (store.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[aggregateType+"/"+aggregateID]
	if !ok || snap.SchemaVersion != wantSchemaVersion {
		return store.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (f *fakeQuerier) PutSnapshot(_ context.Context, snap store.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshots == nil {
		f.snapshots = make(map[string]store.Snapshot)
	}
	key := snap.AggregateType + "/" + snap.AggregateID
	if existing, ok := f.snapshots[key]; ok && existing.SequenceNumber >= snap.SequenceNumber {
		return nil
	}
	f.snapshots[key] = snap
	return nil
}

func build(t *testing.T, eventType, aggregateID string, payload any) eventing.Envelope {
	t.Helper()
	env, err := eventing.New(nil, eventType, "client", aggregateID, payload, "system", 1.0, false)
	require.NoError(t, err)
	return env
}

func TestClientHealthProjection_ReplayDeterminism(t *testing.T) {
	q := &fakeQuerier{}
	q.seed(
		build(t, eventing.EventProjectStarted, "client-1", map[string]any{}),
		build(t, eventing.EventMeetingCompleted, "client-1", eventing.MeetingCompletedPayload{Sentiment: "positive"}),
		build(t, eventing.EventPaymentReceived, "client-1", eventing.PaymentReceivedPayload{Amount: 5000}),
		build(t, eventing.EventRiskDetected, "client-1", eventing.RiskDetectedPayload{Severity: "high", Reason: "late delivery"}),
	)

	b := bus.New()
	engine := projection.New(q, b)
	engine.Register(projection.NewClientHealthProjection())

	require.NoError(t, engine.Initialize(context.Background(), "client_health"))

	state, ok := engine.QueryState("client_health", "client-1")
	require.True(t, ok)
	health := state.(projection.ClientHealthState)

	assert.Equal(t, 48, health.HealthScore, "50+10+5+3-20 = 48")
	assert.Equal(t, "warning", health.Status)
}

func TestClientHealthProjection_RebuildMatchesInitialize(t *testing.T) {
	q := &fakeQuerier{}
	q.seed(
		build(t, eventing.EventProjectStarted, "client-2", map[string]any{}),
		build(t, eventing.EventProjectAtRisk, "client-2", eventing.ProjectAtRiskPayload{Reason: "scope creep"}),
	)

	b := bus.New()
	engine := projection.New(q, b)
	engine.Register(projection.NewClientHealthProjection())
	require.NoError(t, engine.Initialize(context.Background(), "client_health"))

	before, _ := engine.QueryState("client_health", "client-2")

	require.NoError(t, engine.Rebuild(context.Background(), "client_health"))
	after, _ := engine.QueryState("client_health", "client-2")

	assert.Equal(t, before, after, "rebuild on unchanged history must reproduce identical state")
}

func TestClientHealthProjection_ScoreClampedToBounds(t *testing.T) {
	q := &fakeQuerier{}
	var envs []eventing.Envelope
	for i := 0; i < 10; i++ {
		envs = append(envs, build(t, eventing.EventRiskDetected, "client-3", eventing.RiskDetectedPayload{Severity: "critical", Reason: "x"}))
	}
	q.seed(envs...)

	b := bus.New()
	engine := projection.New(q, b)
	engine.Register(projection.NewClientHealthProjection())
	require.NoError(t, engine.Initialize(context.Background(), "client_health"))

	state, _ := engine.QueryState("client_health", "client-3")
	health := state.(projection.ClientHealthState)
	assert.Equal(t, 0, health.HealthScore, "score must clamp at 0, never go negative")
	assert.Equal(t, "critical", health.Status)
}

func TestEngine_LiveEventsFoldAfterInitialize(t *testing.T) {
	q := &fakeQuerier{}
	b := bus.New()
	engine := projection.New(q, b)
	engine.Register(projection.NewClientHealthProjection())
	require.NoError(t, engine.Initialize(context.Background(), "client_health"))

	env := build(t, eventing.EventProjectStarted, "client-4", map[string]any{})
	b.Publish(context.Background(), env)
	time.Sleep(100 * time.Millisecond)

	state, ok := engine.QueryState("client_health", "client-4")
	require.True(t, ok)
	assert.Equal(t, 60, state.(projection.ClientHealthState).HealthScore)
}

func TestClientHealthProjection_RebuildResumesFromSnapshot(t *testing.T) {
	q := &fakeQuerier{}
	q.seed(
		build(t, eventing.EventProjectStarted, "client-5", map[string]any{}),
		build(t, eventing.EventPaymentReceived, "client-5", eventing.PaymentReceivedPayload{Amount: 1000}),
	)

	b := bus.New()
	engine := projection.New(q, b)
	engine.Register(projection.NewClientHealthProjection())
	require.NoError(t, engine.Initialize(context.Background(), "client_health"))

	after1, ok := engine.QueryState("client_health", "client-5")
	require.True(t, ok)
	assert.Equal(t, 63, after1.(projection.ClientHealthState).HealthScore, "50+10+3")
	require.Len(t, q.queries, 1, "cold start queries the full history once")

	q.seed(build(t, eventing.EventProjectAtRisk, "client-5", eventing.ProjectAtRiskPayload{Reason: "scope creep"}))

	require.NoError(t, engine.Rebuild(context.Background(), "client_health"))

	after2, ok := engine.QueryState("client_health", "client-5")
	require.True(t, ok)
	assert.Equal(t, 48, after2.(projection.ClientHealthState).HealthScore, "63-15, resumed from the saved snapshot")

	require.Len(t, q.queries, 2, "rebuild after a snapshot queries again, truncated by AfterSequence")
	require.NotNil(t, q.queries[1].AfterSequence, "the second query must be truncated from the snapshot cursor")
	assert.EqualValues(t, 2, *q.queries[1].AfterSequence)
}

func TestAutonomyDashboardProjection_TracksAutomationRate(t *testing.T) {
	q := &fakeQuerier{}
	q.seed(
		build(t, eventing.EventAutonomicDecisionExecuted, "lead-1", map[string]any{}),
		build(t, eventing.EventAutonomicDecisionExecuted, "lead-1", map[string]any{}),
		build(t, eventing.EventHumanApprovalRequested, "lead-1", map[string]any{}),
	)

	b := bus.New()
	engine := projection.New(q, b)
	engine.Register(projection.NewAutonomyDashboardProjection())
	require.NoError(t, engine.Initialize(context.Background(), "autonomy_dashboard"))

	state, ok := engine.QueryState("autonomy_dashboard", "lead-1")
	require.True(t, ok)
	dash := state.(projection.AutonomyDashboardState)
	assert.Equal(t, 2, dash.AutonomousCount)
	assert.Equal(t, 1, dash.EscalatedCount)
	assert.InDelta(t, 2.0/3.0, dash.AutomationRate(), 0.0001)
}
