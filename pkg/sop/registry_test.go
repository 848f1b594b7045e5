package sop_test

import (
	"testing"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/sop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leadQualificationSOP() sop.Definition {
	return sop.Definition{
		ID:      "lead-qualification",
		Version: 1,
		Metadata: sop.Metadata{
			Name: "Lead Qualification",
		},
		Preconditions: sop.Preconditions{
			EventTypes: []string{eventing.EventLeadReceived},
		},
		Steps: []sop.Step{
			{ID: "score", AutomationLevel: sop.AutomationFull},
		},
		AutomationPolicy: sop.AutomationPolicy{
			ConfidenceThreshold: 0.85,
		},
	}
}

func leadEnvelope(t *testing.T) eventing.Envelope {
	t.Helper()
	env, err := eventing.New(nil, eventing.EventLeadReceived, "lead", "lead-1",
		map[string]any{"lead_source": "web"}, "intake-agent", 0.9, false)
	require.NoError(t, err)
	return env
}

func TestRegistry_ResolveMatchesByEventType(t *testing.T) {
	r := sop.NewRegistry([]sop.Definition{leadQualificationSOP()})

	resolved, ok := r.Resolve(leadEnvelope(t), sop.MatchContext{})
	require.True(t, ok)
	assert.Equal(t, "lead-qualification", resolved.ID)
}

func TestRegistry_ResolveIgnoresNonMatchingPreconditions(t *testing.T) {
	def := leadQualificationSOP()
	def.Preconditions.Tiers = []string{"enterprise"}
	r := sop.NewRegistry([]sop.Definition{def})

	_, ok := r.Resolve(leadEnvelope(t), sop.MatchContext{Tier: "smb"})
	assert.False(t, ok)
}

func TestRegistry_ResolveIsDeterministicByID(t *testing.T) {
	a := leadQualificationSOP()
	a.ID = "a-generic-intake"
	a.Preconditions = sop.Preconditions{} // no filter: matches everything

	b := leadQualificationSOP()
	b.ID = "z-generic-intake"
	b.Preconditions = sop.Preconditions{}

	r := sop.NewRegistry([]sop.Definition{b, a})

	resolved, ok := r.Resolve(leadEnvelope(t), sop.MatchContext{})
	require.True(t, ok)
	assert.Equal(t, "a-generic-intake", resolved.ID, "resolve must iterate in stable sorted-by-id order")
}

func TestRegistry_ProposeThenActivate(t *testing.T) {
	r := sop.NewRegistry([]sop.Definition{leadQualificationSOP()})

	v2 := leadQualificationSOP()
	v2.Version = 2
	v2.AutomationPolicy.ConfidenceThreshold = 0.9

	require.NoError(t, r.Propose(v2))

	active, err := r.Get("lead-qualification")
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version, "proposing a version must not activate it")

	activated, err := r.Activate("lead-qualification", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, activated.Version)

	active, err = r.Get("lead-qualification")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	versions := r.Versions("lead-qualification")
	require.Len(t, versions, 2, "superseded version must still be retained")
}

func TestRegistry_ActivateAlreadyActiveIsANoOp(t *testing.T) {
	r := sop.NewRegistry([]sop.Definition{leadQualificationSOP()})

	_, err := r.Activate("lead-qualification", 1)
	assert.ErrorIs(t, err, sop.ErrAlreadyActive)
}

func TestCanAutomate(t *testing.T) {
	def := leadQualificationSOP()

	assert.True(t, sop.CanAutomate(def, "score", 0.85), "confidence exactly at threshold must automate")
	assert.False(t, sop.CanAutomate(def, "score", 0.84))
	assert.False(t, sop.CanAutomate(def, "missing-step", 0.99))

	manual := def
	manual.Steps = []sop.Step{{ID: "score", AutomationLevel: sop.AutomationManual}}
	assert.False(t, sop.CanAutomate(manual, "score", 1.0))
}
