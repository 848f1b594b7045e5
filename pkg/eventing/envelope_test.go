package eventing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestNewDefaultsCorrelationToEventID(t *testing.T) {
	env, err := New(fixedClock(time.Unix(0, 0)), EventLeadReceived, "lead", "lead-1",
		LeadReceivedPayload{LeadSource: "web", ContactEmail: "a@b.com", InitialMessage: "hello there"},
		"intake-agent", 0.9, false)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, env.CorrelationID)
	assert.Zero(t, env.SequenceNumber)
}

func TestValidateRejectsOutOfRangeConfidence(t *testing.T) {
	env, err := New(nil, EventLeadReceived, "lead", "lead-1",
		LeadReceivedPayload{LeadSource: "web", ContactEmail: "a@b.com", InitialMessage: "hi"},
		"intake-agent", 1.5, false)
	require.NoError(t, err)
	err = Validate(env)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateRejectsUnknownEventType(t *testing.T) {
	env, err := New(nil, "NOT_A_REAL_EVENT", "lead", "lead-1", map[string]any{"a": 1}, "agent", 0.5, false)
	require.NoError(t, err)
	err = Validate(env)
	require.Error(t, err)
}

func TestValidateChecksTypedPayload(t *testing.T) {
	env, err := New(nil, EventRiskDetected, "system", "sys-1", RiskDetectedPayload{
		Severity: "extreme", Reason: "bad",
	}, "oversight", 0.9, true)
	require.NoError(t, err)
	require.Error(t, Validate(env))

	env2, err := New(nil, EventRiskDetected, "system", "sys-1", RiskDetectedPayload{
		Severity: "critical", Reason: "bad",
	}, "oversight", 0.9, true)
	require.NoError(t, err)
	assert.NoError(t, Validate(env2))
}
