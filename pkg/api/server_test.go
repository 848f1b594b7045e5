package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonomic-systems/engine/pkg/bus"
	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/store"
)

// fakeStore is an in-memory stand-in for pkg/store.Store satisfying the
// local Store interface, so handlers can be exercised without a database.
type fakeStore struct {
	mu        sync.Mutex
	events    []eventing.Envelope
	approvals map[string]store.Approval
	seq       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{approvals: make(map[string]store.Approval)}
}

func (f *fakeStore) Append(_ context.Context, env eventing.Envelope) (eventing.Envelope, error) {
	if err := eventing.Validate(env); err != nil {
		return eventing.Envelope{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	env.SequenceNumber = f.seq
	env.CreatedAt = env.Timestamp
	f.events = append(f.events, env)
	return env, nil
}

func (f *fakeStore) Query(_ context.Context, flt store.Filter) ([]eventing.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	typeSet := make(map[string]bool, len(flt.EventTypes))
	for _, t := range flt.EventTypes {
		typeSet[t] = true
	}
	var out []eventing.Envelope
	for _, env := range f.events {
		if len(typeSet) > 0 && !typeSet[env.EventType] {
			continue
		}
		if flt.AggregateID != "" && env.AggregateID != flt.AggregateID {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func (f *fakeStore) StreamAggregate(_ context.Context, _, aggregateID string, _ int64) ([]eventing.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []eventing.Envelope
	for _, env := range f.events {
		if env.AggregateID == aggregateID {
			out = append(out, env)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPending(_ context.Context, agentID string, _ int) ([]store.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Approval
	for _, a := range f.approvals {
		if a.Status != store.ApprovalPending {
			continue
		}
		if agentID != "" && a.AgentID != agentID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) CEOInterrupts(_ context.Context, _ int) ([]store.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Approval
	for _, a := range f.approvals {
		if a.Status == store.ApprovalPending && (a.Confidence < 0.7 || a.RecommendedAction == "high-value") {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) Resolve(_ context.Context, approvalID string, decision store.Decision, resolvedBy, notes string) (store.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.approvals[approvalID]
	if !ok || a.Status != store.ApprovalPending {
		return store.Approval{}, store.ErrAlreadyResolved
	}
	if decision == store.DecisionApproved {
		a.Status = store.ApprovalApproved
	} else {
		a.Status = store.ApprovalRejected
	}
	a.Decision = string(decision)
	a.ResolvedBy = resolvedBy
	a.Notes = notes
	f.approvals[approvalID] = a
	return a, nil
}

func (f *fakeStore) Stats(_ context.Context) (store.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var st store.Stats
	for _, a := range f.approvals {
		switch a.Status {
		case store.ApprovalPending:
			st.Pending++
		case store.ApprovalApproved:
			st.Approved++
		case store.ApprovalRejected:
			st.Rejected++
		case store.ApprovalTimeout:
			st.Timeout++
		}
	}
	return st, nil
}

func fixedClock(t time.Time) eventing.Clock { return func() time.Time { return t } }

func newTestServer() (*Server, *fakeStore) {
	fs := newFakeStore()
	srv := New(fs, bus.New(), nil, fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
	return srv, fs
}

func TestIngestEventHandler_AcceptsValidEvent(t *testing.T) {
	srv, _ := newTestServer()

	body, _ := json.Marshal(IngestEventRequest{
		EventType: eventing.EventLeadReceived, AggregateType: "lead", AggregateID: "lead-1",
		Payload: map[string]any{"lead_source": "web", "contact_email": "a@example.com", "initial_message": "need help", "urgency": "low"},
		EmittedBy: "intake-agent", Confidence: 0.9,
	})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, srv.ingestEventHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp IngestEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.SequenceNumber)
}

func TestIngestEventHandler_RejectsUnknownEventType(t *testing.T) {
	srv, _ := newTestServer()

	body, _ := json.Marshal(IngestEventRequest{
		EventType: "NOT_A_REAL_EVENT", AggregateType: "lead", AggregateID: "lead-1",
		Payload: map[string]any{}, EmittedBy: "intake-agent", Confidence: 0.9,
	})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := srv.ingestEventHandler(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestEntityHistoryHandler_ReturnsOnlyThatAggregate(t *testing.T) {
	srv, fs := newTestServer()
	env1, _ := eventing.New(nil, eventing.EventLeadReceived, "lead", "lead-1",
		map[string]any{"lead_source": "web", "contact_email": "a@example.com", "initial_message": "hi", "urgency": "low"}, "intake", 0.9, false)
	env2, _ := eventing.New(nil, eventing.EventLeadReceived, "lead", "lead-2",
		map[string]any{"lead_source": "web", "contact_email": "a@example.com", "initial_message": "hi", "urgency": "low"}, "intake", 0.9, false)
	_, _ = fs.Append(context.Background(), env1)
	_, _ = fs.Append(context.Background(), env2)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/events/entity/lead/lead-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("type", "id")
	c.SetParamValues("lead", "lead-1")

	require.NoError(t, srv.entityHistoryHandler(c))
	var resp QueryEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "lead-1", resp.Events[0].AggregateID)
}

func TestResolveApprovalHandler_SecondResolveConflicts(t *testing.T) {
	srv, fs := newTestServer()
	fs.approvals["appr-1"] = store.Approval{ApprovalID: "appr-1", Status: store.ApprovalPending, Confidence: 0.5}

	resolve := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(ResolveApprovalRequest{Decision: "approved", ResolvedBy: "ceo@example.com"})
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/approvals/appr-1/resolve", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("appr-1")
		err := srv.resolveApprovalHandler(c)
		if err != nil {
			if httpErr, ok := err.(*echo.HTTPError); ok {
				rec.Code = httpErr.Code
			}
		}
		return rec
	}

	first := resolve()
	assert.Equal(t, http.StatusOK, first.Code)

	second := resolve()
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestCEOInterruptsHandler_FiltersByLowConfidence(t *testing.T) {
	srv, fs := newTestServer()
	fs.approvals["low-conf"] = store.Approval{ApprovalID: "low-conf", Status: store.ApprovalPending, Confidence: 0.4}
	fs.approvals["high-conf"] = store.Approval{ApprovalID: "high-conf", Status: store.ApprovalPending, Confidence: 0.95}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/ceo/interrupts", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, srv.ceoInterruptsHandler(c))
	var resp []ApprovalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "low-conf", resp[0].ApprovalID)
}

func TestHealthHandler_ReturnsHealthyWhenStoreReachable(t *testing.T) {
	srv, _ := newTestServer()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, srv.healthHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}
