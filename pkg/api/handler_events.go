package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/store"
)

// ingestEventHandler handles POST /api/events. The envelope is built from
// the request by eventing.New, validated by the store's Append, and assigned a
// sequence_number by the store -- callers never set one themselves.
func (s *Server) ingestEventHandler(c *echo.Context) error {
	var req IngestEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	env, err := eventing.New(s.clock, req.EventType, req.AggregateType, req.AggregateID,
		req.Payload, req.EmittedBy, req.Confidence, req.RequiresHuman)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.CorrelationID != "" {
		env = env.WithCorrelation(req.CorrelationID)
	}
	if req.CausationID != "" {
		env = env.WithCausation(req.CausationID)
	}

	stored, err := s.store.Append(c.Request().Context(), env)
	if err != nil {
		return mapStoreError(err)
	}
	s.bus.Publish(c.Request().Context(), stored)

	return c.JSON(http.StatusAccepted, IngestEventResponse{
		EventID:        stored.EventID,
		SequenceNumber: stored.SequenceNumber,
		Status:         "accepted",
	})
}

// queryEventsHandler handles POST /api/events/query.
func (s *Server) queryEventsHandler(c *echo.Context) error {
	var req QueryEventsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	envs, err := s.store.Query(c.Request().Context(), store.Filter{
		EventTypes:    req.EventTypes,
		AggregateType: req.AggregateType,
		AggregateID:   req.AggregateID,
		EmittedBy:     req.EmittedBy,
		CorrelationID: req.CorrelationID,
		Limit:         req.Limit,
		Offset:        req.Offset,
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, QueryEventsResponse{Count: len(envs), Events: envs})
}

// entityHistoryHandler handles GET /api/events/entity/{type}/{id}: the full
// ordered event history for one aggregate, used to replay an entity's
// state from scratch.
func (s *Server) entityHistoryHandler(c *echo.Context) error {
	aggregateType := c.Param("type")
	aggregateID := c.Param("id")
	if aggregateType == "" || aggregateID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "aggregate type and id are required")
	}

	envs, err := s.store.StreamAggregate(c.Request().Context(), aggregateType, aggregateID, 0)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, QueryEventsResponse{Count: len(envs), Events: envs})
}

// streamFrame is one JSON object sent over the SSE connection.
type streamFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type streamEventData struct {
	AggregateID string `json:"aggregate_id"`
	EmittedBy   string `json:"emitted_by"`
	Payload     any    `json:"payload"`
}

// streamEventsHandler handles GET /api/events/stream: a server-sent-events
// connection carrying every subsequent event the caller's role may see.
// The connection stays open with a 30s keep-alive comment and unsubscribes
// from the bus the moment the client disconnects.
func (s *Server) streamEventsHandler(c *echo.Context) error {
	role := extractRole(c)
	userID := c.QueryParam("userId")

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	clientID := fmt.Sprintf("stream-%s", newStreamID())
	writeFrame(resp, streamFrame{Type: "connected", ClientID: clientID})
	resp.Flush()

	if role == RoleUnauthorized {
		// Nothing further is ever sent; the connection just idles until
		// the client gives up, matching "unauthenticated sees nothing".
		<-c.Request().Context().Done()
		return nil
	}

	frames := make(chan eventing.Envelope, 64)
	subID := s.bus.Subscribe(func(_ context.Context, env eventing.Envelope) {
		select {
		case frames <- env:
		default: // slow client: drop rather than block the publisher
		}
	})
	defer s.bus.Unsubscribe(subID)

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			_, _ = fmt.Fprint(resp, ": keep-alive\n\n")
			resp.Flush()
		case env := <-frames:
			clientIDField := clientIDFromPayload(env)
			if !visibleToRole(role, userID, env.AggregateID, clientIDField, env.EventType) {
				continue
			}
			writeFrame(resp, streamFrame{
				Type:      env.EventType,
				ID:        env.EventID,
				Timestamp: env.Timestamp.Format(time.RFC3339),
				Data: streamEventData{
					AggregateID: env.AggregateID,
					EmittedBy:   env.EmittedBy,
					Payload:     env.Payload,
				},
			})
			resp.Flush()
		}
	}
}

// clientIDFromPayload reads an optional "client_id" key out of an
// envelope's payload, used by the client role's visibility check for
// events whose aggregate isn't itself the client (e.g. a lead or task
// carrying a client_id reference).
func clientIDFromPayload(env eventing.Envelope) string {
	var m map[string]any
	if err := env.DecodePayload(&m); err != nil {
		return ""
	}
	id, _ := m["client_id"].(string)
	return id
}

func writeFrame(resp *echo.Response, f streamFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(resp, "data: %s\n\n", b)
}

func newStreamID() string { return uuid.NewString() }
