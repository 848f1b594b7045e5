// Package api exposes the engine's egress surface over HTTP: event
// ingestion and query, the live server-sent-events stream, and the
// approval queue.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/autonomic-systems/engine/pkg/bus"
	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/projection"
	"github.com/autonomic-systems/engine/pkg/sop"
	"github.com/autonomic-systems/engine/pkg/store"
	"github.com/autonomic-systems/engine/pkg/version"
)

// Store is the subset of pkg/store.Store the API needs, declared locally
// so the server can be exercised in tests against an in-memory fake.
type Store interface {
	Append(ctx context.Context, env eventing.Envelope) (eventing.Envelope, error)
	Query(ctx context.Context, f store.Filter) ([]eventing.Envelope, error)
	StreamAggregate(ctx context.Context, aggregateType, aggregateID string, fromSequence int64) ([]eventing.Envelope, error)
	ListPending(ctx context.Context, agentID string, limit int) ([]store.Approval, error)
	CEOInterrupts(ctx context.Context, limit int) ([]store.Approval, error)
	Resolve(ctx context.Context, approvalID string, decision store.Decision, resolvedBy, notes string) (store.Approval, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Server is the engine's HTTP API.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store      Store
	bus        *bus.Bus
	clock      eventing.Clock
	engine     *projection.Engine
	sopManager *sop.Manager
}

// New constructs the API server and registers every route. sopManager may
// be nil; when absent the health endpoint omits SOP stats and the /api/sops
// routes return 404.
func New(s Store, b *bus.Bus, engine *projection.Engine, clock eventing.Clock, sopManager *sop.Manager) *Server {
	e := echo.New()
	srv := &Server{echo: e, store: s, bus: b, engine: engine, clock: clock, sopManager: sopManager}

	e.Use(middleware.BodyLimit(2 * 1024 * 1024))
	e.Use(securityHeaders())

	e.GET("/health", srv.healthHandler)

	e.POST("/api/events", srv.ingestEventHandler)
	e.POST("/api/events/query", srv.queryEventsHandler)
	e.GET("/api/events/entity/:type/:id", srv.entityHistoryHandler)
	e.GET("/api/events/stream", srv.streamEventsHandler)

	e.GET("/api/approvals", srv.listApprovalsHandler)
	e.GET("/api/approvals/stats", srv.approvalStatsHandler)
	e.POST("/api/approvals/:id/resolve", srv.resolveApprovalHandler)

	e.GET("/api/ceo/interrupts", srv.ceoInterruptsHandler)

	e.GET("/api/projections/:name", srv.projectionAllHandler)
	e.GET("/api/projections/:name/:id", srv.projectionStateHandler)

	e.GET("/api/sops", srv.listSOPsHandler)
	e.GET("/api/sops/:id", srv.getSOPHandler)
	e.POST("/api/sops", srv.proposeSOPHandler)
	e.POST("/api/sops/:id/activate", srv.activateSOPHandler)

	return srv
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := s.store.Query(reqCtx, store.Filter{Limit: 1}); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}
	checks["bus"] = HealthCheck{Status: healthStatusHealthy}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	busStats := s.bus.Stats()
	resp := &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
		Bus:     &BusStats{ActiveSubscriptions: busStats.ActiveSubscriptions, HistorySize: busStats.HistorySize},
	}
	if s.sopManager != nil {
		resp.SOP = &SOPStats{ProcedureCount: s.sopManager.Registry().Len()}
	}

	return c.JSON(httpStatus, resp)
}

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)
