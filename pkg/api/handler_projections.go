package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// projectionStateHandler handles GET /api/projections/{name}/{id}, exposing
// the folded read models pkg/projection maintains -- client_health and
// autonomy_dashboard -- the same way the entity-history endpoint exposes
// raw event history.
func (s *Server) projectionStateHandler(c *echo.Context) error {
	name := c.Param("name")
	aggregateID := c.Param("id")

	state, ok := s.engine.QueryState(name, aggregateID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no state for this projection/aggregate")
	}
	return c.JSON(http.StatusOK, state)
}

// projectionAllHandler handles GET /api/projections/{name}, returning every
// tracked aggregate's folded state for one projection.
func (s *Server) projectionAllHandler(c *echo.Context) error {
	name := c.Param("name")
	all := s.engine.All(name)
	if all == nil {
		return echo.NewHTTPError(http.StatusNotFound, "projection not registered")
	}
	return c.JSON(http.StatusOK, all)
}
