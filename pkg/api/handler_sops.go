package api

import (
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/autonomic-systems/engine/pkg/sop"
)

// listSOPsHandler handles GET /api/sops: the active version of every
// registered procedure.
func (s *Server) listSOPsHandler(c *echo.Context) error {
	if s.sopManager == nil {
		return echo.NewHTTPError(http.StatusNotFound, "sop registry not configured")
	}
	return c.JSON(http.StatusOK, s.sopManager.Registry().All())
}

// getSOPHandler handles GET /api/sops/{id}: the active version, or a
// specific one via ?version=.
func (s *Server) getSOPHandler(c *echo.Context) error {
	if s.sopManager == nil {
		return echo.NewHTTPError(http.StatusNotFound, "sop registry not configured")
	}
	id := c.Param("id")

	if v := c.QueryParam("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "version must be an integer")
		}
		def, err := s.sopManager.Registry().GetVersion(id, version)
		if err != nil {
			return mapSOPError(err)
		}
		return c.JSON(http.StatusOK, def)
	}

	def, err := s.sopManager.Registry().Get(id)
	if err != nil {
		return mapSOPError(err)
	}
	return c.JSON(http.StatusOK, def)
}

// proposeSOPHandler handles POST /api/sops: submit a new version of a
// procedure. It does not activate it -- propose and activate are distinct
// steps.
func (s *Server) proposeSOPHandler(c *echo.Context) error {
	if s.sopManager == nil {
		return echo.NewHTTPError(http.StatusNotFound, "sop registry not configured")
	}
	var def sop.Definition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := s.sopManager.Propose(c.Request().Context(), def); err != nil {
		return mapSOPError(err)
	}
	return c.JSON(http.StatusAccepted, def)
}

// activateSOPRequest is the body of POST /api/sops/{id}/activate.
type activateSOPRequest struct {
	Version int `json:"version" validate:"required"`
}

// activateSOPHandler handles POST /api/sops/{id}/activate.
func (s *Server) activateSOPHandler(c *echo.Context) error {
	if s.sopManager == nil {
		return echo.NewHTTPError(http.StatusNotFound, "sop registry not configured")
	}
	id := c.Param("id")

	var req activateSOPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	if err := s.sopManager.Activate(c.Request().Context(), id, req.Version); err != nil {
		if errors.Is(err, sop.ErrAlreadyActive) {
			return echo.NewHTTPError(http.StatusConflict, "version already active")
		}
		return mapSOPError(err)
	}

	def, err := s.sopManager.Registry().Get(id)
	if err != nil {
		return mapSOPError(err)
	}
	return c.JSON(http.StatusOK, def)
}

func mapSOPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, sop.ErrNotFound), errors.Is(err, sop.ErrVersionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, sop.ErrValidationFailed), errors.Is(err, sop.ErrInvalidYAML):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
