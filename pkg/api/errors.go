package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/autonomic-systems/engine/pkg/eventing"
	"github.com/autonomic-systems/engine/pkg/store"
)

// mapStoreError maps the error-kind taxonomy of pkg/eventing and pkg/store
// to HTTP responses per the propagation policy: validation_error -> 400,
// version_conflict -> retried internally and never reaches here,
// transient_error -> 503, not_found -> 404, already_resolved -> 409.
func mapStoreError(err error) *echo.HTTPError {
	if errors.Is(err, eventing.ErrValidation) || errors.Is(err, store.ErrValidation) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrAlreadyResolved) {
		return echo.NewHTTPError(http.StatusConflict, "approval already resolved")
	}
	if errors.Is(err, store.ErrTransient) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage temporarily unavailable")
	}

	slog.Error("unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
