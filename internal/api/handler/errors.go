package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/vista/internal/api/response"
	"github.com/kiranshivaraju/vista/internal/catalog"
	"github.com/kiranshivaraju/vista/internal/gateway"
	"github.com/kiranshivaraju/vista/internal/jobs"
	"github.com/kiranshivaraju/vista/internal/poller"
	"github.com/kiranshivaraju/vista/internal/resolver"
	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/kiranshivaraju/vista/pkg/models"
)

// writeError maps service errors onto the error envelope.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resolver.ErrConfiguration):
		response.Error(w, http.StatusUnprocessableEntity, "TEMPLATE_MISCONFIGURED", err.Error(), nil)
	case errors.Is(err, catalog.ErrNotFound):
		response.Error(w, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "Template not found", nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, gateway.ErrTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "MEDIA_TOO_LARGE", err.Error(), nil)
	case errors.Is(err, gateway.ErrUnsupportedMedia):
		response.Error(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", err.Error(), nil)
	case errors.Is(err, gateway.ErrEmptyPayload):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is empty", nil)
	case errors.Is(err, models.ErrProviderTimeout):
		response.Error(w, http.StatusGatewayTimeout, "PROVIDER_TIMEOUT", err.Error(), nil)
	case errors.Is(err, poller.ErrPoll):
		response.Error(w, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, jobs.ErrWatchUnavailable):
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", err.Error(), nil)
	default:
		slog.Error("request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
