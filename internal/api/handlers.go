package api

import (
	"errors"
	"log/slog"
	"net/http"

	"mediaforge/internal/storage"
	"mediaforge/internal/transcode"
)

// Handler bundles the dependencies shared by every API endpoint.
type Handler struct {
	Store      storage.Repository
	Transcodes *transcode.Orchestrator
	Logger     *slog.Logger
	// MaxRetries mirrors the orchestrator's retry budget so responses can
	// report whether a failed record is still retryable.
	MaxRetries int
}

func NewHandler(store storage.Repository, orchestrator *transcode.Orchestrator, maxRetries int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:      store,
		Transcodes: orchestrator,
		Logger:     logger,
		MaxRetries: maxRetries,
	}
}

// writeTranscodeError maps orchestration errors onto the API's status codes.
// Conflict responses carry a machine-readable code so callers can tell a
// retryable state clash from an exhausted retry budget.
func writeTranscodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transcode.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, transcode.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, transcode.ErrInvalidState):
		writeErrorCode(w, http.StatusConflict, "invalid_state", err)
	case errors.Is(err, transcode.ErrMaxRetriesExceeded):
		writeErrorCode(w, http.StatusConflict, "max_retries_exceeded", err)
	case errors.Is(err, transcode.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, transcode.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, transcode.ErrBadSignature):
		writeError(w, http.StatusUnauthorized, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
