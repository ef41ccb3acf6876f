package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zatekoja/insurance-eligibility/backend/internal/application/services"
	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/insurance-eligibility/backend/pkg/errors"
)

// upstreamUnavailableMessage tells the caller the failed attempt is on record
// and a manual override can be requested against it
const upstreamUnavailableMessage = "verification service unavailable - request manual override"

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondWithAppError maps service errors to HTTP responses. Internal and
// transport details are logged, never returned.
func respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	if upstream, ok := services.IsUpstreamFailure(err); ok {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":       upstreamUnavailableMessage,
			"check_id":    upstream.CheckID,
			"request_id":  upstream.RequestID,
			"error_code":  upstream.ErrorCode,
			"retry_count": upstream.RetryCount,
		})
		return
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		observability.LoggerFromContext(r.Context()).Error().Err(err).Msg("unhandled error")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		respondWithError(w, http.StatusBadRequest, appErr.Message)
	case apperrors.ErrorTypeUnauthorized:
		respondWithError(w, http.StatusForbidden, appErr.Message)
	case apperrors.ErrorTypeNotFound:
		respondWithError(w, http.StatusNotFound, appErr.Message)
	case apperrors.ErrorTypeConflict:
		respondWithError(w, http.StatusConflict, appErr.Message)
	case apperrors.ErrorTypeExternal:
		observability.LoggerFromContext(r.Context()).Error().Err(err).Msg("dependency failure")
		respondWithError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		observability.LoggerFromContext(r.Context()).Error().Err(err).Msg("internal error")
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}
