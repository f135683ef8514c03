// Package handler implements the HTTP query and management surface.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	alerting "github.com/pharos-dev/pharos/internal/alerting/service"
	"github.com/pharos-dev/pharos/internal/auth"
	"github.com/pharos-dev/pharos/internal/hotstore"
	"github.com/pharos-dev/pharos/internal/ingest/buffer"
	query "github.com/pharos-dev/pharos/internal/query/service"
	"go.uber.org/zap"
)

type ErrorMessage struct {
	Message string `json:"message"`
}

func HttpError(w http.ResponseWriter, message string, statusCode int, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorMessage{Message: message}); err != nil {
		logger.Error("Failed to encode error message", zap.Error(err))
	}
}

// serviceError maps the error taxonomy onto HTTP status codes. Anything
// unrecognized is an internal error with a generic message.
func serviceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	switch {
	case errors.Is(err, query.ErrInvalidQuery), errors.Is(err, alerting.ErrInvalidRule):
		HttpError(w, err.Error(), http.StatusBadRequest, logger)
	case errors.Is(err, auth.ErrUnauthorized):
		HttpError(w, "unauthorized", http.StatusUnauthorized, logger)
	case errors.Is(err, auth.ErrDenied):
		HttpError(w, "forbidden", http.StatusForbidden, logger)
	case errors.Is(err, query.ErrTraceNotFound),
		errors.Is(err, hotstore.ErrRuleNotFound),
		errors.Is(err, hotstore.ErrSeriesNotFound):
		HttpError(w, err.Error(), http.StatusNotFound, logger)
	case errors.Is(err, buffer.ErrBufferFull):
		HttpError(w, "server overloaded, retry later", http.StatusTooManyRequests, logger)
	default:
		logger.Error("Request failed with an internal error", zap.Error(err))
		HttpError(w, "Internal server error", http.StatusInternalServerError, logger)
	}
}

func writeJSON(w http.ResponseWriter, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Error encountered when encoding response", zap.Error(err))
	}
}

// bearerToken extracts the bearer credential; empty when absent or
// malformed, which the capability check rejects as unauthorized.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}
