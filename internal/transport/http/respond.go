package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/appshare1603/VanLive/internal/auth"
	"github.com/appshare1603/VanLive/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps pipeline and auth errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  verr.Error(),
			"fields": verr.Fields,
		})
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "vehicle not found")
	case errors.Is(err, auth.ErrMissingKey), errors.Is(err, auth.ErrInvalidKey):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func alertsOrEmpty(a domain.AlertSet) domain.AlertSet {
	if a == nil {
		return domain.AlertSet{}
	}
	return a
}
