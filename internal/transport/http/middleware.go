package http

import (
	"net/http"

	"github.com/appshare1603/VanLive/internal/auth"
)

const apiKeyHeader = "X-API-Key"

// AuthMiddleware checks X-API-Key against the vehicle named in the path.
// Routes without a vehicle require a key that is not bound to one vehicle.
type AuthMiddleware struct {
	auth *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

func (m *AuthMiddleware) Wrap(next http.HandlerFunc) http.HandlerFunc {
	if m == nil || m.auth == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(apiKeyHeader)
		if err := m.auth.Authorize(r.Context(), apiKey, r.PathValue("vehicleID")); err != nil {
			writeServiceError(w, err)
			return
		}
		next(w, r)
	}
}
