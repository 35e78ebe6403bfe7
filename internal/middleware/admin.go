package middleware

import (
	"context"
	"net/http"

	"dicebet/internal/logger"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// RequireAdmin lets super admins through unconditionally and other admins
// only when they hold role. An empty role admits any admin.
func RequireAdmin(adminStore AdminStore, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, ok := AccountIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			isAdmin, isSuper, err := adminStore.IsAdmin(r.Context(), accountID)
			if err != nil {
				logger.Error(r.Context()).Err(err).Msg("admin lookup failed")
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}
			if !isAdmin {
				writeError(w, http.StatusForbidden, "admin_required")
				return
			}
			if isSuper || role == "" {
				next.ServeHTTP(w, r)
				return
			}
			hasRole, err := adminStore.HasRole(r.Context(), accountID, role)
			if err != nil {
				logger.Error(r.Context()).Err(err).Msg("role lookup failed")
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}
			if !hasRole {
				writeError(w, http.StatusForbidden, "missing_role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
