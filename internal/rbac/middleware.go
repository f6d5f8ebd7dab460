package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireAny ensures the current actor has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, hasAnyPermission, "rbac require any")
}

// RequireAll ensures the current actor has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, hasAllPermissions, "rbac require all")
}

func (m Middleware) require(perms []string, check func([]string, []string) bool, op string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
				return
			}
			if actor.Role == shared.RoleSuperAdmin {
				next.ServeHTTP(w, r)
				return
			}
			granted, err := m.Service.EffectivePermissions(r.Context(), actor.Role)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if check(granted, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "permission denied")
		})
	}
}
