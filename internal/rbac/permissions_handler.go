package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// PermissionsHandler exposes the permission catalog and the caller's grants.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
	r.Get("/me", h.myPermissions)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": h.service.ListPermissions()})
}

func (h *PermissionsHandler) myPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	perms, err := h.service.EffectivePermissions(r.Context(), actor.Role)
	if err != nil {
		h.logger.Error("effective permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": actor.Role, "permissions": perms})
}
