package badges

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
)

// Handler exposes badge counts over HTTP and websocket.
type Handler struct {
	logger  *slog.Logger
	service *Service
	hub     *Hub
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, hub *Hub) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, hub: hub}
}

// MountRoutes registers the snapshot route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.current)
}

// Stream is the websocket endpoint.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if _, ok := httpx.RequireActor(w, r); !ok {
		return
	}
	var initial []byte
	if snap, err := h.service.Current(r.Context()); err == nil {
		initial, _ = json.Marshal(snap)
	} else {
		h.logger.Warn("load badges for stream", slog.Any("error", err))
	}
	h.hub.Serve(w, r, initial)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	if _, ok := httpx.RequireActor(w, r); !ok {
		return
	}
	snap, err := h.service.Current(r.Context())
	if err != nil {
		h.logger.Error("load badges", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}
