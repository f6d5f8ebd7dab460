package kpi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Handler exposes KPI endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers KPI routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermKPIView))
		r.Get("/summaries", h.listSummaries)
		r.Get("/summaries/{orderID}", h.getSummary)
		r.Get("/dashboard", h.dashboard)
	})
}

func (h *Handler) listSummaries(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summaries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list kpi summaries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dash, err := h.service.Dashboard(r.Context(), filter)
	if err != nil {
		h.logger.Error("kpi dashboard", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dash)
}

func parseFilter(r *http.Request) (SummaryFilter, error) {
	q := r.URL.Query()
	filter := SummaryFilter{PickerID: q.Get("picker_id")}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return filter, shared.Invalid("from", "must be YYYY-MM-DD")
		}
		filter.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return filter, shared.Invalid("to", "must be YYYY-MM-DD")
		}
		filter.To = to.AddDate(0, 0, 1)
	}
	return filter, nil
}
