package returns

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Handler exposes return endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.submit)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
}

type rejectRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req SubmitInput
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	created, err := h.service.Submit(r.Context(), actor, req)
	if err != nil {
		h.logger.Warn("submit return", slog.String("actor", actor.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status")), CreatedBy: q.Get("created_by")}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("limit", "must be a number"))
			return
		}
		filter.Limit = limit
	}
	list, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list returns", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": list})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	ret, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	approved, err := h.service.Approve(r.Context(), actor, id, httpx.IdempotencyKey(r))
	if err != nil {
		h.logger.Warn("approve return", slog.String("return_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, approved)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if r.ContentLength != 0 && !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	rejected, err := h.service.Reject(r.Context(), actor, id, req.Note, httpx.IdempotencyKey(r))
	if err != nil {
		h.logger.Warn("reject return", slog.String("return_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rejected)
}
