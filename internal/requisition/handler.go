package requisition

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Handler exposes requisition endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers requisition routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.submit)
	r.Get("/", h.list)
	r.Get("/topics", h.topics)
	r.Get("/{id}", h.get)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
}

type approveRequest struct {
	AssignedTo string `json:"assigned_to" validate:"required"`
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
		h.logger.Warn("submit requisition", slog.String("actor", actor.ID), slog.Any("error", err))
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
		h.logger.Error("list requisitions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requisitions": list})
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
	req, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
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

func (h *Handler) topics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.service.Topics(r.Context())
	if err != nil {
		h.logger.Error("list requisition topics", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"topics": topics})
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
	var req approveRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	approved, tasks, err := h.service.Approve(r.Context(), actor, id, req.AssignedTo, httpx.IdempotencyKey(r))
	if err != nil {
		h.logger.Warn("approve requisition", slog.String("requisition_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requisition": approved, "tasks": tasks})
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
		h.logger.Warn("reject requisition", slog.String("requisition_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rejected)
}
