package borrow

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Handler exposes borrow endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers borrow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.submit)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/return", h.returnItems)
	r.Post("/{id}/write-off", h.writeOff)
}

type submitRequest struct {
	DueDate string      `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Notes   string      `json:"notes" validate:"max=1000"`
	Items   []ItemInput `json:"items" validate:"required,min=1,dive"`
}

type resolveRequest struct {
	Items []ResolveLine `json:"items" validate:"required,min=1,dive"`
}

type rejectRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// borrowView adds the derived display status.
type borrowView struct {
	Borrow
	DisplayStatus Status `json:"display_status"`
}

func (h *Handler) view(b Borrow) borrowView {
	return borrowView{Borrow: b, DisplayStatus: b.DisplayStatus(h.service.Today())}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	in := SubmitInput{Notes: req.Notes, Items: req.Items}
	if req.DueDate != "" {
		due, err := time.Parse(time.DateOnly, req.DueDate)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("due_date", "must be YYYY-MM-DD"))
			return
		}
		in.DueDate = due
	}
	created, err := h.service.Submit(r.Context(), actor, in)
	if err != nil {
		h.logger.Warn("submit borrow", slog.String("actor", actor.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(created))
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
		h.logger.Error("list borrows", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]borrowView, 0, len(list))
	for _, b := range list {
		views = append(views, h.view(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"borrows": views})
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
	b, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(b))
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
	b, err := h.service.Approve(r.Context(), actor, id, httpx.IdempotencyKey(r))
	if err != nil {
		h.logger.Warn("approve borrow", slog.String("borrow_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(b))
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
	b, err := h.service.Reject(r.Context(), actor, id, req.Note, httpx.IdempotencyKey(r))
	if err != nil {
		h.logger.Warn("reject borrow", slog.String("borrow_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(b))
}

func (h *Handler) returnItems(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, "return borrow items", h.service.Return)
}

func (h *Handler) writeOff(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, "write off borrow items", h.service.WriteOff)
}

type resolveFunc func(ctx context.Context, actor shared.Actor, id uuid.UUID, lines []ResolveLine, idempotencyKey string) (Borrow, error)

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, op string, fn resolveFunc) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	b, err := fn(r.Context(), actor, id, req.Items, httpx.IdempotencyKey(r))
	if err != nil {
		h.logger.Warn(op, slog.String("borrow_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(b))
}
