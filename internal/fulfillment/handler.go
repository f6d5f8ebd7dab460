package fulfillment

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Handler exposes the picking floor endpoints. Authorization happens in Service.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers fulfillment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders/{orderID}/tasks", h.createTasks)
	r.Get("/orders/{orderID}/tasks", h.listTasks)
	r.Get("/orders/{orderID}/queue", h.workQueue)
	r.Get("/orders/{orderID}/progress", h.progress)
	r.Post("/orders/{orderID}/alerts", h.raiseAlert)
	r.Post("/work-orders/dispatch", h.dispatch)
	r.Post("/items/{id}/pick", h.pick)
	r.Post("/items/{id}/out-of-stock", h.outOfStock)
	r.Post("/items/{id}/inspect", h.inspect)
	r.Delete("/items/{id}", h.deleteTask)
	r.Get("/notifications", h.listNotifications)
	r.Post("/notifications/{id}/read", h.markRead)
	r.Post("/notifications/{id}/fixed", h.markFixed)
	r.Get("/notification-topics", h.listTopics)
}

type createTasksRequest struct {
	AssignedTo string     `json:"assigned_to" validate:"required"`
	Lines      []TaskLine `json:"lines" validate:"required,min=1,dive"`
}

type inspectRequest struct {
	Result string `json:"result" validate:"required,oneof=correct wrong not_find"`
}

type alertRequest struct {
	Topic string `json:"topic" validate:"required,max=200"`
}

func (h *Handler) createTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req createTasksRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	items, err := h.service.CreateTasks(r.Context(), actor, CreateTasksInput{
		OrderID:    chi.URLParam(r, "orderID"),
		AssignedTo: req.AssignedTo,
		Source:     "manual",
		Lines:      req.Lines,
	})
	if err != nil {
		h.logger.Warn("create tasks", slog.String("order_id", chi.URLParam(r, "orderID")), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"items": items})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req WorkOrder
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	items, err := h.service.Dispatch(r.Context(), actor, req)
	if err != nil {
		h.logger.Warn("dispatch work order", slog.String("order_id", req.OrderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"items": items})
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListTasks(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) workQueue(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	picker := r.URL.Query().Get("picker")
	if actor.Role == shared.RolePicker {
		picker = actor.ID
	}
	items, err := h.service.WorkQueue(r.Context(), actor, chi.URLParam(r, "orderID"), picker)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cursor := 0
	if v := r.URL.Query().Get("cursor"); v != "" {
		if c, err := strconv.Atoi(v); err == nil {
			cursor = c
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": items,
		"next":  NextWorkable(items, cursor),
	})
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	p, err := h.service.Progress(r.Context(), actor, chi.URLParam(r, "orderID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) pick(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, "pick item", func(actor shared.Actor, itemID uuid.UUID) (Item, error) {
		return h.service.Pick(r.Context(), actor, itemID)
	})
}

func (h *Handler) outOfStock(w http.ResponseWriter, r *http.Request) {
	h.itemAction(w, r, "declare out of stock", func(actor shared.Actor, itemID uuid.UUID) (Item, error) {
		return h.service.OutOfStock(r.Context(), actor, itemID)
	})
}

func (h *Handler) inspect(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	h.itemAction(w, r, "inspect item", func(actor shared.Actor, itemID uuid.UUID) (Item, error) {
		return h.service.Inspect(r.Context(), actor, itemID, Status(req.Result))
	})
}

func (h *Handler) itemAction(w http.ResponseWriter, r *http.Request, op string, fn func(shared.Actor, uuid.UUID) (Item, error)) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	item, err := fn(actor, id)
	if err != nil {
		h.logger.Warn(op, slog.String("item_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteTask(r.Context(), actor, id); err != nil {
		h.logger.Warn("delete task", slog.String("item_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) raiseAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req alertRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	n, err := h.service.RaiseAlert(r.Context(), actor, chi.URLParam(r, "orderID"), req.Topic)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, n)
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := NotificationFilter{Status: NotificationStatus(q.Get("status")), PickerID: q.Get("picker_id")}
	switch filter.Status {
	case "", NotificationUnread, NotificationRead, NotificationFixed:
	default:
		httpx.RespondError(w, shared.Invalid("status", "must be one of unread read fixed"))
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("limit", "must be a number"))
			return
		}
		filter.Limit = limit
	}
	list, err := h.service.Notifications(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	h.notificationAction(w, r, h.service.MarkNotificationRead)
}

func (h *Handler) markFixed(w http.ResponseWriter, r *http.Request) {
	h.notificationAction(w, r, h.service.MarkNotificationFixed)
}

func (h *Handler) notificationAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor shared.Actor, id uuid.UUID) error) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.UUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := fn(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.service.Topics(r.Context())
	if err != nil {
		h.logger.Error("list notification topics", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"topics": topics})
}
