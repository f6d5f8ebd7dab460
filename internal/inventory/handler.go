package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Handler exposes ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator(), rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInventoryView))
		r.Get("/balances/{code}", h.getBalance)
		r.Get("/movements", h.listMovements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInventoryAdjust))
		r.Post("/adjustments", h.postAdjustment)
	})
}

type adjustmentRequest struct {
	ProductCode string  `json:"product_code" validate:"required"`
	Type        string  `json:"movement_type" validate:"required,oneof=receive adjust release"`
	Qty         float64 `json:"qty" validate:"required"`
	Note        string  `json:"note" validate:"max=500"`
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.Balance(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.logger.Error("get balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"balance":   balance,
		"available": balance.Available(),
	})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		ProductCode: q.Get("product_code"),
		RefType:     q.Get("ref_type"),
		RefID:       q.Get("ref_id"),
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("from", "must be YYYY-MM-DD"))
			return
		}
		filter.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("to", "must be YYYY-MM-DD"))
			return
		}
		filter.To = to.AddDate(0, 0, 1)
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("limit", "must be a number"))
			return
		}
		filter.Limit = limit
	}
	movements, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req adjustmentRequest
	if !httpx.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	movement, err := h.service.Post(r.Context(), MovementInput{
		ProductCode:    req.ProductCode,
		Type:           MovementType(req.Type),
		Qty:            req.Qty,
		RefType:        "manual",
		Note:           req.Note,
		ActorID:        actor.ID,
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		h.logger.Warn("post adjustment", slog.String("product_code", req.ProductCode), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}
