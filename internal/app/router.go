package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-wms/internal/badges"
	"github.com/odyssey-erp/odyssey-wms/internal/borrow"
	"github.com/odyssey-erp/odyssey-wms/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/kpi"
	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/requisition"
	"github.com/odyssey-erp/odyssey-wms/internal/returns"
	"github.com/odyssey-erp/odyssey-wms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Metrics            *observability.Metrics
	FulfillmentHandler *fulfillment.Handler
	KPIHandler         *kpi.Handler
	RequisitionHandler *requisition.Handler
	BorrowHandler      *borrow.Handler
	ReturnHandler      *returns.Handler
	InventoryHandler   *inventory.Handler
	BadgeHandler       *badges.Handler
	JobHandler         *jobs.Handler
	PermissionsHandler *rbac.PermissionsHandler
}

// NewRouter constructs the chi.Router with warehouse defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.BadgeHandler != nil {
		r.Get("/ws/badges", params.BadgeHandler.Stream)
	}

	r.Group(func(r chi.Router) {
		for _, mw := range RequestMiddlewares(params.Config) {
			r.Use(mw)
		}
		mount := func(prefix string, h interface{ MountRoutes(chi.Router) }) {
			r.Route(prefix, h.MountRoutes)
		}
		if params.FulfillmentHandler != nil {
			mount("/fulfillment", params.FulfillmentHandler)
		}
		if params.KPIHandler != nil {
			mount("/kpi", params.KPIHandler)
		}
		if params.RequisitionHandler != nil {
			mount("/requisitions", params.RequisitionHandler)
		}
		if params.BorrowHandler != nil {
			mount("/borrows", params.BorrowHandler)
		}
		if params.ReturnHandler != nil {
			mount("/returns", params.ReturnHandler)
		}
		if params.InventoryHandler != nil {
			mount("/inventory", params.InventoryHandler)
		}
		if params.BadgeHandler != nil {
			mount("/badges", params.BadgeHandler)
		}
		if params.JobHandler != nil {
			mount("/jobs", params.JobHandler)
		}
		if params.PermissionsHandler != nil {
			mount("/permissions", params.PermissionsHandler)
		}
	})

	return r
}
