package app

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Headers set by the trusted gateway after authentication.
const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// ActorMiddleware places the gateway supplied actor in the request context.
// Requests without an actor id pass through anonymous.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ActorIDHeader))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor := shared.Actor{ID: id, Role: shared.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(ActorRoleHeader))))}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// MiddlewareStack installs the middleware chain shared by every route.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	limit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		limit = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		ActorMiddleware,
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// RequestMiddlewares applies to request/response routes only; long lived
// streams skip them.
func RequestMiddlewares(cfg *Config) []func(http.Handler) http.Handler {
	timeout := 30 * time.Second
	if cfg != nil && cfg.AppRequestTimeout > 0 {
		timeout = cfg.AppRequestTimeout
	}
	return []func(http.Handler) http.Handler{
		middleware.Timeout(timeout),
		middleware.Compress(5),
	}
}
