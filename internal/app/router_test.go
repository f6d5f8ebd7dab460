package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/rbac"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	router := NewRouter(RouterParams{Logger: slog.Default(), Config: &Config{RateLimitPerMinute: 100}, Metrics: observability.NewMetrics()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "odyssey_wms_http_requests_total")
}

func TestRouterPassesGatewayActor(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:             slog.Default(),
		PermissionsHandler: rbac.NewPermissionsHandler(slog.Default(), rbac.NewService(nil, nil)),
	})

	req := httptest.NewRequest(http.MethodGet, "/permissions/me", nil)
	req.Header.Set(ActorIDHeader, "picker-7")
	req.Header.Set(ActorRoleHeader, "Picker")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(shared.RolePicker), body.Role)
	require.Contains(t, body.Permissions, shared.PermFulfillmentPick)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/permissions/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
