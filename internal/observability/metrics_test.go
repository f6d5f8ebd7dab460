package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesWorkflowMetrics(t *testing.T) {
	metrics := NewMetrics()
	workflow := NewWorkflowMetrics(metrics.Registerer())
	workflow.LedgerMovement("reserve")
	workflow.SummaryCapture("captured")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `odyssey_wms_ledger_movements_total{type="reserve"} 1`) {
		t.Fatalf("expected ledger movement counter, got: %s", body)
	}
	if !strings.Contains(body, `odyssey_wms_order_summaries_total{outcome="captured"} 1`) {
		t.Fatalf("expected summary counter, got: %s", body)
	}
}

func TestWorkflowMetricsNilSafe(t *testing.T) {
	var m *WorkflowMetrics
	m.LedgerMovement("deduct")
	m.TasksCreated("requisition", 3)
	m.StatusTransition("picked")
	m.SummaryCapture("exists")
	m.Decision("borrow", "approve")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "odyssey_wms_http_in_flight_requests 0") {
		t.Fatalf("expected in-flight gauge back at zero, got: %s", metricsBody)
	}
}

func TestMetricsMiddlewareUnmatchedRoute(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.NotFoundHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `odyssey_wms_http_requests_total{code="404",route="unmatched"} 1`) {
		t.Fatalf("expected unmatched route label, got: %s", rr.Body.String())
	}
}
