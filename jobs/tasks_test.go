package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/badges"
	"github.com/odyssey-erp/odyssey-wms/internal/borrow"
	"github.com/odyssey-erp/odyssey-wms/internal/fulfillment"
	jobmetrics "github.com/odyssey-erp/odyssey-wms/internal/jobs"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(task.Type(), len(opts))
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *mockEnqueuer) Close() error { return nil }

type recordingDeliverer struct {
	got []fulfillment.Notification
	err error
}

func (r *recordingDeliverer) Deliver(_ context.Context, n fulfillment.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

type countingBadges struct {
	calls int
}

func (c *countingBadges) Recompute(context.Context) (badges.Snapshot, error) {
	c.calls++
	return badges.Snapshot{OverdueBorrows: 1}, nil
}

type stubBorrows struct {
	today time.Time
}

func (s *stubBorrows) ListOverdue(_ context.Context, today time.Time) ([]borrow.Borrow, error) {
	s.today = today
	return []borrow.Borrow{{Number: "BOR-20240420-001", DueDate: today.AddDate(0, 0, -3), Status: borrow.StatusApproved}}, nil
}

type stubCleaner struct {
	retention time.Duration
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return 4, nil
}

func TestClientNotifyIgnoresDuplicateTaskID(t *testing.T) {
	enq := &mockEnqueuer{}
	enq.On("EnqueueContext", TaskNotificationDeliver, 1).Return(nil, asynq.ErrTaskIDConflict).Once()
	client := &Client{client: enq}

	err := client.Notify(context.Background(), fulfillment.Notification{ID: uuid.New(), Type: fulfillment.OutOfStockNotification})
	require.NoError(t, err)
	enq.AssertExpectations(t)
}

func TestClientBadgeRecomputeDebounces(t *testing.T) {
	enq := &mockEnqueuer{}
	enq.On("EnqueueContext", TaskBadgeRecompute, 4).Return(&asynq.TaskInfo{}, nil).Once()
	enq.On("EnqueueContext", TaskBadgeRecompute, 4).Return(nil, asynq.ErrDuplicateTask).Once()
	enq.On("EnqueueContext", TaskBadgeRecompute, 2).Return(nil, errors.New("redis down")).Once()
	client := &Client{client: enq}

	require.NoError(t, client.EnqueueBadgeRecompute(context.Background(), 2*time.Second))
	require.NoError(t, client.EnqueueBadgeRecompute(context.Background(), 2*time.Second))
	require.Error(t, client.EnqueueBadgeRecompute(context.Background(), 0))
	enq.AssertExpectations(t)
}

func TestHandleNotificationDeliver(t *testing.T) {
	deliverer := &recordingDeliverer{}
	h := &Handlers{Notifications: deliverer, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	n := fulfillment.Notification{ID: uuid.New(), Type: fulfillment.OutOfStockNotification, OrderID: "SO-1", PickerID: "p1"}
	task, err := NewNotificationTask(n)
	require.NoError(t, err)

	require.NoError(t, h.HandleNotificationDeliver(context.Background(), task))
	require.Len(t, deliverer.got, 1)
	require.Equal(t, n.ID, deliverer.got[0].ID)

	err = h.HandleNotificationDeliver(context.Background(), asynq.NewTask(TaskNotificationDeliver, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	deliverer.err = errors.New("db down")
	require.Error(t, h.HandleNotificationDeliver(context.Background(), task))
}

func TestHandleOverdueScanRefreshesBadges(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	borrows := &stubBorrows{}
	counter := &countingBadges{}
	h := &Handlers{Borrows: borrows, Badges: counter, clock: func() time.Time { return fixed }}

	require.NoError(t, h.HandleOverdueScan(context.Background(), NewOverdueScanTask()))
	require.Equal(t, fixed, borrows.today)
	require.Equal(t, 1, counter.calls)
}

func TestHandleIdempotencyCleanup(t *testing.T) {
	cleaner := &stubCleaner{}
	h := &Handlers{Idempotency: cleaner}
	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, h.HandleIdempotencyCleanup(context.Background(), task))
	require.Equal(t, 24*time.Hour, cleaner.retention)

	require.NoError(t, h.HandleIdempotencyCleanup(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`))))
	require.Equal(t, 72*time.Hour, cleaner.retention)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	serve := func(inspector QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		NewHandler(inspector, nil).MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rec
	}

	rec := serve(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}})
	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Pending)
	require.Equal(t, 1, body.Retry)

	rec = serve(stubInspector{err: errors.New("redis down")})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
