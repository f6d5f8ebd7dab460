package badges

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type stubSource struct {
	calls   atomic.Int32
	overdue error
	today   time.Time
}

func (s *stubSource) PendingRequisitions(context.Context) (int64, error) {
	s.calls.Add(1)
	return 3, nil
}

func (s *stubSource) PendingBorrows(context.Context) (int64, error) { return 2, nil }

func (s *stubSource) OverdueBorrows(_ context.Context, today time.Time) (int64, error) {
	s.today = today
	return 1, s.overdue
}

func (s *stubSource) PendingReturns(context.Context) (int64, error) { return 4, nil }

func (s *stubSource) UnreadNotifications(context.Context) (int64, error) { return 5, nil }

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueBadgeRecompute(ctx context.Context, debounce time.Duration) error {
	return m.Called(ctx, debounce).Error(0)
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRecomputeStoresSnapshot(t *testing.T) {
	client := newRedis(t)
	source := &stubSource{}
	svc := NewService(source, NewStore(client), nil, 0, nil)
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	snap, err := svc.Recompute(context.Background())
	require.NoError(t, err)
	require.Equal(t, Snapshot{
		PendingRequisitions: 3,
		PendingBorrows:      2,
		OverdueBorrows:      1,
		PendingReturns:      4,
		UnreadNotifications: 5,
		ComputedAt:          fixed,
	}, snap)
	require.Equal(t, fixed, source.today)

	stored, err := NewStore(client).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, snap, stored)
}

func TestRecomputeFailureKeepsPreviousSnapshot(t *testing.T) {
	client := newRedis(t)
	source := &stubSource{}
	svc := NewService(source, NewStore(client), nil, 0, nil)
	first, err := svc.Recompute(context.Background())
	require.NoError(t, err)

	source.overdue = errors.New("db down")
	_, err = svc.Recompute(context.Background())
	require.Error(t, err)

	stored, err := svc.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, stored)
}

func TestCurrentComputesWhenEmpty(t *testing.T) {
	source := &stubSource{}
	svc := NewService(source, NewStore(newRedis(t)), nil, 0, nil)

	snap, err := svc.Current(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, snap.PendingRequisitions)
	_, err = svc.Current(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, source.calls.Load())
}

func TestRequestRecomputeEnqueuesWithDebounce(t *testing.T) {
	source := &stubSource{}
	enq := &mockEnqueuer{}
	enq.On("EnqueueBadgeRecompute", mock.Anything, 2*time.Second).Return(nil).Twice()
	svc := NewService(source, nil, enq, 2*time.Second, nil)

	svc.RequestRecompute(context.Background())
	svc.RequestRecompute(context.Background())

	enq.AssertExpectations(t)
	require.Zero(t, source.calls.Load())
}

func TestRequestRecomputeInlineWithoutQueue(t *testing.T) {
	client := newRedis(t)
	source := &stubSource{}
	svc := NewService(source, NewStore(client), nil, 0, nil)

	svc.RequestRecompute(context.Background())
	require.EqualValues(t, 1, source.calls.Load())
	_, err := NewStore(client).Load(context.Background())
	require.NoError(t, err)
}

func TestStreamPushesPublishedSnapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewStore(client)
	svc := NewService(&stubSource{}, store, nil, 0, nil)
	hub := NewHub(nil)
	require.NoError(t, store.Save(context.Background(), Snapshot{PendingBorrows: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, store)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(updatesChannel)[updatesChannel] == 1
	}, time.Second, 10*time.Millisecond)

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.ContextWithActor(r.Context(), shared.Actor{ID: "mgr", Role: shared.RoleManager})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	handler := NewHandler(nil, svc, hub)
	router.Get("/ws/badges", handler.Stream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/badges", nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap Snapshot
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &snap))
	require.EqualValues(t, 2, snap.PendingBorrows)
	require.Equal(t, 1, hub.Clients())

	require.NoError(t, store.Save(context.Background(), Snapshot{PendingBorrows: 9}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &snap))
	require.EqualValues(t, 9, snap.PendingBorrows)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestCurrentRequiresActor(t *testing.T) {
	svc := NewService(&stubSource{}, nil, nil, 0, nil)
	router := chi.NewRouter()
	NewHandler(nil, svc, NewHub(nil)).MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: "p1", Role: shared.RolePicker}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pending_returns":4`)
}
