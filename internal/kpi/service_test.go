package kpi

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type memoryStore struct {
	mu        sync.Mutex
	summaries map[string]Summary
	inserts   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{summaries: make(map[string]Summary)}
}

func (m *memoryStore) SummaryExists(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.summaries[orderID]
	return ok, nil
}

func (m *memoryStore) InsertSummary(ctx context.Context, s Summary) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.summaries[s.OrderID]; ok {
		return false, nil
	}
	m.summaries[s.OrderID] = s
	m.inserts++
	return true, nil
}

type mockReader struct {
	summaries []Summary
	spans     []PickingSpan
	listCalls int
}

func (m *mockReader) GetSummary(ctx context.Context, orderID string) (Summary, error) {
	for _, s := range m.summaries {
		if s.OrderID == orderID {
			return s, nil
		}
	}
	return Summary{}, ErrSummaryNotFound
}

func (m *mockReader) ListSummaries(ctx context.Context, filter SummaryFilter) ([]Summary, error) {
	m.listCalls++
	return m.summaries, nil
}

func (m *mockReader) PickingSpans(ctx context.Context, filter SummaryFilter) ([]PickingSpan, error) {
	return m.spans, nil
}

func newTestService(t *testing.T, reader Reader) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(reader, NewCache(client, time.Minute), nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return svc, mr
}

func TestAccuracyRounding(t *testing.T) {
	require.Equal(t, 66.67, Accuracy(2, 3))
	require.Equal(t, 33.33, Accuracy(1, 3))
	require.Equal(t, 100.0, Accuracy(4, 4))
	require.Equal(t, 0.0, Accuracy(0, 0))
}

func TestFullyCheckedRequiresEveryItemTerminal(t *testing.T) {
	require.False(t, FullyChecked(nil))
	require.False(t, FullyChecked([]ItemOutcome{{Outcome: OutcomeCorrect}, {Outcome: OutcomeOpen}}))
	require.True(t, FullyChecked([]ItemOutcome{{Outcome: OutcomeCorrect}, {Outcome: OutcomeOutOfStock}}))
}

func TestCaptureWritesOnceWithFirstItemPicker(t *testing.T) {
	svc, _ := newTestService(t, &mockReader{})
	store := newMemoryStore()
	items := []ItemOutcome{
		{Outcome: OutcomeCorrect, AssignedTo: "p1"},
		{Outcome: OutcomeWrong, AssignedTo: "p2"},
		{Outcome: OutcomeNotFind, AssignedTo: "p2"},
	}

	summary, inserted, err := svc.Capture(context.Background(), store, "ORD-1", items)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, "p1", summary.PickerID)
	require.Equal(t, 3, summary.TotalItems)
	require.Equal(t, 1, summary.CorrectAtFirstCheck)
	require.Equal(t, 1, summary.WrongAtFirstCheck)
	require.Equal(t, 1, summary.NotFindAtFirstCheck)
	require.Equal(t, 33.33, summary.AccuracyPercent)

	items[1].Outcome = OutcomeCorrect
	items[2].Outcome = OutcomeCorrect
	_, inserted, err = svc.Capture(context.Background(), store, "ORD-1", items)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, 1, store.inserts)
	require.Equal(t, 33.33, store.summaries["ORD-1"].AccuracyPercent)
}

func TestCaptureSkipsOpenOrders(t *testing.T) {
	svc, _ := newTestService(t, &mockReader{})
	store := newMemoryStore()
	_, inserted, err := svc.Capture(context.Background(), store, "ORD-2", []ItemOutcome{
		{Outcome: OutcomeCorrect, AssignedTo: "p1"},
		{Outcome: OutcomeOpen, AssignedTo: "p1"},
	})
	require.NoError(t, err)
	require.False(t, inserted)
	require.Empty(t, store.summaries)
}

func TestCaptureRequiresOrderID(t *testing.T) {
	svc, _ := newTestService(t, &mockReader{})
	_, _, err := svc.Capture(context.Background(), newMemoryStore(), " ", nil)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDashboardCachesUntilCaptured(t *testing.T) {
	reader := &mockReader{
		summaries: []Summary{
			{OrderID: "A", PickerID: "p1", TotalItems: 2, CorrectAtFirstCheck: 2, AccuracyPercent: 100},
			{OrderID: "B", PickerID: "p2", TotalItems: 2, CorrectAtFirstCheck: 1, WrongAtFirstCheck: 1, AccuracyPercent: 50},
		},
		spans: []PickingSpan{
			{OrderID: "A", PickerID: "p1", Duration: 2 * time.Minute},
			{OrderID: "B", PickerID: "p2", Duration: 4 * time.Minute},
		},
	}
	svc, _ := newTestService(t, reader)
	ctx := context.Background()

	first, err := svc.Dashboard(ctx, SummaryFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, first.Orders)
	require.Equal(t, 75.0, first.AvgAccuracy)
	require.Equal(t, 180.0, first.AvgPickingSecond)
	require.Len(t, first.Pickers, 2)
	require.Equal(t, "p1", first.Pickers[0].PickerID)

	_, err = svc.Dashboard(ctx, SummaryFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, reader.listCalls)

	svc.Captured(ctx, Summary{OrderID: "C", PickerID: "p1"})
	_, err = svc.Dashboard(ctx, SummaryFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, reader.listCalls)
}

func TestDashboardRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t, &mockReader{})
	now := time.Now()
	_, err := svc.Dashboard(context.Background(), SummaryFilter{From: now, To: now.Add(-time.Hour)})
	require.ErrorIs(t, err, ErrInvalidRange)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCacheWithoutRedisCallsLoader(t *testing.T) {
	var cache *Cache
	var out map[string]int
	err := cache.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return map[string]int{"a": 1}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, out["a"])
}

func TestSnapshotAccuracyTenItems(t *testing.T) {
	items := make([]ItemOutcome, 0, 10)
	for i := 0; i < 7; i++ {
		items = append(items, ItemOutcome{Outcome: OutcomeCorrect, AssignedTo: "p1"})
	}
	items = append(items,
		ItemOutcome{Outcome: OutcomeWrong, AssignedTo: "p1"},
		ItemOutcome{Outcome: OutcomeWrong, AssignedTo: "p1"},
		ItemOutcome{Outcome: OutcomeNotFind, AssignedTo: "p1"},
	)
	summary, ok := Snapshot("ORD-10", items, time.Now())
	require.True(t, ok)
	require.Equal(t, 70.0, summary.AccuracyPercent)
	require.Equal(t, 2, summary.WrongAtFirstCheck)
	require.Equal(t, 1, summary.NotFindAtFirstCheck)
}
