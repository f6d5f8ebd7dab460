package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-wms/internal/kpi"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

type memoryRepo struct {
	items         []Item
	summaries     map[string]kpi.Summary
	notifications []Notification
	nextSeq       int64
	failUpdate    error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{summaries: make(map[string]kpi.Summary)}
}

// WithTx snapshots state so a failing callback leaves nothing behind.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	items := append([]Item(nil), r.items...)
	summaries := make(map[string]kpi.Summary, len(r.summaries))
	for k, v := range r.summaries {
		summaries[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.items = items
		r.summaries = summaries
		return err
	}
	return nil
}

func (r *memoryRepo) ListItems(_ context.Context, orderID string) ([]Item, error) {
	var out []Item
	for _, it := range r.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *memoryRepo) item(id uuid.UUID) Item {
	for _, it := range r.items {
		if it.ID == id {
			return it
		}
	}
	return Item{}
}

func (r *memoryRepo) InsertNotification(_ context.Context, n Notification) error {
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *memoryRepo) ListNotifications(_ context.Context, filter NotificationFilter) ([]Notification, error) {
	var out []Notification
	for _, n := range r.notifications {
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		if filter.PickerID != "" && n.PickerID != filter.PickerID {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *memoryRepo) UpdateNotificationStatus(_ context.Context, id uuid.UUID, status NotificationStatus) error {
	for i := range r.notifications {
		if r.notifications[i].ID == id {
			r.notifications[i].Status = status
			r.notifications[i].IsRead = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (r *memoryRepo) ListTopics(context.Context) ([]Topic, error) {
	return []Topic{{ID: 1, Name: "ป้ายราคาผิด"}}, nil
}

func (tx *memoryTx) LockOrder(context.Context, string) error { return nil }

func (tx *memoryTx) OrderHasTasks(_ context.Context, orderID string) (bool, error) {
	for _, it := range tx.repo.items {
		if it.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertItems(_ context.Context, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		tx.repo.nextSeq++
		it.Seq = tx.repo.nextSeq
		tx.repo.items = append(tx.repo.items, it)
		out = append(out, it)
	}
	return out, nil
}

func (tx *memoryTx) OrderIDForItem(_ context.Context, id uuid.UUID) (string, error) {
	for _, it := range tx.repo.items {
		if it.ID == id {
			return it.OrderID, nil
		}
	}
	return "", ErrItemNotFound
}

func (tx *memoryTx) GetItemForUpdate(_ context.Context, id uuid.UUID) (Item, error) {
	for _, it := range tx.repo.items {
		if it.ID == id {
			return it, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (tx *memoryTx) ListOrderItems(ctx context.Context, orderID string) ([]Item, error) {
	return tx.repo.ListItems(ctx, orderID)
}

func (tx *memoryTx) UpdateItem(_ context.Context, item Item) error {
	if tx.repo.failUpdate != nil {
		return tx.repo.failUpdate
	}
	for i := range tx.repo.items {
		if tx.repo.items[i].ID == item.ID {
			tx.repo.items[i] = item
			return nil
		}
	}
	return ErrItemNotFound
}

func (tx *memoryTx) DeleteItem(_ context.Context, id uuid.UUID) error {
	for i := range tx.repo.items {
		if tx.repo.items[i].ID == id {
			tx.repo.items = append(tx.repo.items[:i], tx.repo.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (tx *memoryTx) FillOrderEndTime(_ context.Context, orderID string, at time.Time) error {
	for i := range tx.repo.items {
		if tx.repo.items[i].OrderID == orderID {
			ended := at
			tx.repo.items[i].EndedAt = &ended
		}
	}
	return nil
}

func (tx *memoryTx) Summaries() kpi.TxStore {
	return memorySummaries{repo: tx.repo}
}

type memorySummaries struct {
	repo *memoryRepo
}

func (m memorySummaries) SummaryExists(_ context.Context, orderID string) (bool, error) {
	_, ok := m.repo.summaries[orderID]
	return ok, nil
}

func (m memorySummaries) InsertSummary(_ context.Context, s kpi.Summary) (bool, error) {
	if _, ok := m.repo.summaries[s.OrderID]; ok {
		return false, nil
	}
	m.repo.summaries[s.OrderID] = s
	return true, nil
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Notify(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type denyAll struct{}

func (denyAll) Authorize(context.Context, shared.Actor, ...string) error {
	return shared.ErrForbidden
}

var (
	admin     = shared.Actor{ID: "admin-1", Role: shared.RoleAdmin}
	picker    = shared.Actor{ID: "picker-1", Role: shared.RolePicker}
	inspector = shared.Actor{ID: "qc-1", Role: shared.RoleQCStaff}
)

func newTestService(repo *memoryRepo, sink NotificationSink) *Service {
	svc := NewService(repo, nil, kpi.NewService(nil, nil, nil, nil), sink, nil, nil, Options{})
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	return svc
}

func seedOrder(t *testing.T, svc *Service, orderID string) []Item {
	t.Helper()
	items, err := svc.CreateTasks(context.Background(), admin, CreateTasksInput{
		OrderID:    orderID,
		AssignedTo: picker.ID,
		Lines: []TaskLine{
			{ProductCode: "P-1", Location: "A-10", Qty: 1},
			{ProductCode: "P-2", Location: "A-2", Qty: 2},
			{ProductCode: "P-3", Location: "B-1", Qty: 3},
		},
	})
	require.NoError(t, err)
	return items
}

func byCode(items []Item, code string) Item {
	for _, it := range items {
		if it.ProductCode == code {
			return it
		}
	}
	return Item{}
}

func TestCreateTasksPendingForPickerAndGuarded(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	items := seedOrder(t, svc, "WO-1")

	require.Len(t, items, 3)
	for _, it := range items {
		require.Equal(t, StatusPending, it.Status)
		require.Equal(t, picker.ID, it.AssignedTo)
	}
	require.Equal(t, []string{"A-2", "A-10", "B-1"}, []string{items[0].Location, items[1].Location, items[2].Location})

	_, err := svc.CreateTasks(context.Background(), admin, CreateTasksInput{
		OrderID:    "WO-1",
		AssignedTo: "picker-2",
		Lines:      []TaskLine{{ProductCode: "P-9", Qty: 1}},
	})
	require.ErrorIs(t, err, ErrAlreadyDispatched)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Len(t, repo.items, 3)
}

func TestCreateTasksValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), nil)
	_, err := svc.CreateTasks(context.Background(), admin, CreateTasksInput{
		OrderID: "WO-2",
		Lines:   []TaskLine{{ProductCode: "", Qty: 0}},
	})
	var verrs shared.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := verrs.Fields()
	require.Contains(t, fields, "assigned_to")
	require.Contains(t, fields, "lines[0].product_code")
	require.Contains(t, fields, "lines[0].qty")
}

func TestInspectionRetryLoopCapturesFirstCheckOnce(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	items := seedOrder(t, svc, "WO-B")
	first := byCode(items, "P-1")

	_, err := svc.Pick(ctx, picker, first.ID)
	require.NoError(t, err)
	_, err = svc.Inspect(ctx, inspector, first.ID, StatusWrong)
	require.ErrorIs(t, err, ErrOrderNotReady)
	require.Equal(t, StatusPicked, repo.item(first.ID).Status)

	for _, code := range []string{"P-2", "P-3"} {
		_, err := svc.Pick(ctx, picker, byCode(items, code).ID)
		require.NoError(t, err)
	}
	for _, code := range []string{"P-2", "P-3"} {
		_, err := svc.Inspect(ctx, inspector, byCode(items, code).ID, StatusCorrect)
		require.NoError(t, err)
	}
	require.Empty(t, repo.summaries)

	failed, err := svc.Inspect(ctx, inspector, first.ID, StatusWrong)
	require.NoError(t, err)
	require.Equal(t, 1, failed.ErrorCount)

	summary, ok := repo.summaries["WO-B"]
	require.True(t, ok)
	require.Equal(t, picker.ID, summary.PickerID)
	require.Equal(t, 3, summary.TotalItems)
	require.Equal(t, 2, summary.CorrectAtFirstCheck)
	require.Equal(t, 1, summary.WrongAtFirstCheck)
	require.Equal(t, 66.67, summary.AccuracyPercent)

	queue, err := svc.WorkQueue(ctx, picker, "WO-B", picker.ID)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, first.ID, queue[0].ID)
	require.Equal(t, 0, NextWorkable(queue, 0))

	_, err = svc.Pick(ctx, picker, first.ID)
	require.NoError(t, err)
	inspectedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return inspectedAt }
	passed, err := svc.Inspect(ctx, inspector, first.ID, StatusCorrect)
	require.NoError(t, err)
	require.Equal(t, StatusCorrect, passed.Status)
	require.Equal(t, 1, passed.ErrorCount)

	require.Len(t, repo.summaries, 1)
	require.Equal(t, 1, repo.summaries["WO-B"].WrongAtFirstCheck)

	progress, err := svc.Progress(ctx, admin, "WO-B")
	require.NoError(t, err)
	require.True(t, progress.FullyChecked)
	require.Equal(t, 3, progress.Correct)
	for _, it := range repo.items {
		require.NotNil(t, it.EndedAt)
		require.True(t, inspectedAt.Equal(*it.EndedAt), "item %s ended at %s", it.ProductCode, it.EndedAt)
	}
}

func TestNotFindReentersQueue(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	items := seedOrder(t, svc, "WO-N")
	for _, it := range items {
		_, err := svc.Pick(ctx, picker, it.ID)
		require.NoError(t, err)
	}
	target := byCode(items, "P-3")
	got, err := svc.Inspect(ctx, inspector, target.ID, StatusNotFind)
	require.NoError(t, err)
	require.Equal(t, 1, got.NotFindCount)
	require.True(t, got.Status.Pickable())

	_, err = svc.Inspect(ctx, inspector, target.ID, StatusCorrect)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPickRejectsNonWorkableAndForeignItems(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	items := seedOrder(t, svc, "WO-P")

	_, err := svc.Pick(ctx, picker, items[0].ID)
	require.NoError(t, err)
	_, err = svc.Pick(ctx, picker, items[0].ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	other := shared.Actor{ID: "picker-2", Role: shared.RolePicker}
	_, err = svc.Pick(ctx, other, items[1].ID)
	require.ErrorIs(t, err, ErrNotAssignee)
	require.Equal(t, StatusPending, repo.item(items[1].ID).Status)

	_, err = svc.Pick(ctx, picker, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFailedWriteKeepsPriorStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	items := seedOrder(t, svc, "WO-F")
	repo.failUpdate = errors.New("connection reset")

	_, err := svc.Pick(context.Background(), picker, items[0].ID)
	require.Error(t, err)
	require.Equal(t, StatusPending, repo.item(items[0].ID).Status)

	all, err := repo.ListItems(context.Background(), "WO-F")
	require.NoError(t, err)
	svc.sorter.Sort(all)
	require.Equal(t, 0, NextWorkable(WorkQueue(all, picker.ID), 0))
}

func TestOutOfStockNotifiesWithoutBlocking(t *testing.T) {
	repo := newMemoryRepo()
	sink := &mockSink{}
	sink.On("Notify", mock.Anything, mock.MatchedBy(func(n Notification) bool {
		return n.Type == OutOfStockNotification && n.OrderID == "WO-O" && n.PickerID == picker.ID && n.Status == NotificationUnread
	})).Return(errors.New("queue down")).Once()
	svc := newTestService(repo, sink)
	items := seedOrder(t, svc, "WO-O")

	got, err := svc.OutOfStock(context.Background(), picker, items[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusOutOfStock, got.Status)
	require.NotNil(t, got.EndedAt)
	require.Equal(t, StatusOutOfStock, repo.item(items[0].ID).Status)
	sink.AssertExpectations(t)
}

func TestDeleteEvaluatesRemainingItems(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	items := seedOrder(t, svc, "WO-D")
	for _, code := range []string{"P-1", "P-2"} {
		_, err := svc.Pick(ctx, picker, byCode(items, code).ID)
		require.NoError(t, err)
	}
	require.NoError(t, svc.DeleteTask(ctx, admin, byCode(items, "P-3").ID))
	for _, code := range []string{"P-1", "P-2"} {
		_, err := svc.Inspect(ctx, inspector, byCode(items, code).ID, StatusCorrect)
		require.NoError(t, err)
	}
	summary := repo.summaries["WO-D"]
	require.Equal(t, 2, summary.TotalItems)
	require.Equal(t, 100.0, summary.AccuracyPercent)
}

func TestServiceAuthorizes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, denyAll{}, nil, nil, nil, nil, Options{})
	_, err := svc.CreateTasks(context.Background(), admin, CreateTasksInput{OrderID: "X"})
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Pick(context.Background(), picker, uuid.New())
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestNotificationsLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	sink := &mockSink{}
	sink.On("Notify", mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(repo, sink)
	ctx := context.Background()

	n, err := svc.RaiseAlert(ctx, picker, "WO-1", "ป้ายราคาผิด")
	require.NoError(t, err)
	require.Equal(t, "ป้ายราคาผิด", n.Type)
	require.NoError(t, svc.Deliver(ctx, n))

	require.NoError(t, svc.MarkNotificationFixed(ctx, admin, n.ID))
	list, err := svc.Notifications(ctx, admin, NotificationFilter{Status: NotificationFixed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.True(t, list[0].IsRead)

	_, err = svc.RaiseAlert(ctx, picker, "", "")
	var verrs shared.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.ErrorIs(t, svc.MarkNotificationRead(ctx, admin, uuid.New()), shared.ErrNotFound)
}
