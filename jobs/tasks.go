package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-wms/internal/badges"
	"github.com/odyssey-erp/odyssey-wms/internal/borrow"
	"github.com/odyssey-erp/odyssey-wms/internal/fulfillment"
	jobmetrics "github.com/odyssey-erp/odyssey-wms/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotificationDeliver persists a staff notification raised on the picking floor.
	TaskNotificationDeliver = "wms:notification:deliver"
	// TaskBadgeRecompute refreshes the badge snapshot.
	TaskBadgeRecompute = "wms:badges:recompute"
	// TaskBorrowOverdueScan logs borrows past their due date.
	TaskBorrowOverdueScan = "wms:borrow:overdue-scan"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "wms:idempotency:cleanup"
)

// NewNotificationTask constructs the delivery task. The notification id doubles
// as the asynq task id so a retried enqueue is not duplicated.
func NewNotificationTask(n fulfillment.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDeliver, data, asynq.TaskID(n.ID.String()), asynq.MaxRetry(10)), nil
}

// NewBadgeRecomputeTask constructs the recompute task.
func NewBadgeRecomputeTask() *asynq.Task {
	return asynq.NewTask(TaskBadgeRecompute, nil)
}

// NewOverdueScanTask constructs the overdue scan task.
func NewOverdueScanTask() *asynq.Task {
	return asynq.NewTask(TaskBorrowOverdueScan, nil)
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NotificationDeliverer persists notifications.
type NotificationDeliverer interface {
	Deliver(ctx context.Context, n fulfillment.Notification) error
}

// BadgeRecomputer rebuilds the badge snapshot.
type BadgeRecomputer interface {
	Recompute(ctx context.Context) (badges.Snapshot, error)
}

// OverdueLister lists outstanding borrows past due.
type OverdueLister interface {
	ListOverdue(ctx context.Context, today time.Time) ([]borrow.Borrow, error)
}

// IdempotencyCleaner removes expired keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handlers groups the task handlers run by the worker.
type Handlers struct {
	Notifications NotificationDeliverer
	Badges        BadgeRecomputer
	Borrows       OverdueLister
	Idempotency   IdempotencyCleaner
	Metrics       *jobmetrics.Metrics
	Logger        *slog.Logger
	clock         func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now().UTC()
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// HandleNotificationDeliver processes TaskNotificationDeliver tasks.
func (h *Handlers) HandleNotificationDeliver(ctx context.Context, t *asynq.Task) (err error) {
	tracker := h.Metrics.Track(TaskNotificationDeliver)
	defer func() { err = tracker.End(err) }()
	var n fulfillment.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}
	if err := h.Notifications.Deliver(ctx, n); err != nil {
		h.logger().Warn("deliver notification", slog.String("notification_id", n.ID.String()), slog.Any("error", err))
		return err
	}
	return nil
}

// HandleBadgeRecompute processes TaskBadgeRecompute tasks.
func (h *Handlers) HandleBadgeRecompute(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := h.Metrics.Track(TaskBadgeRecompute)
	defer func() { err = tracker.End(err) }()
	snap, err := h.Badges.Recompute(ctx)
	if err != nil {
		return err
	}
	h.logger().Debug("badges recomputed",
		slog.Int64("pending_requisitions", snap.PendingRequisitions),
		slog.Int64("overdue_borrows", snap.OverdueBorrows))
	return nil
}

// HandleOverdueScan processes TaskBorrowOverdueScan tasks.
func (h *Handlers) HandleOverdueScan(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := h.Metrics.Track(TaskBorrowOverdueScan)
	defer func() { err = tracker.End(err) }()
	overdue, err := h.Borrows.ListOverdue(ctx, h.now())
	if err != nil {
		h.logger().Error("overdue scan failed", slog.Any("error", err))
		return err
	}
	for _, b := range overdue {
		h.logger().Warn("borrow overdue",
			slog.String("borrow_no", b.Number),
			slog.String("created_by", b.CreatedBy),
			slog.String("due_date", b.DueDate.Format(time.DateOnly)))
	}
	h.Metrics.SetOverdueBorrows(len(overdue))
	if h.Badges != nil {
		if _, err := h.Badges.Recompute(ctx); err != nil {
			h.logger().Warn("recompute badges after overdue scan", slog.Any("error", err))
		}
	}
	return nil
}

// HandleIdempotencyCleanup processes TaskIdempotencyCleanup tasks.
func (h *Handlers) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) (err error) {
	tracker := h.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}
	if payload.Retention <= 0 {
		payload.Retention = 72 * time.Hour
	}
	removed, err := h.Idempotency.Cleanup(ctx, payload.Retention)
	if err != nil {
		return err
	}
	h.logger().Info("idempotency keys cleaned", slog.Int64("removed", removed), slog.Duration("retention", payload.Retention))
	return nil
}

// TaskHandlers lists the handlers for worker registration.
func (h *Handlers) TaskHandlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskNotificationDeliver, Handler: h.HandleNotificationDeliver},
		{Type: TaskBadgeRecompute, Handler: h.HandleBadgeRecompute},
		{Type: TaskBorrowOverdueScan, Handler: h.HandleOverdueScan},
		{Type: TaskIdempotencyCleanup, Handler: h.HandleIdempotencyCleanup},
	}
}
