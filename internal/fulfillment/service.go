package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/kpi"
	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	NotificationStore
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListItems(ctx context.Context, orderID string) ([]Item, error)
}

// Authorizer checks actor permissions.
type Authorizer interface {
	Authorize(ctx context.Context, actor shared.Actor, perms ...string) error
}

// KPIPort captures first-check summaries inside the status transaction.
type KPIPort interface {
	Capture(ctx context.Context, store kpi.TxStore, orderID string, items []kpi.ItemOutcome) (kpi.Summary, bool, error)
	Captured(ctx context.Context, summary kpi.Summary)
}

// BadgeRefresher is told when derived counters may have changed.
type BadgeRefresher interface {
	RequestRecompute(ctx context.Context)
}

// Options tunes location ordering.
type Options struct {
	SpareLocation string
	Locale        string
}

// Service runs the task store and the pick/inspect state machine.
type Service struct {
	repo    RepositoryPort
	authz   Authorizer
	kpi     KPIPort
	sink    NotificationSink
	badges  BadgeRefresher
	sorter  *LocationSorter
	spare   string
	metrics *observability.WorkflowMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, authz Authorizer, kpi KPIPort, sink NotificationSink, metrics *observability.WorkflowMetrics, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SpareLocation == "" {
		opts.SpareLocation = DefaultSpareLocation
	}
	if opts.Locale == "" {
		opts.Locale = "th"
	}
	return &Service{
		repo:    repo,
		authz:   authz,
		kpi:     kpi,
		sink:    sink,
		sorter:  NewLocationSorter(opts.Locale, opts.SpareLocation),
		spare:   opts.SpareLocation,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// SetBadgeRefresher wires the badge recompute trigger.
func (s *Service) SetBadgeRefresher(b BadgeRefresher) {
	s.badges = b
}

// CreateTasks creates pending items for a picker in its own transaction.
func (s *Service) CreateTasks(ctx context.Context, actor shared.Actor, in CreateTasksInput) ([]Item, error) {
	if err := s.authorize(ctx, actor, shared.PermFulfillmentDispatch); err != nil {
		return nil, err
	}
	var created []Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = s.CreateTasksTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tasks created",
		slog.String("order_id", in.OrderID),
		slog.String("assigned_to", in.AssignedTo),
		slog.Int("items", len(created)))
	s.refreshBadges(ctx)
	return s.sorted(created), nil
}

// CreateTasksTx creates items inside the caller's transaction, one per line in
// line order. It refuses when the order already has tasks.
func (s *Service) CreateTasksTx(ctx context.Context, w TaskWriter, in CreateTasksInput) ([]Item, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	orderID := strings.TrimSpace(in.OrderID)
	if err := w.LockOrder(ctx, orderID); err != nil {
		return nil, err
	}
	exists, err := w.OrderHasTasks(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyDispatched
	}
	now := s.now().UTC()
	items := make([]Item, 0, len(in.Lines))
	for _, l := range in.Lines {
		items = append(items, Item{
			ID:          uuid.New(),
			OrderID:     orderID,
			ProductCode: strings.TrimSpace(l.ProductCode),
			ProductName: l.ProductName,
			Location:    strings.TrimSpace(l.Location),
			Qty:         l.Qty,
			Status:      StatusPending,
			AssignedTo:  strings.TrimSpace(in.AssignedTo),
			CreatedAt:   now,
		})
	}
	created, err := w.InsertItems(ctx, items)
	if err != nil {
		return nil, err
	}
	source := in.Source
	if source == "" {
		source = "manual"
	}
	s.metrics.TasksCreated(source, len(created))
	return created, nil
}

// Dispatch assigns a work order to a picker.
func (s *Service) Dispatch(ctx context.Context, actor shared.Actor, order WorkOrder) ([]Item, error) {
	lines := DispatchLines(order, s.spare)
	if len(lines) == 0 {
		return nil, shared.Invalid("lines", "no pickable lines in work order")
	}
	return s.CreateTasks(ctx, actor, CreateTasksInput{
		OrderID:    order.OrderID,
		AssignedTo: order.AssignedTo,
		Source:     "work_order",
		Lines:      lines,
	})
}

// ListTasks returns the items of an order in walk order.
func (s *Service) ListTasks(ctx context.Context, actor shared.Actor, orderID string) ([]Item, error) {
	if err := s.authorize(ctx, actor, shared.PermFulfillmentView); err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	return s.sorted(items), nil
}

// WorkQueue returns the picker's workable items for the order in walk order.
func (s *Service) WorkQueue(ctx context.Context, actor shared.Actor, orderID, picker string) ([]Item, error) {
	items, err := s.ListTasks(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	return WorkQueue(items, picker), nil
}

// Progress counts the order's items by status.
func (s *Service) Progress(ctx context.Context, actor shared.Actor, orderID string) (OrderProgress, error) {
	if err := s.authorize(ctx, actor, shared.PermFulfillmentView); err != nil {
		return OrderProgress{}, err
	}
	items, err := s.repo.ListItems(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return OrderProgress{}, err
	}
	return Progress(orderID, items), nil
}

// Pick marks a workable item picked.
func (s *Service) Pick(ctx context.Context, actor shared.Actor, itemID uuid.UUID) (Item, error) {
	if err := s.authorize(ctx, actor, shared.PermFulfillmentPick); err != nil {
		return Item{}, err
	}
	return s.transition(ctx, itemID, func(it Item, _ []Item, now time.Time) (Item, error) {
		if err := s.ensureAssignee(actor, it); err != nil {
			return it, err
		}
		return it.pick(now)
	})
}

// OutOfStock declares a workable item out of stock and alerts staff.
func (s *Service) OutOfStock(ctx context.Context, actor shared.Actor, itemID uuid.UUID) (Item, error) {
	if err := s.authorize(ctx, actor, shared.PermFulfillmentPick); err != nil {
		return Item{}, err
	}
	item, err := s.transition(ctx, itemID, func(it Item, _ []Item, now time.Time) (Item, error) {
		if err := s.ensureAssignee(actor, it); err != nil {
			return it, err
		}
		return it.declareOutOfStock(now)
	})
	if err != nil {
		return Item{}, err
	}
	s.notify(ctx, newNotification(OutOfStockNotification, item.OrderID, actor.ID, "", s.now().UTC()))
	return item, nil
}

// Inspect records the inspector verdict for a picked item. Inspection is
// refused while any item of the order is still pending.
func (s *Service) Inspect(ctx context.Context, actor shared.Actor, itemID uuid.UUID, result Status) (Item, error) {
	if err := s.authorize(ctx, actor, shared.PermFulfillmentInspect); err != nil {
		return Item{}, err
	}
	if !result.InspectionResult() {
		return Item{}, shared.Invalid("result", "must be one of correct wrong not_find")
	}
	return s.transition(ctx, itemID, func(it Item, order []Item, _ time.Time) (Item, error) {
		if hasPending(order) {
			return it, ErrOrderNotReady
		}
		return it.inspect(result)
	})
}

// DeleteTask removes an item. The remaining items are evaluated for first check.
func (s *Service) DeleteTask(ctx context.Context, actor shared.Actor, itemID uuid.UUID) error {
	if err := s.authorize(ctx, actor, shared.PermFulfillmentDelete); err != nil {
		return err
	}
	var (
		summary  kpi.Summary
		captured bool
		orderID  string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		orderID, err = tx.OrderIDForItem(ctx, itemID)
		if err != nil {
			return err
		}
		if err := tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return err
		}
		remaining, err := tx.ListOrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		summary, captured, err = s.capture(ctx, tx, orderID, remaining)
		return err
	})
	if err != nil {
		return s.mapCommit(err, orderID)
	}
	s.logger.Info("task deleted", slog.String("item_id", itemID.String()), slog.String("actor", actor.ID))
	s.afterCommit(ctx, summary, captured)
	return nil
}

type transitionFunc func(item Item, order []Item, now time.Time) (Item, error)

// transition applies fn to one item under the order lock and evaluates first
// check in the same transaction. On any failure the item keeps its prior status.
func (s *Service) transition(ctx context.Context, itemID uuid.UUID, fn transitionFunc) (Item, error) {
	var (
		updated  Item
		summary  kpi.Summary
		captured bool
		orderID  string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		orderID, err = tx.OrderIDForItem(ctx, itemID)
		if err != nil {
			return err
		}
		if err := tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
		item, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		order, err := tx.ListOrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		updated, err = fn(item, order, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateItem(ctx, updated); err != nil {
			return err
		}
		for i := range order {
			if order[i].ID == updated.ID {
				order[i] = updated
			}
		}
		summary, captured, err = s.capture(ctx, tx, orderID, order)
		if err != nil {
			return err
		}
		if Progress(orderID, order).FullyChecked {
			if err := tx.FillOrderEndTime(ctx, orderID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Item{}, s.mapCommit(err, orderID)
	}
	s.metrics.StatusTransition(string(updated.Status))
	s.logger.Debug("item status changed",
		slog.String("item_id", updated.ID.String()),
		slog.String("order_id", updated.OrderID),
		slog.String("status", string(updated.Status)))
	s.afterCommit(ctx, summary, captured)
	return updated, nil
}

func (s *Service) capture(ctx context.Context, tx TxRepository, orderID string, items []Item) (kpi.Summary, bool, error) {
	if s.kpi == nil {
		return kpi.Summary{}, false, nil
	}
	return s.kpi.Capture(ctx, tx.Summaries(), orderID, outcomes(items))
}

func (s *Service) afterCommit(ctx context.Context, summary kpi.Summary, captured bool) {
	if captured && s.kpi != nil {
		s.kpi.Captured(ctx, summary)
	}
}

// mapCommit turns an ambiguous commit into a reconciliation failure.
func (s *Service) mapCommit(err error, orderID string) error {
	if errors.Is(err, db.ErrCommitFailed) {
		s.logger.Error("fulfillment commit outcome unknown", slog.String("order_id", orderID), slog.Any("error", err))
		return fmt.Errorf("fulfillment: order %s: %w: %w", orderID, shared.ErrReconciliationRequired, err)
	}
	return err
}

func (s *Service) ensureAssignee(actor shared.Actor, it Item) error {
	if actor.Role != shared.RolePicker || it.AssignedTo == actor.ID {
		return nil
	}
	return ErrNotAssignee
}

func (s *Service) authorize(ctx context.Context, actor shared.Actor, perms ...string) error {
	if s.authz == nil {
		return nil
	}
	return s.authz.Authorize(ctx, actor, perms...)
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.sink != nil {
		if err := s.sink.Notify(ctx, n); err != nil {
			s.logger.Warn("notify staff", slog.String("order_id", n.OrderID), slog.String("type", n.Type), slog.Any("error", err))
		}
	}
	s.refreshBadges(ctx)
}

func (s *Service) refreshBadges(ctx context.Context) {
	if s.badges != nil {
		s.badges.RequestRecompute(ctx)
	}
}

func (s *Service) sorted(items []Item) []Item {
	out := append([]Item(nil), items...)
	s.sorter.Sort(out)
	return out
}

func validateCreate(in CreateTasksInput) error {
	var errs shared.ValidationErrors
	if strings.TrimSpace(in.OrderID) == "" {
		errs = append(errs, shared.ValidationError{Field: "order_id", Reason: "is required"})
	}
	if strings.TrimSpace(in.AssignedTo) == "" {
		errs = append(errs, shared.ValidationError{Field: "assigned_to", Reason: "is required"})
	}
	if len(in.Lines) == 0 {
		errs = append(errs, shared.ValidationError{Field: "lines", Reason: "at least one line is required"})
	}
	for i, l := range in.Lines {
		if strings.TrimSpace(l.ProductCode) == "" {
			errs = append(errs, shared.ValidationError{Field: fmt.Sprintf("lines[%d].product_code", i), Reason: "is required"})
		}
		if l.Qty <= 0 {
			errs = append(errs, shared.ValidationError{Field: fmt.Sprintf("lines[%d].qty", i), Reason: "must be greater than zero"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
