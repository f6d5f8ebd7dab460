package borrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

const module = "borrow"

// DefaultLoanDays is used when no due date is supplied.
const DefaultLoanDays = 7

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Borrow, error)
	List(ctx context.Context, filter ListFilter) ([]Borrow, error)
	ListOverdue(ctx context.Context, today time.Time) ([]Borrow, error)
}

// LedgerPort applies stock movements inside the workflow transaction.
type LedgerPort interface {
	Apply(ctx context.Context, tx inventory.TxRepository, in inventory.MovementInput) (inventory.Movement, error)
}

// Authorizer checks actor permissions.
type Authorizer interface {
	Authorize(ctx context.Context, actor shared.Actor, perms ...string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records decision history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	History(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// IdempotencyPort guards replays of client requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// BadgeRefresher is told when derived counters may have changed.
type BadgeRefresher interface {
	RequestRecompute(ctx context.Context)
}

// Service runs the borrow workflow.
type Service struct {
	repo        RepositoryPort
	ledger      LedgerPort
	authz       Authorizer
	approvals   ApprovalPort
	audit       AuditPort
	idempotency IdempotencyPort
	badges      BadgeRefresher
	metrics     *observability.WorkflowMetrics
	logger      *slog.Logger
	loanDays    int
	now         func() time.Time
}

// NewService constructs borrow service.
func NewService(repo RepositoryPort, ledger LedgerPort, authz Authorizer, approvals ApprovalPort, audit AuditPort, idem IdempotencyPort, metrics *observability.WorkflowMetrics, logger *slog.Logger, loanDays int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loanDays <= 0 {
		loanDays = DefaultLoanDays
	}
	return &Service{repo: repo, ledger: ledger, authz: authz, approvals: approvals, audit: audit, idempotency: idem, metrics: metrics, logger: logger, loanDays: loanDays, now: time.Now}
}

// SetBadgeRefresher wires the badge recompute trigger.
func (s *Service) SetBadgeRefresher(b BadgeRefresher) {
	s.badges = b
}

// Submit creates a pending borrow. Lines of the same product are merged.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, in SubmitInput) (Borrow, error) {
	if err := s.authorize(ctx, actor, shared.PermBorrowCreate); err != nil {
		return Borrow{}, err
	}
	now := s.now()
	today := dateOf(now)
	due := today.AddDate(0, 0, s.loanDays)
	if !in.DueDate.IsZero() {
		due = dateOf(in.DueDate)
	}
	var errs shared.ValidationErrors
	if due.Before(today) {
		errs = append(errs, shared.ValidationError{Field: "due_date", Reason: "must not be in the past"})
	}
	if len(in.Items) == 0 {
		errs = append(errs, shared.ValidationError{Field: "items", Reason: "at least one item is required"})
	}
	b := Borrow{
		ID:        uuid.New(),
		Status:    StatusPending,
		CreatedBy: actor.ID,
		DueDate:   due,
		Notes:     strings.TrimSpace(in.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	byCode := make(map[string]int)
	for i, it := range in.Items {
		code := strings.TrimSpace(it.ProductCode)
		if code == "" {
			errs = append(errs, shared.ValidationError{Field: fmt.Sprintf("items[%d].product_code", i), Reason: "is required"})
			continue
		}
		if it.Qty <= 0 {
			errs = append(errs, shared.ValidationError{Field: fmt.Sprintf("items[%d].qty", i), Reason: "must be greater than zero"})
			continue
		}
		if idx, ok := byCode[code]; ok {
			b.Items[idx].Qty += it.Qty
			continue
		}
		byCode[code] = len(b.Items)
		b.Items = append(b.Items, Item{ID: uuid.New(), ProductCode: code, ProductName: it.ProductName, Qty: it.Qty})
	}
	if len(errs) > 0 {
		return Borrow{}, errs
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, now)
		if err != nil {
			return err
		}
		b.Number = number
		return tx.Insert(ctx, b)
	})
	if err != nil {
		return Borrow{}, err
	}
	s.record(ctx, actor, b, shared.ApprovalSubmit, "")
	s.refreshBadges(ctx)
	return b, nil
}

// Approve reserves every line and marks the borrow approved. Any reservation
// failure aborts the whole approval.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id uuid.UUID, idempotencyKey string) (Borrow, error) {
	return s.decide(ctx, actor, id, idempotencyKey, shared.PermBorrowApprove, shared.ApprovalApprove, "", func(ctx context.Context, tx TxRepository, b *Borrow) error {
		if b.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		moves := make([]inventory.MovementInput, 0, len(b.Items))
		for _, it := range b.Items {
			moves = append(moves, s.movement(actor, *b, it.ProductCode, it.Qty, inventory.MovementReserve))
		}
		inventory.SortForLocking(moves)
		for _, in := range moves {
			if _, err := s.ledger.Apply(ctx, tx.Ledger(), in); err != nil {
				return fmt.Errorf("reserve %s: %w", in.ProductCode, err)
			}
		}
		at := s.now()
		b.Status = StatusApproved
		b.ApprovedBy = actor.ID
		b.ApprovedAt = &at
		return nil
	})
}

// Reject ends a pending borrow without ledger effect.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id uuid.UUID, note, idempotencyKey string) (Borrow, error) {
	return s.decide(ctx, actor, id, idempotencyKey, shared.PermBorrowApprove, shared.ApprovalReject, note, func(ctx context.Context, tx TxRepository, b *Borrow) error {
		if b.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		at := s.now()
		b.Status = StatusRejected
		b.ApprovedBy = actor.ID
		b.ApprovedAt = &at
		return nil
	})
}

// Return brings borrowed quantities back. Every line is checked against its
// remaining quantity before any ledger call.
func (s *Service) Return(ctx context.Context, actor shared.Actor, id uuid.UUID, lines []ResolveLine, idempotencyKey string) (Borrow, error) {
	return s.resolve(ctx, actor, id, lines, idempotencyKey, false)
}

// WriteOff permanently deducts borrowed quantities that will not come back.
func (s *Service) WriteOff(ctx context.Context, actor shared.Actor, id uuid.UUID, lines []ResolveLine, idempotencyKey string) (Borrow, error) {
	return s.resolve(ctx, actor, id, lines, idempotencyKey, true)
}

func (s *Service) resolve(ctx context.Context, actor shared.Actor, id uuid.UUID, lines []ResolveLine, idempotencyKey string, writeOff bool) (Borrow, error) {
	perm, action, movementType := shared.PermBorrowReturn, shared.ApprovalReturn, inventory.MovementRestock
	if writeOff {
		perm, action, movementType = shared.PermBorrowWriteOff, shared.ApprovalWriteOff, inventory.MovementDeduct
	}
	return s.decide(ctx, actor, id, idempotencyKey, perm, action, "", func(ctx context.Context, tx TxRepository, b *Borrow) error {
		if !b.Outstanding() {
			return ErrNotOutstanding
		}
		items, err := applyResolution(*b, lines, writeOff)
		if err != nil {
			return err
		}
		moves := make([]inventory.MovementInput, 0, len(lines))
		for _, l := range lines {
			in := s.movement(actor, *b, strings.TrimSpace(l.ProductCode), l.Qty, movementType)
			in.FromReserved = true
			moves = append(moves, in)
		}
		inventory.SortForLocking(moves)
		for _, in := range moves {
			if _, err := s.ledger.Apply(ctx, tx.Ledger(), in); err != nil {
				return fmt.Errorf("%s %s: %w", movementType, in.ProductCode, err)
			}
		}
		if err := tx.UpdateItems(ctx, items); err != nil {
			return err
		}
		b.Items = items
		b.Status = statusAfterResolution(items)
		return nil
	})
}

type decision func(ctx context.Context, tx TxRepository, b *Borrow) error

// decide runs one state change under the row lock, stores the new status and
// records the decision after commit.
func (s *Service) decide(ctx context.Context, actor shared.Actor, id uuid.UUID, idempotencyKey, perm string, action shared.ApprovalAction, note string, fn decision) (Borrow, error) {
	if err := s.authorize(ctx, actor, perm); err != nil {
		return Borrow{}, err
	}
	release, err := s.claim(ctx, idempotencyKey)
	if err != nil {
		return Borrow{}, err
	}
	var b Borrow
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		b, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &b); err != nil {
			return err
		}
		b.UpdatedAt = s.now()
		return tx.UpdateStatus(ctx, b)
	})
	if err != nil {
		return Borrow{}, s.fail(err, id, release)
	}
	s.record(ctx, actor, b, action, note)
	s.refreshBadges(ctx)
	return b, nil
}

// Get returns one borrow.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (Borrow, error) {
	if err := s.authorize(ctx, actor, shared.PermBorrowView, shared.PermBorrowCreate); err != nil {
		return Borrow{}, err
	}
	return s.repo.Get(ctx, id)
}

// History returns the decision trail of one borrow, oldest first.
func (s *Service) History(ctx context.Context, actor shared.Actor, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.History(ctx, module, id)
}

// List returns borrows matching filter. Filtering by overdue uses the derived state.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Borrow, error) {
	if err := s.authorize(ctx, actor, shared.PermBorrowView, shared.PermBorrowCreate); err != nil {
		return nil, err
	}
	if filter.Status == StatusOverdue {
		return s.repo.ListOverdue(ctx, s.now())
	}
	return s.repo.List(ctx, filter)
}

// ListOverdue returns outstanding borrows past their due date.
func (s *Service) ListOverdue(ctx context.Context, today time.Time) ([]Borrow, error) {
	return s.repo.ListOverdue(ctx, today)
}

// Today returns the service clock's date, used for display status.
func (s *Service) Today() time.Time {
	return dateOf(s.now())
}

func (s *Service) movement(actor shared.Actor, b Borrow, productCode string, qty float64, t inventory.MovementType) inventory.MovementInput {
	return inventory.MovementInput{
		ProductCode: productCode,
		Type:        t,
		Qty:         qty,
		RefType:     module,
		RefID:       b.Number,
		ActorID:     actor.ID,
	}
}

func (s *Service) claim(ctx context.Context, key string) (func(), error) {
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		return nil, err
	}
	return func() { _ = s.idempotency.Delete(ctx, key, module) }, nil
}

// fail releases the idempotency key when the transaction surely rolled back.
// An ambiguous commit after ledger calls keeps the key and asks for reconciliation.
func (s *Service) fail(err error, id uuid.UUID, release func()) error {
	if errors.Is(err, db.ErrCommitFailed) {
		s.logger.Error("borrow commit outcome unknown", slog.String("borrow_id", id.String()), slog.Any("error", err))
		return fmt.Errorf("borrow %s: %w: %w", id, shared.ErrReconciliationRequired, err)
	}
	release()
	return err
}

func (s *Service) record(ctx context.Context, actor shared.Actor, b Borrow, action shared.ApprovalAction, note string) {
	s.metrics.Decision(module, strings.ToLower(string(action)))
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: module, RefID: b.ID, ActorID: actor.ID, ActorRole: actor.Role, Action: action, Note: note}); err != nil {
			s.logger.Warn("record borrow approval", slog.String("borrow_id", b.ID.String()), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   fmt.Sprintf("borrow:%s", strings.ToLower(string(action))),
			Entity:   module,
			EntityID: b.ID.String(),
			Meta: map[string]any{
				"borrow_no": b.Number,
				"status":    b.Status,
				"due_date":  b.DueDate.Format(time.DateOnly),
			},
		}); err != nil {
			s.logger.Warn("audit borrow", slog.String("borrow_id", b.ID.String()), slog.Any("error", err))
		}
	}
}

func (s *Service) authorize(ctx context.Context, actor shared.Actor, perms ...string) error {
	if s.authz == nil {
		return nil
	}
	return s.authz.Authorize(ctx, actor, perms...)
}

func (s *Service) refreshBadges(ctx context.Context) {
	if s.badges != nil {
		s.badges.RequestRecompute(ctx)
	}
}
