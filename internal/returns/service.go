package returns

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

const module = "return"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Return, error)
	List(ctx context.Context, filter ListFilter) ([]Return, error)
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

// Service runs the return workflow.
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
	now         func() time.Time
}

// NewService constructs return service.
func NewService(repo RepositoryPort, ledger LedgerPort, authz Authorizer, approvals ApprovalPort, audit AuditPort, idem IdempotencyPort, metrics *observability.WorkflowMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, authz: authz, approvals: approvals, audit: audit, idempotency: idem, metrics: metrics, logger: logger, now: time.Now}
}

// SetBadgeRefresher wires the badge recompute trigger.
func (s *Service) SetBadgeRefresher(b BadgeRefresher) {
	s.badges = b
}

// Submit creates a pending return request.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, in SubmitInput) (Return, error) {
	if err := s.authorize(ctx, actor, shared.PermReturnCreate); err != nil {
		return Return{}, err
	}
	if err := validateSubmit(in); err != nil {
		return Return{}, err
	}
	now := s.now()
	ret := Return{
		ID:        uuid.New(),
		Status:    StatusPending,
		CreatedBy: actor.ID,
		Reason:    strings.TrimSpace(in.Reason),
		Notes:     strings.TrimSpace(in.Notes),
		CreatedAt: now,
	}
	for _, it := range in.Items {
		ret.Items = append(ret.Items, Item{
			ID:          uuid.New(),
			ProductCode: strings.TrimSpace(it.ProductCode),
			ProductName: strings.TrimSpace(it.ProductName),
			Qty:         it.Qty,
		})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, now)
		if err != nil {
			return err
		}
		ret.Number = number
		return tx.Insert(ctx, ret)
	})
	if err != nil {
		return Return{}, err
	}
	s.record(ctx, actor, ret, shared.ApprovalSubmit, "")
	s.refreshBadges(ctx)
	return ret, nil
}

// Approve restocks every line and marks the return approved in one transaction.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id uuid.UUID, idempotencyKey string) (Return, error) {
	return s.decide(ctx, actor, id, idempotencyKey, shared.ApprovalApprove, "", func(ctx context.Context, tx TxRepository, ret *Return) error {
		moves := make([]inventory.MovementInput, 0, len(ret.Items))
		for _, it := range ret.Items {
			moves = append(moves, inventory.MovementInput{
				ProductCode: it.ProductCode,
				Type:        inventory.MovementRestock,
				Qty:         it.Qty,
				RefType:     module,
				RefID:       ret.Number,
				Note:        ret.Reason,
				ActorID:     actor.ID,
			})
		}
		inventory.SortForLocking(moves)
		for _, in := range moves {
			if _, err := s.ledger.Apply(ctx, tx.Ledger(), in); err != nil {
				return fmt.Errorf("restock %s: %w", in.ProductCode, err)
			}
		}
		ret.Status = StatusApproved
		return nil
	})
}

// Reject ends a pending return without ledger effect.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id uuid.UUID, note, idempotencyKey string) (Return, error) {
	return s.decide(ctx, actor, id, idempotencyKey, shared.ApprovalReject, note, func(_ context.Context, _ TxRepository, ret *Return) error {
		ret.Status = StatusRejected
		return nil
	})
}

func (s *Service) decide(ctx context.Context, actor shared.Actor, id uuid.UUID, idempotencyKey string, action shared.ApprovalAction, note string, fn func(context.Context, TxRepository, *Return) error) (Return, error) {
	if err := s.authorize(ctx, actor, shared.PermReturnApprove); err != nil {
		return Return{}, err
	}
	release, err := s.claim(ctx, idempotencyKey)
	if err != nil {
		return Return{}, err
	}
	var ret Return
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ret.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		if err := fn(ctx, tx, &ret); err != nil {
			return err
		}
		at := s.now()
		ret.ApprovedBy = actor.ID
		ret.ApprovedAt = &at
		return tx.UpdateDecision(ctx, ret)
	})
	if err != nil {
		if errors.Is(err, db.ErrCommitFailed) {
			s.logger.Error("return commit outcome unknown", slog.String("return_id", id.String()), slog.Any("error", err))
			return Return{}, fmt.Errorf("return %s: %w: %w", id, shared.ErrReconciliationRequired, err)
		}
		release()
		return Return{}, err
	}
	s.record(ctx, actor, ret, action, note)
	s.refreshBadges(ctx)
	return ret, nil
}

// Get returns one return request.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (Return, error) {
	if err := s.authorize(ctx, actor, shared.PermReturnView, shared.PermReturnCreate); err != nil {
		return Return{}, err
	}
	return s.repo.Get(ctx, id)
}

// History returns the decision trail of one return, oldest first.
func (s *Service) History(ctx context.Context, actor shared.Actor, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.History(ctx, module, id)
}

// List returns return requests matching filter.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Return, error) {
	if err := s.authorize(ctx, actor, shared.PermReturnView, shared.PermReturnCreate); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, filter)
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

func (s *Service) record(ctx context.Context, actor shared.Actor, ret Return, action shared.ApprovalAction, note string) {
	s.metrics.Decision(module, strings.ToLower(string(action)))
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: module, RefID: ret.ID, ActorID: actor.ID, ActorRole: actor.Role, Action: action, Note: note}); err != nil {
			s.logger.Warn("record return approval", slog.String("return_id", ret.ID.String()), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "return:" + strings.ToLower(string(action)),
			Entity:   module,
			EntityID: ret.ID.String(),
			Meta:     map[string]any{"return_no": ret.Number, "status": ret.Status, "lines": len(ret.Items)},
		}); err != nil {
			s.logger.Warn("audit return", slog.String("return_id", ret.ID.String()), slog.Any("error", err))
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
