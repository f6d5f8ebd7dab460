package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

const idempotencyModule = "inventory"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, productCode string) (Balance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards replays of client requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Service is the inventory ledger.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     *observability.WorkflowMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, metrics *observability.WorkflowMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics, logger: logger, now: time.Now}
}

// Apply performs one movement inside a transaction owned by the caller. The
// balance row is locked for the remainder of that transaction.
func (s *Service) Apply(ctx context.Context, tx TxRepository, in MovementInput) (Movement, error) {
	in.ProductCode = strings.TrimSpace(in.ProductCode)
	if in.ProductCode == "" {
		return Movement{}, ErrProductRequired
	}
	if !in.Type.Valid() {
		return Movement{}, ErrUnknownMovement
	}
	balance, err := tx.GetBalanceForUpdate(ctx, in.ProductCode)
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return Movement{}, err
	}
	if errors.Is(err, ErrBalanceNotFound) {
		balance = Balance{ProductCode: in.ProductCode}
	}
	next, err := apply(balance, in)
	if err != nil {
		return Movement{}, err
	}
	if err := tx.UpsertBalance(ctx, next); err != nil {
		return Movement{}, err
	}
	movement := Movement{
		ProductCode:   in.ProductCode,
		Type:          in.Type,
		Qty:           in.Qty,
		OnHandAfter:   next.OnHand,
		ReservedAfter: next.Reserved,
		RefType:       in.RefType,
		RefID:         in.RefID,
		Note:          in.Note,
		ActorID:       in.ActorID,
		CreatedAt:     s.now().UTC(),
	}
	id, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return Movement{}, err
	}
	movement.ID = id
	s.metrics.LedgerMovement(string(in.Type))
	if next.BelowSafetyStock() {
		s.logger.Warn("stock below safety level",
			slog.String("product_code", next.ProductCode),
			slog.Float64("available", next.Available()),
			slog.Float64("safety_stock", next.SafetyStock))
	}
	return movement, nil
}

// Post applies a standalone movement in its own transaction, guarded by the
// optional idempotency key.
func (s *Service) Post(ctx context.Context, in MovementInput) (Movement, error) {
	insertedKey := false
	if in.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = s.Apply(ctx, tx, in)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, in.IdempotencyKey, idempotencyModule)
		}
		return Movement{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   fmt.Sprintf("inventory:%s", in.Type),
			Entity:   "inventory_movement",
			EntityID: fmt.Sprintf("%d", movement.ID),
			Meta: map[string]any{
				"product_code": in.ProductCode,
				"qty":          in.Qty,
				"ref_type":     in.RefType,
				"ref_id":       in.RefID,
				"note":         in.Note,
			},
		}); err != nil {
			s.logger.Warn("audit inventory movement", slog.Any("error", err))
		}
	}
	return movement, nil
}

// Balance returns the current balance; unknown products report zero stock.
func (s *Service) Balance(ctx context.Context, productCode string) (Balance, error) {
	productCode = strings.TrimSpace(productCode)
	if productCode == "" {
		return Balance{}, ErrProductRequired
	}
	balance, err := s.repo.GetBalance(ctx, productCode)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{ProductCode: productCode}, nil
	}
	return balance, err
}

// Movements lists journal rows.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}
