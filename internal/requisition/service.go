package requisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-wms/internal/observability"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

const module = "requisition"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Requisition, error)
	List(ctx context.Context, filter ListFilter) ([]Requisition, error)
	ListTopics(ctx context.Context) ([]Topic, error)
}

// TaskCreator creates fulfillment tasks inside the approval transaction.
type TaskCreator interface {
	CreateTasksTx(ctx context.Context, w fulfillment.TaskWriter, in fulfillment.CreateTasksInput) ([]fulfillment.Item, error)
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

// Service runs the requisition workflow.
type Service struct {
	repo        RepositoryPort
	tasks       TaskCreator
	authz       Authorizer
	approvals   ApprovalPort
	audit       AuditPort
	idempotency IdempotencyPort
	badges      BadgeRefresher
	metrics     *observability.WorkflowMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs requisition service.
func NewService(repo RepositoryPort, tasks TaskCreator, authz Authorizer, approvals ApprovalPort, audit AuditPort, idem IdempotencyPort, metrics *observability.WorkflowMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tasks: tasks, authz: authz, approvals: approvals, audit: audit, idempotency: idem, metrics: metrics, logger: logger, now: time.Now}
}

// SetBadgeRefresher wires the badge recompute trigger.
func (s *Service) SetBadgeRefresher(b BadgeRefresher) {
	s.badges = b
}

// Submit creates a pending requisition. Every line needs a topic and the
// request needs notes; nothing is stored when any of that is missing.
func (s *Service) Submit(ctx context.Context, actor shared.Actor, in SubmitInput) (Requisition, error) {
	if err := s.authorize(ctx, actor, shared.PermRequisitionCreate); err != nil {
		return Requisition{}, err
	}
	if err := validateSubmit(in); err != nil {
		return Requisition{}, err
	}
	now := s.now()
	req := Requisition{
		ID:        uuid.New(),
		Status:    StatusPending,
		CreatedBy: actor.ID,
		Notes:     strings.TrimSpace(in.Notes),
		CreatedAt: now,
	}
	for _, it := range in.Items {
		req.Items = append(req.Items, Item{
			ID:          uuid.New(),
			ProductCode: strings.TrimSpace(it.ProductCode),
			ProductName: it.ProductName,
			Location:    strings.TrimSpace(it.Location),
			Qty:         it.Qty,
			Topic:       strings.TrimSpace(it.Topic),
		})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, now)
		if err != nil {
			return err
		}
		req.Number = number
		return tx.Insert(ctx, req)
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordDecision(ctx, actor, req, shared.ApprovalSubmit, "")
	s.refreshBadges(ctx)
	return req, nil
}

// Approve marks the requisition approved and creates one pending task per
// line for the picker, in one transaction. The ledger is not touched.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id uuid.UUID, pickerID, idempotencyKey string) (Requisition, []fulfillment.Item, error) {
	if err := s.authorize(ctx, actor, shared.PermRequisitionApprove); err != nil {
		return Requisition{}, nil, err
	}
	pickerID = strings.TrimSpace(pickerID)
	if pickerID == "" {
		return Requisition{}, nil, shared.Invalid("assigned_to", "is required")
	}
	release, err := s.claim(ctx, idempotencyKey)
	if err != nil {
		return Requisition{}, nil, err
	}
	var (
		req   Requisition
		tasks []fulfillment.Item
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		at := s.now()
		req.Status = StatusApproved
		req.ApprovedBy = actor.ID
		req.ApprovedAt = &at
		req.AssignedTo = pickerID
		if err := tx.UpdateDecision(ctx, req); err != nil {
			return err
		}
		lines := make([]fulfillment.TaskLine, 0, len(req.Items))
		for _, it := range req.Items {
			lines = append(lines, fulfillment.TaskLine{
				ProductCode: it.ProductCode,
				ProductName: it.ProductName,
				Location:    it.Location,
				Qty:         it.Qty,
			})
		}
		tasks, err = s.tasks.CreateTasksTx(ctx, tx.Tasks(), fulfillment.CreateTasksInput{
			OrderID:    req.Number,
			AssignedTo: pickerID,
			Source:     module,
			Lines:      lines,
		})
		return err
	})
	if err != nil {
		return Requisition{}, nil, s.fail(ctx, err, id, release)
	}
	s.recordDecision(ctx, actor, req, shared.ApprovalApprove, pickerID)
	s.refreshBadges(ctx)
	return req, tasks, nil
}

// Reject marks the requisition rejected without side effects.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id uuid.UUID, note, idempotencyKey string) (Requisition, error) {
	if err := s.authorize(ctx, actor, shared.PermRequisitionApprove); err != nil {
		return Requisition{}, err
	}
	release, err := s.claim(ctx, idempotencyKey)
	if err != nil {
		return Requisition{}, err
	}
	var req Requisition
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		at := s.now()
		req.Status = StatusRejected
		req.ApprovedBy = actor.ID
		req.ApprovedAt = &at
		return tx.UpdateDecision(ctx, req)
	})
	if err != nil {
		return Requisition{}, s.fail(ctx, err, id, release)
	}
	s.recordDecision(ctx, actor, req, shared.ApprovalReject, note)
	s.refreshBadges(ctx)
	return req, nil
}

// Get returns one requisition.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (Requisition, error) {
	if err := s.authorize(ctx, actor, shared.PermRequisitionView, shared.PermRequisitionCreate); err != nil {
		return Requisition{}, err
	}
	return s.repo.Get(ctx, id)
}

// History returns the decision trail of one requisition, oldest first.
func (s *Service) History(ctx context.Context, actor shared.Actor, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.History(ctx, module, id)
}

// List returns requisitions matching filter.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Requisition, error) {
	if err := s.authorize(ctx, actor, shared.PermRequisitionView, shared.PermRequisitionCreate); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, filter)
}

// Topics returns the classification catalogue.
func (s *Service) Topics(ctx context.Context) ([]Topic, error) {
	return s.repo.ListTopics(ctx)
}

// claim reserves the idempotency key and returns its release function.
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
// An ambiguous commit keeps the key and is reported for reconciliation.
func (s *Service) fail(ctx context.Context, err error, id uuid.UUID, release func()) error {
	if errors.Is(err, db.ErrCommitFailed) {
		s.logger.Error("requisition commit outcome unknown", slog.String("requisition_id", id.String()), slog.Any("error", err))
		return fmt.Errorf("requisition %s: %w: %w", id, shared.ErrReconciliationRequired, err)
	}
	release()
	return err
}

func (s *Service) recordDecision(ctx context.Context, actor shared.Actor, req Requisition, action shared.ApprovalAction, note string) {
	s.metrics.Decision(module, strings.ToLower(string(action)))
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{Module: module, RefID: req.ID, ActorID: actor.ID, ActorRole: actor.Role, Action: action, Note: note}); err != nil {
			s.logger.Warn("record requisition approval", slog.String("requisition_id", req.ID.String()), slog.Any("error", err))
		}
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   fmt.Sprintf("requisition:%s", strings.ToLower(string(action))),
			Entity:   module,
			EntityID: req.ID.String(),
			Meta: map[string]any{
				"requisition_no": req.Number,
				"status":         req.Status,
				"items":          len(req.Items),
				"note":           note,
			},
		}); err != nil {
			s.logger.Warn("audit requisition", slog.String("requisition_id", req.ID.String()), slog.Any("error", err))
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
