package shared

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction is one step in a workflow decision trail.
type ApprovalAction string

const (
	ApprovalSubmit   ApprovalAction = "SUBMIT"
	ApprovalApprove  ApprovalAction = "APPROVE"
	ApprovalReject   ApprovalAction = "REJECT"
	ApprovalReturn   ApprovalAction = "RETURN"
	ApprovalWriteOff ApprovalAction = "WRITE_OFF"
)

// ApprovalLog is one entry of the decision trail of a requisition, borrow or return.
type ApprovalLog struct {
	ID        int64          `json:"id"`
	Module    string         `json:"module"`
	RefID     uuid.UUID      `json:"ref_id"`
	ActorID   string         `json:"actor_id"`
	ActorRole Role           `json:"actor_role,omitempty"`
	Action    ApprovalAction `json:"action"`
	Note      string         `json:"note,omitempty"`
	At        time.Time      `json:"at"`
}

func (l ApprovalLog) validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(l.Module) == "" {
		errs = append(errs, ValidationError{Field: "module", Reason: "is required"})
	}
	if l.RefID == uuid.Nil {
		errs = append(errs, ValidationError{Field: "ref_id", Reason: "is required"})
	}
	if strings.TrimSpace(l.ActorID) == "" {
		errs = append(errs, ValidationError{Field: "actor_id", Reason: "is required"})
	}
	if l.Action == "" {
		errs = append(errs, ValidationError{Field: "action", Reason: "is required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ApprovalRecorder stores the decision trail in wms_approval_logs.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{pool: pool, logger: logger}
}

var errRecorderNotReady = errors.New("approval recorder not initialised")

// Record appends one entry. A zero At uses the database clock.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil || r.pool == nil {
		return errRecorderNotReady
	}
	if err := log.validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO wms_approval_logs (module, ref_id, actor_id, actor_role, action, note, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		log.Module, log.RefID, log.ActorID, string(log.ActorRole), string(log.Action), log.Note, at)
	if err != nil {
		r.logger.Error("record approval",
			slog.String("module", log.Module),
			slog.String("ref_id", log.RefID.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}

// History returns the trail of one document, oldest first.
func (r *ApprovalRecorder) History(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil || r.pool == nil {
		return nil, errRecorderNotReady
	}
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, actor_id, actor_role, action, note, recorded_at
FROM wms_approval_logs WHERE module=$1 AND ref_id=$2 ORDER BY id`, module, ref)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ApprovalLog, error) {
		var (
			l      ApprovalLog
			role   string
			action string
		)
		err := row.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &role, &action, &l.Note, &l.At)
		l.ActorRole = Role(role)
		l.Action = ApprovalAction(action)
		return l, err
	})
}
