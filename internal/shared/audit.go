package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is a free-form record of a side effect: a ledger movement or a
// workflow decision, with its details in Meta.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger appends to audit_logs. Callers treat failures as warnings.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("audit %s: logger not initialised", entry.Action)
	}
	var missing ValidationErrors
	for field, v := range map[string]string{"action": entry.Action, "entity": entry.Entity, "entity_id": entry.EntityID} {
		if v == "" {
			missing = append(missing, ValidationError{Field: field, Reason: "is required"})
		}
	}
	if len(missing) > 0 {
		return missing
	}
	meta := []byte("{}")
	if len(entry.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(entry.Meta); err != nil {
			return fmt.Errorf("audit %s: encode meta: %w", entry.Action, err)
		}
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at)
	return err
}
