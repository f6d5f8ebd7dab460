package badges

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository counts badge sources directly from the workflow tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

// PendingRequisitions counts requisitions awaiting a decision.
func (r *Repository) PendingRequisitions(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM wms_requisitions WHERE status = 'pending'`)
}

// PendingBorrows counts borrows awaiting a decision.
func (r *Repository) PendingBorrows(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM wms_borrow_requisitions WHERE status = 'pending'`)
}

// OverdueBorrows counts outstanding borrows due before today.
func (r *Repository) OverdueBorrows(ctx context.Context, today time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM wms_borrow_requisitions
WHERE status IN ('approved', 'partial_returned') AND due_date < $1::date`, today)
}

// PendingReturns counts return requests awaiting a decision.
func (r *Repository) PendingReturns(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM wms_return_requisitions WHERE status = 'pending'`)
}

// UnreadNotifications counts staff notifications nobody has opened.
func (r *Repository) UnreadNotifications(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM wms_notifications WHERE status = 'unread'`)
}
