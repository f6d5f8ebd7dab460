package borrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/inventory"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// TxRepository exposes transactional borrow operations.
type TxRepository interface {
	NextNumber(ctx context.Context, at time.Time) (string, error)
	Insert(ctx context.Context, b Borrow) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Borrow, error)
	UpdateStatus(ctx context.Context, b Borrow) error
	UpdateItems(ctx context.Context, items []Item) error
	Ledger() inventory.TxRepository
}

// Repository persists borrows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("borrow repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// NextNumber allocates BOR-YYYYMMDD-NNN under the day's advisory lock.
func (t *txRepository) NextNumber(ctx context.Context, at time.Time) (string, error) {
	start, end := shared.DayBounds(at)
	if err := db.AdvisoryXactLock(ctx, t.tx, shared.DocNumberLockKey(shared.DocPrefixBorrow, start)); err != nil {
		return "", err
	}
	var count int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM wms_borrow_requisitions WHERE created_at >= $1 AND created_at < $2`, start, end).Scan(&count); err != nil {
		return "", err
	}
	return shared.FormatDocNumber(shared.DocPrefixBorrow, start, count+1), nil
}

func (t *txRepository) Insert(ctx context.Context, b Borrow) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO wms_borrow_requisitions (id, borrow_no, status, created_by, due_date, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`, b.ID, b.Number, string(b.Status), b.CreatedBy, b.DueDate, b.Notes, b.CreatedAt)
	if err != nil {
		return err
	}
	for _, it := range b.Items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO wms_borrow_items (id, borrow_id, product_code, product_name, qty)
VALUES ($1, $2, $3, $4, $5)`, it.ID, b.ID, it.ProductCode, it.ProductName, it.Qty); err != nil {
			return fmt.Errorf("insert borrow item %s: %w", it.ProductCode, err)
		}
	}
	return nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Borrow, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM wms_borrow_requisitions WHERE id=$1 FOR UPDATE`, id)
	b, err := scanHeader(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Borrow{}, ErrNotFound
	}
	if err != nil {
		return Borrow{}, err
	}
	b.Items, err = loadItems(ctx, t.tx, id)
	return b, err
}

func (t *txRepository) UpdateStatus(ctx context.Context, b Borrow) error {
	_, err := t.tx.Exec(ctx, `UPDATE wms_borrow_requisitions
SET status=$2, approved_by=NULLIF($3, ''), approved_at=$4, updated_at=$5
WHERE id=$1`, b.ID, string(b.Status), b.ApprovedBy, b.ApprovedAt, b.UpdatedAt)
	return err
}

func (t *txRepository) UpdateItems(ctx context.Context, items []Item) error {
	for _, it := range items {
		if _, err := t.tx.Exec(ctx, `UPDATE wms_borrow_items SET returned_qty=$2, written_off_qty=$3 WHERE id=$1`,
			it.ID, it.ReturnedQty, it.WrittenOffQty); err != nil {
			return fmt.Errorf("update borrow item %s: %w", it.ProductCode, err)
		}
	}
	return nil
}

func (t *txRepository) Ledger() inventory.TxRepository {
	return inventory.NewTxRepository(t.tx)
}

// Get loads one borrow with its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Borrow, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM wms_borrow_requisitions WHERE id=$1`, id)
	b, err := scanHeader(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Borrow{}, ErrNotFound
	}
	if err != nil {
		return Borrow{}, err
	}
	b.Items, err = loadItems(ctx, r.pool, id)
	return b, err
}

// List returns borrow headers newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Borrow, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conds = append(conds, fmt.Sprintf("created_by=$%d", len(args)))
	}
	query := `SELECT ` + headerColumns + ` FROM wms_borrow_requisitions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	return r.queryHeaders(ctx, query, args...)
}

// ListOverdue returns outstanding borrows whose due date is before today.
func (r *Repository) ListOverdue(ctx context.Context, today time.Time) ([]Borrow, error) {
	return r.queryHeaders(ctx, `SELECT `+headerColumns+` FROM wms_borrow_requisitions
WHERE status IN ('approved','partial_returned') AND due_date < $1
ORDER BY due_date`, dateOf(today))
}

func (r *Repository) queryHeaders(ctx context.Context, query string, args ...any) ([]Borrow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Borrow
	for rows.Next() {
		b, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const headerColumns = `id, borrow_no, status, created_by, COALESCE(approved_by, ''), approved_at, due_date, notes, created_at, updated_at`

func scanHeader(row pgx.Row) (Borrow, error) {
	var (
		b      Borrow
		status string
	)
	err := row.Scan(&b.ID, &b.Number, &status, &b.CreatedBy, &b.ApprovedBy, &b.ApprovedAt, &b.DueDate, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	b.Status = Status(status)
	return b, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, id uuid.UUID) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, seq, product_code, product_name, qty::float8, returned_qty::float8, written_off_qty::float8
FROM wms_borrow_items WHERE borrow_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Seq, &it.ProductCode, &it.ProductName, &it.Qty, &it.ReturnedQty, &it.WrittenOffQty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
