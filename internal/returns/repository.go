package returns

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

// TxRepository exposes transactional return operations.
type TxRepository interface {
	NextNumber(ctx context.Context, at time.Time) (string, error)
	Insert(ctx context.Context, ret Return) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Return, error)
	UpdateDecision(ctx context.Context, ret Return) error
	Ledger() inventory.TxRepository
}

// Repository persists return requests in PostgreSQL.
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
		return errors.New("return repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (t *txRepository) NextNumber(ctx context.Context, at time.Time) (string, error) {
	start, end := shared.DayBounds(at)
	if err := db.AdvisoryXactLock(ctx, t.tx, shared.DocNumberLockKey(shared.DocPrefixReturn, start)); err != nil {
		return "", err
	}
	var count int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM wms_return_requisitions WHERE created_at >= $1 AND created_at < $2`, start, end).Scan(&count); err != nil {
		return "", err
	}
	return shared.FormatDocNumber(shared.DocPrefixReturn, start, count+1), nil
}

func (t *txRepository) Insert(ctx context.Context, ret Return) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO wms_return_requisitions (id, return_no, status, created_by, reason, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, ret.ID, ret.Number, string(ret.Status), ret.CreatedBy, ret.Reason, ret.Notes, ret.CreatedAt)
	if err != nil {
		return err
	}
	for _, it := range ret.Items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO wms_return_items (id, return_id, product_code, product_name, qty)
VALUES ($1, $2, $3, $4, $5)`, it.ID, ret.ID, it.ProductCode, it.ProductName, it.Qty); err != nil {
			return fmt.Errorf("insert return item %s: %w", it.ProductCode, err)
		}
	}
	return nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Return, error) {
	ret, err := scanHeader(t.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM wms_return_requisitions WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, ErrNotFound
	}
	if err != nil {
		return Return{}, err
	}
	ret.Items, err = loadItems(ctx, t.tx, id)
	return ret, err
}

func (t *txRepository) UpdateDecision(ctx context.Context, ret Return) error {
	_, err := t.tx.Exec(ctx, `UPDATE wms_return_requisitions SET status=$2, approved_by=$3, approved_at=$4 WHERE id=$1`,
		ret.ID, string(ret.Status), ret.ApprovedBy, ret.ApprovedAt)
	return err
}

func (t *txRepository) Ledger() inventory.TxRepository {
	return inventory.NewTxRepository(t.tx)
}

// Get loads one return with its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Return, error) {
	ret, err := scanHeader(r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM wms_return_requisitions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, ErrNotFound
	}
	if err != nil {
		return Return{}, err
	}
	ret.Items, err = loadItems(ctx, r.pool, id)
	return ret, err
}

// List returns headers newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Return, error) {
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
	query := `SELECT ` + headerColumns + ` FROM wms_return_requisitions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		ret, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

const headerColumns = `id, return_no, status, created_by, COALESCE(approved_by, ''), approved_at, reason, notes, created_at`

func scanHeader(row pgx.Row) (Return, error) {
	var (
		ret    Return
		status string
	)
	err := row.Scan(&ret.ID, &ret.Number, &status, &ret.CreatedBy, &ret.ApprovedBy, &ret.ApprovedAt, &ret.Reason, &ret.Notes, &ret.CreatedAt)
	ret.Status = Status(status)
	return ret, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, id uuid.UUID) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, seq, product_code, product_name, qty::float8
FROM wms_return_items WHERE return_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Seq, &it.ProductCode, &it.ProductName, &it.Qty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
