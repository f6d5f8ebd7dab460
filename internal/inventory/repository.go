package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the ledger.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, productCode string) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds ledger operations to a transaction owned by the caller,
// so workflow status writes and ledger movements commit together.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const balanceColumns = `product_code, on_hand::float8, reserved::float8, safety_stock::float8, updated_at`

// GetBalance reads a balance without locking.
func (r *Repository) GetBalance(ctx context.Context, productCode string) (Balance, error) {
	if r == nil {
		return Balance{}, errors.New("inventory repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inv_stock_balances WHERE product_code=$1`, productCode)
	return scanBalance(row, productCode)
}

// ListMovements returns journal rows newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductCode != "" {
		add("product_code = $%d", filter.ProductCode)
	}
	if filter.RefType != "" {
		add("ref_type = $%d", filter.RefType)
	}
	if filter.RefID != "" {
		add("ref_id = $%d", filter.RefID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	query := `SELECT id, product_code, movement_type, qty::float8, on_hand_after::float8, reserved_after::float8, ref_type, ref_id, note, actor_id, created_at FROM inv_stock_movements`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var movementType string
		if err := rows.Scan(&m.ID, &m.ProductCode, &movementType, &m.Qty, &m.OnHandAfter, &m.ReservedAfter, &m.RefType, &m.RefID, &m.Note, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(movementType)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepository) GetBalanceForUpdate(ctx context.Context, productCode string) (Balance, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inv_stock_balances WHERE product_code=$1 FOR UPDATE`, productCode)
	return scanBalance(row, productCode)
}

func (r *txRepository) UpsertBalance(ctx context.Context, balance Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inv_stock_balances (product_code, on_hand, reserved, safety_stock, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (product_code) DO UPDATE SET on_hand = EXCLUDED.on_hand, reserved = EXCLUDED.reserved, updated_at = NOW()`,
		balance.ProductCode, balance.OnHand, balance.Reserved, balance.SafetyStock)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inv_stock_movements
(product_code, movement_type, qty, on_hand_after, reserved_after, ref_type, ref_id, note, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		m.ProductCode, string(m.Type), m.Qty, m.OnHandAfter, m.ReservedAfter, m.RefType, m.RefID, m.Note, m.ActorID, m.CreatedAt).Scan(&id)
	return id, err
}

func scanBalance(row pgx.Row, productCode string) (Balance, error) {
	var b Balance
	if err := row.Scan(&b.ProductCode, &b.OnHand, &b.Reserved, &b.SafetyStock, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{ProductCode: productCode}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}
