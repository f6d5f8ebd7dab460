package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/kpi"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// TaskWriter is the slice of the task store needed to create a batch. Other
// workflows call it with their own transaction.
type TaskWriter interface {
	LockOrder(ctx context.Context, orderID string) error
	OrderHasTasks(ctx context.Context, orderID string) (bool, error)
	InsertItems(ctx context.Context, items []Item) ([]Item, error)
}

// TxRepository exposes transactional task store operations. Order locks are
// always taken before item row locks.
type TxRepository interface {
	TaskWriter
	OrderIDForItem(ctx context.Context, id uuid.UUID) (string, error)
	GetItemForUpdate(ctx context.Context, id uuid.UUID) (Item, error)
	ListOrderItems(ctx context.Context, orderID string) ([]Item, error)
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	FillOrderEndTime(ctx context.Context, orderID string, at time.Time) error
	Summaries() kpi.TxStore
}

// Repository persists tasks and notifications in PostgreSQL.
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

// NewTxRepository binds task store operations to the caller's transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errNotInitialised
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `id, seq, order_id, product_code, product_name, location, qty::float8, status, assigned_to, error_count, not_find_count, created_at, started_at, end_time`

func (t *txRepository) LockOrder(ctx context.Context, orderID string) error {
	return db.AdvisoryXactLock(ctx, t.tx, shared.OrderLockKey(orderID))
}

func (t *txRepository) OrderHasTasks(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wms_orders WHERE order_id=$1)`, orderID).Scan(&exists)
	return exists, err
}

func (t *txRepository) InsertItems(ctx context.Context, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		err := t.tx.QueryRow(ctx, `INSERT INTO wms_orders (id, order_id, product_code, product_name, location, qty, status, assigned_to, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING seq`, it.ID, it.OrderID, it.ProductCode, it.ProductName, it.Location, it.Qty, string(it.Status), it.AssignedTo, it.CreatedAt).Scan(&it.Seq)
		if err != nil {
			return nil, fmt.Errorf("insert item %s: %w", it.ProductCode, err)
		}
		out = append(out, it)
	}
	return out, nil
}

func (t *txRepository) OrderIDForItem(ctx context.Context, id uuid.UUID) (string, error) {
	var orderID string
	err := t.tx.QueryRow(ctx, `SELECT order_id FROM wms_orders WHERE id=$1`, id).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrItemNotFound
	}
	return orderID, err
}

func (t *txRepository) GetItemForUpdate(ctx context.Context, id uuid.UUID) (Item, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM wms_orders WHERE id=$1 FOR UPDATE`, id)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

func (t *txRepository) ListOrderItems(ctx context.Context, orderID string) ([]Item, error) {
	return queryItems(ctx, t.tx, `SELECT `+itemColumns+` FROM wms_orders WHERE order_id=$1 ORDER BY seq`, orderID)
}

func (t *txRepository) UpdateItem(ctx context.Context, it Item) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wms_orders
SET status=$2, error_count=$3, not_find_count=$4, started_at=$5, end_time=$6
WHERE id=$1`, it.ID, string(it.Status), it.ErrorCount, it.NotFindCount, it.StartedAt, it.EndedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM wms_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepository) FillOrderEndTime(ctx context.Context, orderID string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE wms_orders SET end_time=$2 WHERE order_id=$1`, orderID, at)
	return err
}

func (t *txRepository) Summaries() kpi.TxStore {
	return kpi.NewTxStore(t.tx)
}

// ListItems returns the items of an order in insertion order.
func (r *Repository) ListItems(ctx context.Context, orderID string) ([]Item, error) {
	if r == nil {
		return nil, errNotInitialised
	}
	return queryItems(ctx, r.pool, `SELECT `+itemColumns+` FROM wms_orders WHERE order_id=$1 ORDER BY seq`, orderID)
}

// InsertNotification stores a delivered notification.
func (r *Repository) InsertNotification(ctx context.Context, n Notification) error {
	if r == nil {
		return errNotInitialised
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO wms_notifications (id, type, order_id, picker_id, topic, status, is_read, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`, n.ID, n.Type, n.OrderID, n.PickerID, n.Topic, string(n.Status), n.IsRead, n.CreatedAt)
	return err
}

// ListNotifications returns notifications newest first.
func (r *Repository) ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error) {
	if r == nil {
		return nil, errNotInitialised
	}
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
	if filter.PickerID != "" {
		args = append(args, filter.PickerID)
		conds = append(conds, fmt.Sprintf("picker_id=$%d", len(args)))
	}
	query := `SELECT id, type, order_id, picker_id, topic, status, is_read, created_at FROM wms_notifications`
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
	var out []Notification
	for rows.Next() {
		var (
			n      Notification
			status string
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.OrderID, &n.PickerID, &n.Topic, &status, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Status = NotificationStatus(status)
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNotificationStatus marks a notification read or fixed; both imply is_read.
func (r *Repository) UpdateNotificationStatus(ctx context.Context, id uuid.UUID, status NotificationStatus) error {
	if r == nil {
		return errNotInitialised
	}
	tag, err := r.pool.Exec(ctx, `UPDATE wms_notifications SET status=$2, is_read=TRUE WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// ListTopics returns the alert topic catalogue.
func (r *Repository) ListTopics(ctx context.Context) ([]Topic, error) {
	if r == nil {
		return nil, errNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM wms_notification_topics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, sql string, args ...any) ([]Item, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		it     Item
		status string
	)
	err := row.Scan(&it.ID, &it.Seq, &it.OrderID, &it.ProductCode, &it.ProductName, &it.Location, &it.Qty, &status,
		&it.AssignedTo, &it.ErrorCount, &it.NotFindCount, &it.CreatedAt, &it.StartedAt, &it.EndedAt)
	it.Status = Status(status)
	return it, err
}
