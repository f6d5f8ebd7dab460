package requisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/fulfillment"
	"github.com/odyssey-erp/odyssey-wms/internal/platform/db"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// TxRepository exposes transactional requisition operations.
type TxRepository interface {
	NextNumber(ctx context.Context, at time.Time) (string, error)
	Insert(ctx context.Context, req Requisition) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Requisition, error)
	UpdateDecision(ctx context.Context, req Requisition) error
	Tasks() fulfillment.TaskWriter
}

// Repository persists requisitions in PostgreSQL.
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
		return errors.New("requisition repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// NextNumber allocates REQ-YYYYMMDD-NNN; the day's advisory lock is held until commit.
func (t *txRepository) NextNumber(ctx context.Context, at time.Time) (string, error) {
	start, end := shared.DayBounds(at)
	if err := db.AdvisoryXactLock(ctx, t.tx, shared.DocNumberLockKey(shared.DocPrefixRequisition, start)); err != nil {
		return "", err
	}
	var count int
	if err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM wms_requisitions WHERE created_at >= $1 AND created_at < $2`, start, end).Scan(&count); err != nil {
		return "", err
	}
	return shared.FormatDocNumber(shared.DocPrefixRequisition, start, count+1), nil
}

func (t *txRepository) Insert(ctx context.Context, req Requisition) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO wms_requisitions (id, requisition_no, status, created_by, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, req.ID, req.Number, string(req.Status), req.CreatedBy, req.Notes, req.CreatedAt)
	if err != nil {
		return err
	}
	for _, it := range req.Items {
		if _, err := t.tx.Exec(ctx, `INSERT INTO wms_requisition_items (id, requisition_id, product_code, product_name, location, qty, topic)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, it.ID, req.ID, it.ProductCode, it.ProductName, it.Location, it.Qty, it.Topic); err != nil {
			return fmt.Errorf("insert requisition item %s: %w", it.ProductCode, err)
		}
	}
	return nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Requisition, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM wms_requisitions WHERE id=$1 FOR UPDATE`, id)
	req, err := scanHeader(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Requisition{}, ErrNotFound
	}
	if err != nil {
		return Requisition{}, err
	}
	req.Items, err = loadItems(ctx, t.tx, id)
	return req, err
}

func (t *txRepository) UpdateDecision(ctx context.Context, req Requisition) error {
	_, err := t.tx.Exec(ctx, `UPDATE wms_requisitions SET status=$2, approved_by=$3, approved_at=$4, assigned_to=NULLIF($5, '')
WHERE id=$1`, req.ID, string(req.Status), req.ApprovedBy, req.ApprovedAt, req.AssignedTo)
	return err
}

func (t *txRepository) Tasks() fulfillment.TaskWriter {
	return fulfillment.NewTxRepository(t.tx)
}

// Get loads one requisition with its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Requisition, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM wms_requisitions WHERE id=$1`, id)
	req, err := scanHeader(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Requisition{}, ErrNotFound
	}
	if err != nil {
		return Requisition{}, err
	}
	req.Items, err = loadItems(ctx, r.pool, id)
	return req, err
}

// List returns requisition headers newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Requisition, error) {
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
	query := `SELECT ` + headerColumns + ` FROM wms_requisitions`
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
	var out []Requisition
	for rows.Next() {
		req, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ListTopics returns the topic catalogue.
func (r *Repository) ListTopics(ctx context.Context) ([]Topic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM wms_requisition_topics ORDER BY name`)
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

const headerColumns = `id, requisition_no, status, created_by, COALESCE(approved_by, ''), approved_at, COALESCE(assigned_to, ''), notes, created_at`

func scanHeader(row pgx.Row) (Requisition, error) {
	var (
		req    Requisition
		status string
	)
	err := row.Scan(&req.ID, &req.Number, &status, &req.CreatedBy, &req.ApprovedBy, &req.ApprovedAt, &req.AssignedTo, &req.Notes, &req.CreatedAt)
	req.Status = Status(status)
	return req, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, id uuid.UUID) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, seq, product_code, product_name, location, qty::float8, topic
FROM wms_requisition_items WHERE requisition_id=$1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Seq, &it.ProductCode, &it.ProductName, &it.Location, &it.Qty, &it.Topic); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
