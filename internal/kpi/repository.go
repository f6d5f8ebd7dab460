package kpi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// TxStore is the summary storage visible inside a status-update transaction.
type TxStore interface {
	SummaryExists(ctx context.Context, orderID string) (bool, error)
	// InsertSummary reports false when a summary for the order already exists.
	InsertSummary(ctx context.Context, summary Summary) (bool, error)
}

// Repository reads summaries from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds summary writes to the caller's transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

func (s *txStore) SummaryExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wms_order_summaries WHERE order_id=$1)`, orderID).Scan(&exists)
	return exists, err
}

// InsertSummary relies on the order_id primary key; concurrent finishers both
// reach this statement and exactly one row survives.
func (s *txStore) InsertSummary(ctx context.Context, sum Summary) (bool, error) {
	tag, err := s.tx.Exec(ctx, `INSERT INTO wms_order_summaries
(order_id, picker_id, total_items, correct_at_first_check, wrong_at_first_check, not_find_at_first_check, accuracy_percent, checked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (order_id) DO NOTHING`,
		sum.OrderID, sum.PickerID, sum.TotalItems, sum.CorrectAtFirstCheck, sum.WrongAtFirstCheck, sum.NotFindAtFirstCheck, sum.AccuracyPercent, sum.CheckedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const summaryColumns = `order_id, picker_id, total_items, correct_at_first_check, wrong_at_first_check, not_find_at_first_check, accuracy_percent::float8, checked_at`

// GetSummary loads the summary of one order.
func (r *Repository) GetSummary(ctx context.Context, orderID string) (Summary, error) {
	if r == nil {
		return Summary{}, errors.New("kpi repository not initialised")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM wms_order_summaries WHERE order_id=$1`, orderID)
	s, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, ErrSummaryNotFound
	}
	return s, err
}

// ListSummaries returns summaries in the filter window, newest first.
func (r *Repository) ListSummaries(ctx context.Context, filter SummaryFilter) ([]Summary, error) {
	if r == nil {
		return nil, errors.New("kpi repository not initialised")
	}
	where, args := filterClause(filter, "checked_at", "picker_id")
	rows, err := r.pool.Query(ctx, `SELECT `+summaryColumns+` FROM wms_order_summaries`+where+` ORDER BY checked_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PickingSpans computes max(end_time) - min(created_at) per summarised order.
func (r *Repository) PickingSpans(ctx context.Context, filter SummaryFilter) ([]PickingSpan, error) {
	if r == nil {
		return nil, errors.New("kpi repository not initialised")
	}
	where, args := filterClause(filter, "s.checked_at", "s.picker_id")
	rows, err := r.pool.Query(ctx, `SELECT s.order_id, s.picker_id,
       EXTRACT(EPOCH FROM (MAX(o.end_time) - MIN(o.created_at)))::float8
FROM wms_order_summaries s
JOIN wms_orders o ON o.order_id = s.order_id`+where+`
GROUP BY s.order_id, s.picker_id
HAVING MAX(o.end_time) IS NOT NULL`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PickingSpan
	for rows.Next() {
		var span PickingSpan
		var seconds float64
		if err := rows.Scan(&span.OrderID, &span.PickerID, &seconds); err != nil {
			return nil, err
		}
		span.Duration = time.Duration(seconds * float64(time.Second))
		out = append(out, span)
	}
	return out, rows.Err()
}

func filterClause(filter SummaryFilter, timeCol, pickerCol string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("%s >= $%d", timeCol, len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("%s < $%d", timeCol, len(args)))
	}
	if filter.PickerID != "" {
		args = append(args, filter.PickerID)
		conds = append(conds, fmt.Sprintf("%s = $%d", pickerCol, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanSummary(row pgx.Row) (Summary, error) {
	var s Summary
	err := row.Scan(&s.OrderID, &s.PickerID, &s.TotalItems, &s.CorrectAtFirstCheck, &s.WrongAtFirstCheck, &s.NotFindAtFirstCheck, &s.AccuracyPercent, &s.CheckedAt)
	return s, err
}
