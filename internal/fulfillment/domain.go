package fulfillment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/kpi"
	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Status is the lifecycle state of a fulfillment item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPicked     Status = "picked"
	StatusOutOfStock Status = "out_of_stock"
	StatusCorrect    Status = "correct"
	StatusWrong      Status = "wrong"
	StatusNotFind    Status = "not_find"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPicked, StatusOutOfStock, StatusCorrect, StatusWrong, StatusNotFind:
		return true
	}
	return false
}

// Pickable reports whether the item sits in the picker's workable pool.
// Failed inspections land here again, which is how retries happen.
func (s Status) Pickable() bool {
	switch s {
	case StatusPending, StatusWrong, StatusNotFind:
		return true
	}
	return false
}

// Outcome maps the status onto the counting view used by KPI capture.
func (s Status) Outcome() kpi.Outcome {
	switch s {
	case StatusCorrect:
		return kpi.OutcomeCorrect
	case StatusWrong:
		return kpi.OutcomeWrong
	case StatusNotFind:
		return kpi.OutcomeNotFind
	case StatusOutOfStock:
		return kpi.OutcomeOutOfStock
	}
	return kpi.OutcomeOpen
}

// InspectionResult reports whether s is an inspector verdict.
func (s Status) InspectionResult() bool {
	return s == StatusCorrect || s == StatusWrong || s == StatusNotFind
}

// Item is one product line to pick.
type Item struct {
	ID           uuid.UUID  `json:"id"`
	Seq          int64      `json:"seq"`
	OrderID      string     `json:"order_id"`
	ProductCode  string     `json:"product_code"`
	ProductName  string     `json:"product_name"`
	Location     string     `json:"location"`
	Qty          float64    `json:"qty"`
	Status       Status     `json:"status"`
	AssignedTo   string     `json:"assigned_to"`
	ErrorCount   int        `json:"error_count"`
	NotFindCount int        `json:"not_find_count"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// TaskLine is the input for one item to create.
type TaskLine struct {
	ProductCode string  `json:"product_code" validate:"required"`
	ProductName string  `json:"product_name"`
	Location    string  `json:"location"`
	Qty         float64 `json:"qty" validate:"gt=0"`
}

// CreateTasksInput creates one batch of pending items for a picker.
type CreateTasksInput struct {
	OrderID    string
	AssignedTo string
	Source     string
	Lines      []TaskLine
}

// WorkOrder is a production work order to be dispatched to a picker.
type WorkOrder struct {
	OrderID    string          `json:"order_id" validate:"required"`
	AssignedTo string          `json:"assigned_to" validate:"required"`
	Lines      []WorkOrderLine `json:"lines" validate:"required,min=1,dive"`
}

// WorkOrderLine is one ordered product. PackSize greater than one collapses
// that many units into a single pick unit, rounding up.
type WorkOrderLine struct {
	ProductCode string  `json:"product_code" validate:"required"`
	ProductName string  `json:"product_name"`
	Location    string  `json:"location"`
	RubberCode  string  `json:"rubber_code"`
	PackSize    int     `json:"pack_size" validate:"gte=0"`
	Qty         float64 `json:"qty" validate:"gt=0"`
}

// OrderProgress counts items of one order by status.
type OrderProgress struct {
	OrderID      string `json:"order_id"`
	Total        int    `json:"total"`
	Pending      int    `json:"pending"`
	Picked       int    `json:"picked"`
	OutOfStock   int    `json:"out_of_stock"`
	Correct      int    `json:"correct"`
	Wrong        int    `json:"wrong"`
	NotFind      int    `json:"not_find"`
	Finished     int    `json:"finished"`
	FullyChecked bool   `json:"fully_checked"`
}

var (
	// ErrItemNotFound indicates the item does not exist.
	ErrItemNotFound = fmt.Errorf("fulfillment: item not found: %w", shared.ErrNotFound)
	// ErrInvalidTransition indicates the action is not allowed from the item's current status.
	ErrInvalidTransition = fmt.Errorf("fulfillment: invalid status transition: %w", shared.ErrConflict)
	// ErrOrderNotReady blocks inspection while any item of the order is still pending.
	ErrOrderNotReady = fmt.Errorf("fulfillment: order still has pending items: %w", shared.ErrConflict)
	// ErrAlreadyDispatched indicates tasks already exist for the order.
	ErrAlreadyDispatched = fmt.Errorf("fulfillment: order already dispatched: %w", shared.ErrConflict)
	// ErrNotAssignee indicates a picker acting on another picker's item.
	ErrNotAssignee = fmt.Errorf("fulfillment: item assigned to another picker: %w", shared.ErrForbidden)
	// ErrNotificationNotFound indicates the notification does not exist.
	ErrNotificationNotFound = fmt.Errorf("fulfillment: notification not found: %w", shared.ErrNotFound)
)

var errNotInitialised = errors.New("fulfillment repository not initialised")

func (it Item) pick(now time.Time) (Item, error) {
	if !it.Status.Pickable() {
		return it, ErrInvalidTransition
	}
	it.Status = StatusPicked
	it.markWorked(now)
	return it, nil
}

func (it Item) declareOutOfStock(now time.Time) (Item, error) {
	if !it.Status.Pickable() {
		return it, ErrInvalidTransition
	}
	it.Status = StatusOutOfStock
	it.markWorked(now)
	return it, nil
}

func (it Item) inspect(result Status) (Item, error) {
	if !result.InspectionResult() {
		return it, shared.Invalid("result", "must be one of correct wrong not_find")
	}
	if it.Status != StatusPicked {
		return it, ErrInvalidTransition
	}
	it.Status = result
	switch result {
	case StatusWrong:
		it.ErrorCount++
	case StatusNotFind:
		it.NotFindCount++
	}
	return it, nil
}

func (it *Item) markWorked(now time.Time) {
	if it.StartedAt == nil {
		started := now
		it.StartedAt = &started
	}
	ended := now
	it.EndedAt = &ended
}

// Progress summarises items of one order.
func Progress(orderID string, items []Item) OrderProgress {
	p := OrderProgress{OrderID: orderID, Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case StatusPending:
			p.Pending++
		case StatusPicked:
			p.Picked++
		case StatusOutOfStock:
			p.OutOfStock++
		case StatusCorrect:
			p.Correct++
		case StatusWrong:
			p.Wrong++
		case StatusNotFind:
			p.NotFind++
		}
	}
	p.Finished = p.Correct + p.OutOfStock
	p.FullyChecked = kpi.FullyChecked(outcomes(items))
	return p
}

// outcomes keeps insertion order so the first item's assignee becomes the summary picker.
func outcomes(items []Item) []kpi.ItemOutcome {
	out := make([]kpi.ItemOutcome, 0, len(items))
	for _, it := range items {
		out = append(out, kpi.ItemOutcome{Outcome: it.Status.Outcome(), AssignedTo: it.AssignedTo})
	}
	return out
}

func hasPending(items []Item) bool {
	for _, it := range items {
		if it.Status == StatusPending {
			return true
		}
	}
	return false
}
