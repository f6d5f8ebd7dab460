package borrow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Status enumerates stored borrow states. Overdue is derived, never stored.
type Status string

const (
	StatusPending         Status = "pending"
	StatusApproved        Status = "approved"
	StatusPartialReturned Status = "partial_returned"
	StatusReturned        Status = "returned"
	StatusWrittenOff      Status = "written_off"
	StatusRejected        Status = "rejected"
	// StatusOverdue is only reported by DisplayStatus.
	StatusOverdue Status = "overdue"
)

const qtyEpsilon = 1e-9

// Borrow is a temporary stock issuance.
type Borrow struct {
	ID         uuid.UUID  `json:"id"`
	Number     string     `json:"borrow_no"`
	Status     Status     `json:"status"`
	CreatedBy  string     `json:"created_by"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	DueDate    time.Time  `json:"due_date"`
	Notes      string     `json:"notes"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Items      []Item     `json:"items"`
}

// Item is one borrowed product line.
type Item struct {
	ID            uuid.UUID `json:"id"`
	Seq           int64     `json:"seq"`
	ProductCode   string    `json:"product_code"`
	ProductName   string    `json:"product_name"`
	Qty           float64   `json:"qty"`
	ReturnedQty   float64   `json:"returned_qty"`
	WrittenOffQty float64   `json:"written_off_qty"`
}

// Remaining is the quantity still out on loan.
func (it Item) Remaining() float64 {
	r := it.Qty - it.ReturnedQty - it.WrittenOffQty
	if r < qtyEpsilon {
		return 0
	}
	return r
}

// Resolved reports whether the line is fully returned or written off.
func (it Item) Resolved() bool {
	return it.Remaining() == 0
}

// Outstanding reports whether the borrow still has stock out on loan.
func (b Borrow) Outstanding() bool {
	return b.Status == StatusApproved || b.Status == StatusPartialReturned
}

// Overdue reports whether the due date passed while stock is still out.
func (b Borrow) Overdue(today time.Time) bool {
	return b.Outstanding() && dateOf(b.DueDate).Before(dateOf(today))
}

// DisplayStatus is the status shown to users, including the derived overdue state.
func (b Borrow) DisplayStatus(today time.Time) Status {
	if b.Overdue(today) {
		return StatusOverdue
	}
	return b.Status
}

// SubmitInput carries a new borrow request. A zero DueDate uses the default loan period.
type SubmitInput struct {
	DueDate time.Time
	Notes   string
	Items   []ItemInput
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductCode string  `json:"product_code" validate:"required"`
	ProductName string  `json:"product_name"`
	Qty         float64 `json:"qty" validate:"gt=0"`
}

// ResolveLine returns or writes off qty of one product.
type ResolveLine struct {
	ProductCode string  `json:"product_code" validate:"required"`
	Qty         float64 `json:"qty" validate:"gt=0"`
}

// ListFilter narrows borrow listing.
type ListFilter struct {
	Status    Status
	CreatedBy string
	Limit     int
}

var (
	// ErrNotFound indicates the borrow does not exist.
	ErrNotFound = fmt.Errorf("borrow: not found: %w", shared.ErrNotFound)
	// ErrAlreadyProcessed indicates the borrow is no longer pending.
	ErrAlreadyProcessed = fmt.Errorf("borrow: already processed: %w", shared.ErrConflict)
	// ErrNotOutstanding indicates nothing is out on loan for this borrow.
	ErrNotOutstanding = fmt.Errorf("borrow: no outstanding quantity: %w", shared.ErrConflict)
)

// applyResolution validates every line against the remaining quantity and
// returns updated items. The input borrow is not modified.
func applyResolution(b Borrow, lines []ResolveLine, writeOff bool) ([]Item, error) {
	if len(lines) == 0 {
		return nil, shared.Invalid("items", "at least one item is required")
	}
	items := append([]Item(nil), b.Items...)
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ProductCode] = i
	}
	var errs shared.ValidationErrors
	for i, l := range lines {
		field := fmt.Sprintf("items[%d]", i)
		idx, ok := index[strings.TrimSpace(l.ProductCode)]
		if !ok {
			errs = append(errs, shared.ValidationError{Field: field + ".product_code", Reason: "is not part of this borrow"})
			continue
		}
		if l.Qty <= 0 {
			errs = append(errs, shared.ValidationError{Field: field + ".qty", Reason: "must be greater than zero"})
			continue
		}
		if l.Qty > items[idx].Remaining()+qtyEpsilon {
			errs = append(errs, shared.ValidationError{
				Field:  field + ".qty",
				Reason: fmt.Sprintf("exceeds remaining quantity %g", items[idx].Remaining()),
			})
			continue
		}
		if writeOff {
			items[idx].WrittenOffQty += l.Qty
		} else {
			items[idx].ReturnedQty += l.Qty
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return items, nil
}

// statusAfterResolution derives the status once lines were returned or written off.
func statusAfterResolution(items []Item) Status {
	returned := 0.0
	for _, it := range items {
		if !it.Resolved() {
			return StatusPartialReturned
		}
		returned += it.ReturnedQty
	}
	if returned < qtyEpsilon {
		return StatusWrittenOff
	}
	return StatusReturned
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
