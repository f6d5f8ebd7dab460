package returns

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Status enumerates return request states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Return is a request to bring physically returned stock back into the ledger.
type Return struct {
	ID         uuid.UUID  `json:"id"`
	Number     string     `json:"return_no"`
	Status     Status     `json:"status"`
	CreatedBy  string     `json:"created_by"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Notes      string     `json:"notes"`
	CreatedAt  time.Time  `json:"created_at"`
	Items      []Item     `json:"items"`
}

// Item is one returned product line.
type Item struct {
	ID          uuid.UUID `json:"id"`
	Seq         int64     `json:"seq"`
	ProductCode string    `json:"product_code"`
	ProductName string    `json:"product_name"`
	Qty         float64   `json:"qty"`
}

// SubmitInput carries a new return request.
type SubmitInput struct {
	Reason string      `json:"reason" validate:"max=500"`
	Notes  string      `json:"notes" validate:"max=1000"`
	Items  []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// ItemInput is one submitted line.
type ItemInput struct {
	ProductCode string  `json:"product_code" validate:"required"`
	ProductName string  `json:"product_name"`
	Qty         float64 `json:"qty" validate:"gt=0"`
}

// ListFilter narrows return listing.
type ListFilter struct {
	Status    Status
	CreatedBy string
	Limit     int
}

var (
	// ErrNotFound indicates the return does not exist.
	ErrNotFound = fmt.Errorf("return: not found: %w", shared.ErrNotFound)
	// ErrAlreadyProcessed indicates a decision was already taken.
	ErrAlreadyProcessed = fmt.Errorf("return: already processed: %w", shared.ErrConflict)
)

func validateSubmit(in SubmitInput) error {
	var errs shared.ValidationErrors
	if len(in.Items) == 0 {
		errs = append(errs, shared.ValidationError{Field: "items", Reason: "at least one item is required"})
	}
	for i, it := range in.Items {
		if strings.TrimSpace(it.ProductCode) == "" {
			errs = append(errs, shared.ValidationError{Field: fmt.Sprintf("items[%d].product_code", i), Reason: "is required"})
		}
		if it.Qty <= 0 {
			errs = append(errs, shared.ValidationError{Field: fmt.Sprintf("items[%d].qty", i), Reason: "must be greater than zero"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
