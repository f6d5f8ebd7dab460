package requisition

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Status enumerates requisition states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Requisition is a request to issue stock through the picking pipeline.
type Requisition struct {
	ID         uuid.UUID  `json:"id"`
	Number     string     `json:"requisition_no"`
	Status     Status     `json:"status"`
	CreatedBy  string     `json:"created_by"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	Notes      string     `json:"notes"`
	CreatedAt  time.Time  `json:"created_at"`
	Items      []Item     `json:"items"`
}

// Item is one requested product line.
type Item struct {
	ID          uuid.UUID `json:"id"`
	Seq         int64     `json:"seq"`
	ProductCode string    `json:"product_code"`
	ProductName string    `json:"product_name"`
	Location    string    `json:"location"`
	Qty         float64   `json:"qty"`
	Topic       string    `json:"topic"`
}

// SubmitInput carries a new requisition.
type SubmitInput struct {
	Notes string      `json:"notes" validate:"required,max=1000"`
	Items []ItemInput `json:"items" validate:"required,min=1,dive"`
}

// ItemInput is one submitted line.
type ItemInput struct {
	ProductCode string  `json:"product_code" validate:"required"`
	ProductName string  `json:"product_name"`
	Location    string  `json:"location"`
	Qty         float64 `json:"qty" validate:"gt=0"`
	Topic       string  `json:"topic" validate:"required"`
}

// ListFilter narrows requisition listing.
type ListFilter struct {
	Status    Status
	CreatedBy string
	Limit     int
}

// Topic is a catalogued requisition classification.
type Topic struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

var (
	// ErrNotFound indicates the requisition does not exist.
	ErrNotFound = fmt.Errorf("requisition: not found: %w", shared.ErrNotFound)
	// ErrAlreadyProcessed indicates a decision was already taken.
	ErrAlreadyProcessed = fmt.Errorf("requisition: already processed: %w", shared.ErrConflict)
)

func validateSubmit(in SubmitInput) error {
	var errs shared.ValidationErrors
	if strings.TrimSpace(in.Notes) == "" {
		errs = append(errs, shared.ValidationError{Field: "notes", Reason: "is required"})
	}
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
		if strings.TrimSpace(it.Topic) == "" {
			errs = append(errs, shared.ValidationError{Field: fmt.Sprintf("items[%d].topic", i), Reason: "is required"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
