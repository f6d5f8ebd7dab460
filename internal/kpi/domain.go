package kpi

import (
	"fmt"
	"math"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Outcome is the counting view of an item status at evaluation time.
type Outcome string

const (
	// OutcomeOpen means the item still needs picker or inspector action.
	OutcomeOpen       Outcome = "open"
	OutcomeCorrect    Outcome = "correct"
	OutcomeWrong      Outcome = "wrong"
	OutcomeNotFind    Outcome = "not_find"
	OutcomeOutOfStock Outcome = "out_of_stock"
)

// Terminal reports whether the outcome counts toward a fully checked order.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeCorrect, OutcomeWrong, OutcomeNotFind, OutcomeOutOfStock:
		return true
	}
	return false
}

// ItemOutcome is one order line in original insertion order.
type ItemOutcome struct {
	Outcome    Outcome
	AssignedTo string
}

// Summary is the write-once first-check record of an order.
type Summary struct {
	OrderID             string    `json:"order_id"`
	PickerID            string    `json:"picker_id"`
	TotalItems          int       `json:"total_items"`
	CorrectAtFirstCheck int       `json:"correct_at_first_check"`
	WrongAtFirstCheck   int       `json:"wrong_at_first_check"`
	NotFindAtFirstCheck int       `json:"not_find_at_first_check"`
	AccuracyPercent     float64   `json:"accuracy_percent"`
	CheckedAt           time.Time `json:"checked_at"`
}

// SummaryFilter narrows summary queries by check time and picker.
type SummaryFilter struct {
	From     time.Time
	To       time.Time
	PickerID string
}

// PickerStats aggregates first-check results for one picker.
type PickerStats struct {
	PickerID         string  `json:"picker_id"`
	Orders           int     `json:"orders"`
	TotalItems       int     `json:"total_items"`
	Correct          int     `json:"correct"`
	Wrong            int     `json:"wrong"`
	NotFind          int     `json:"not_find"`
	AvgAccuracy      float64 `json:"avg_accuracy_percent"`
	AvgPickingSecond float64 `json:"avg_picking_seconds"`
}

// Dashboard is the KPI overview for a filter.
type Dashboard struct {
	Orders           int           `json:"orders"`
	AvgAccuracy      float64       `json:"avg_accuracy_percent"`
	AvgPickingSecond float64       `json:"avg_picking_seconds"`
	Pickers          []PickerStats `json:"pickers"`
}

// PickingSpan is the picking duration of one order: latest item end minus earliest item creation.
type PickingSpan struct {
	OrderID  string
	PickerID string
	Duration time.Duration
}

// ErrSummaryNotFound indicates no summary exists for the order.
var ErrSummaryNotFound = fmt.Errorf("kpi: summary not found: %w", shared.ErrNotFound)

// ErrInvalidRange indicates the filter end precedes its start.
var ErrInvalidRange = fmt.Errorf("kpi: invalid date range: %w", shared.ErrValidation)

var errOrderRequired = fmt.Errorf("kpi: order id required: %w", shared.ErrValidation)

// FullyChecked reports whether every item is terminal. An empty order is never fully checked.
func FullyChecked(items []ItemOutcome) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.Outcome.Terminal() {
			return false
		}
	}
	return true
}

// Accuracy returns correct/total as a percentage rounded to two decimals; 0 when total is 0.
func Accuracy(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return round2(float64(correct) / float64(total) * 100)
}

// Snapshot computes the summary for a fully checked order. The picker is the
// assignee of the first item.
func Snapshot(orderID string, items []ItemOutcome, at time.Time) (Summary, bool) {
	if !FullyChecked(items) {
		return Summary{}, false
	}
	s := Summary{
		OrderID:    orderID,
		PickerID:   items[0].AssignedTo,
		TotalItems: len(items),
		CheckedAt:  at,
	}
	for _, it := range items {
		switch it.Outcome {
		case OutcomeCorrect:
			s.CorrectAtFirstCheck++
		case OutcomeWrong:
			s.WrongAtFirstCheck++
		case OutcomeNotFind:
			s.NotFindAtFirstCheck++
		}
	}
	s.AccuracyPercent = Accuracy(s.CorrectAtFirstCheck, s.TotalItems)
	return s, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
