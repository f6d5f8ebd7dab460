package inventory

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// MovementType enumerates supported ledger movements.
type MovementType string

const (
	// MovementReserve holds available stock for a pending issue.
	MovementReserve MovementType = "reserve"
	// MovementRelease returns a reservation to available stock without physical movement.
	MovementRelease MovementType = "release"
	// MovementDeduct removes stock permanently.
	MovementDeduct MovementType = "deduct"
	// MovementRestock brings stock back into the warehouse.
	MovementRestock MovementType = "restock"
	// MovementReceive records inbound goods.
	MovementReceive MovementType = "receive"
	// MovementAdjust applies a signed manual correction to on hand.
	MovementAdjust MovementType = "adjust"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementReserve, MovementRelease, MovementDeduct, MovementRestock, MovementReceive, MovementAdjust:
		return true
	}
	return false
}

// Balance summarises stock per product.
type Balance struct {
	ProductCode string    `json:"product_code"`
	OnHand      float64   `json:"on_hand"`
	Reserved    float64   `json:"reserved"`
	SafetyStock float64   `json:"safety_stock"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Available is on hand stock not held by reservations.
func (b Balance) Available() float64 {
	return b.OnHand - b.Reserved
}

// BelowSafetyStock reports whether available stock dropped under the safety level.
func (b Balance) BelowSafetyStock() bool {
	return b.SafetyStock > 0 && b.Available() < b.SafetyStock
}

// Movement is one journal row of the ledger.
type Movement struct {
	ID            int64        `json:"id"`
	ProductCode   string       `json:"product_code"`
	Type          MovementType `json:"movement_type"`
	Qty           float64      `json:"qty"`
	OnHandAfter   float64      `json:"on_hand_after"`
	ReservedAfter float64      `json:"reserved_after"`
	RefType       string       `json:"ref_type"`
	RefID         string       `json:"ref_id"`
	Note          string       `json:"note"`
	ActorID       string       `json:"actor_id"`
	CreatedAt     time.Time    `json:"created_at"`
}

// MovementInput describes a requested ledger change.
type MovementInput struct {
	ProductCode string
	Type        MovementType
	Qty         float64
	// FromReserved applies restock/deduct against an existing reservation.
	FromReserved   bool
	RefType        string
	RefID          string
	Note           string
	ActorID        string
	IdempotencyKey string
}

// SortForLocking orders movements by product code. Transactions that apply
// several movements use it so balance rows are always locked in the same order.
func SortForLocking(in []MovementInput) {
	sort.SliceStable(in, func(i, j int) bool { return in[i].ProductCode < in[j].ProductCode })
}

// MovementFilter filters journal rows.
type MovementFilter struct {
	ProductCode string
	RefType     string
	RefID       string
	From        time.Time
	To          time.Time
	Limit       int
}

const qtyEpsilon = 1e-9

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)

// ErrProductRequired indicates a missing product code.
var ErrProductRequired = fmt.Errorf("inventory: product code required: %w", shared.ErrValidation)

// ErrUnknownMovement indicates an unsupported movement type.
var ErrUnknownMovement = fmt.Errorf("inventory: unknown movement type: %w", shared.ErrValidation)

// ErrInsufficientStock triggered when a movement would exceed available or reserved stock.
var ErrInsufficientStock = fmt.Errorf("inventory: %w", shared.ErrInsufficientStock)

// ErrBalanceNotFound indicates missing balance row.
var ErrBalanceNotFound = errors.New("inventory balance not found")

// apply computes the balance after the movement without touching storage.
func apply(balance Balance, in MovementInput) (Balance, error) {
	qty := in.Qty
	if in.Type != MovementAdjust && qty <= qtyEpsilon {
		return Balance{}, ErrInvalidQuantity
	}
	if in.Type == MovementAdjust && qty > -qtyEpsilon && qty < qtyEpsilon {
		return Balance{}, ErrInvalidQuantity
	}
	next := balance
	switch in.Type {
	case MovementReserve:
		if balance.Available()+qtyEpsilon < qty {
			return Balance{}, fmt.Errorf("%w: %s available %.4f, requested %.4f", ErrInsufficientStock, balance.ProductCode, balance.Available(), qty)
		}
		next.Reserved += qty
	case MovementRelease:
		if balance.Reserved+qtyEpsilon < qty {
			return Balance{}, fmt.Errorf("%w: %s reserved %.4f, release %.4f", ErrInsufficientStock, balance.ProductCode, balance.Reserved, qty)
		}
		next.Reserved -= qty
	case MovementDeduct:
		if in.FromReserved {
			if balance.Reserved+qtyEpsilon < qty {
				return Balance{}, fmt.Errorf("%w: %s reserved %.4f, deduct %.4f", ErrInsufficientStock, balance.ProductCode, balance.Reserved, qty)
			}
			next.Reserved -= qty
		} else if balance.Available()+qtyEpsilon < qty {
			return Balance{}, fmt.Errorf("%w: %s available %.4f, deduct %.4f", ErrInsufficientStock, balance.ProductCode, balance.Available(), qty)
		}
		next.OnHand -= qty
	case MovementRestock:
		if in.FromReserved {
			if balance.Reserved+qtyEpsilon < qty {
				return Balance{}, fmt.Errorf("%w: %s reserved %.4f, restock %.4f", ErrInsufficientStock, balance.ProductCode, balance.Reserved, qty)
			}
			next.Reserved -= qty
		} else {
			next.OnHand += qty
		}
	case MovementReceive:
		next.OnHand += qty
	case MovementAdjust:
		if next.OnHand+qty+qtyEpsilon < next.Reserved {
			return Balance{}, fmt.Errorf("%w: %s adjustment below reserved", ErrInsufficientStock, balance.ProductCode)
		}
		next.OnHand += qty
	default:
		return Balance{}, ErrUnknownMovement
	}
	next.OnHand = clampZero(next.OnHand)
	next.Reserved = clampZero(next.Reserved)
	return next, nil
}

func clampZero(v float64) float64 {
	if v > -qtyEpsilon && v < qtyEpsilon {
		return 0
	}
	return v
}
