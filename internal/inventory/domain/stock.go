package domain

import (
	"fmt"
	"time"
)

// ProductStock is the ledger record for a single product. Reserved never
// exceeds Total and never goes negative; Available is derived, not stored.
type ProductStock struct {
	ProductID   string
	ProductName string
	Total       int64
	Reserved    int64
	LastUpdated time.Time
}

func (p ProductStock) Available() int64 {
	return p.Total - p.Reserved
}

// ReservationItem is one requested line of an order.
type ReservationItem struct {
	ProductID string
	Quantity  int64
}

type OutcomeStatus string

const (
	StatusReserved OutcomeStatus = "reserved"
	StatusRejected OutcomeStatus = "rejected"
)

// Outcome is the terminal decision for one order: either every item was
// reserved, or nothing was touched and Reason names the first failing product.
type Outcome struct {
	Status           OutcomeStatus
	ReservedItems    []ReservationItem
	Reason           string
	FailingProductID string
	DecidedAt        time.Time
}

func (o Outcome) Reserved() bool {
	return o.Status == StatusReserved
}

func ReservedOutcome(items []ReservationItem) Outcome {
	return Outcome{
		Status:        StatusReserved,
		ReservedItems: items,
		DecidedAt:     time.Now().UTC(),
	}
}

func RejectedOutcome(productID, reason string) Outcome {
	return Outcome{
		Status:           StatusRejected,
		Reason:           reason,
		FailingProductID: productID,
		DecidedAt:        time.Now().UTC(),
	}
}

func NotFoundReason(productID string) string {
	return fmt.Sprintf("product %s not found in inventory", productID)
}

func InsufficientStockReason(productID string, requested, available int64) string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", productID, requested, available)
}
