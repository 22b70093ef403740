package domain

import "time"

const (
	EventOrderCreated  = "OrderCreated"
	EventStockReserved = "StockReserved"
	EventStockRejected = "StockRejected"
)

// OrderItem is the wire shape of one order line as the order service emits it.
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

// OrderCreatedEvent is the inbound payload consumed from the order.created topic.
type OrderCreatedEvent struct {
	EventType     string      `json:"eventType"`
	OrderID       string      `json:"orderId"`
	CorrelationID string      `json:"correlationId"`
	CreatedAt     string      `json:"createdAt,omitempty"`
	Items         []OrderItem `json:"items"`
}

// StockResultEvent is the outbound payload published for every consumed order
// event: StockReserved with the reserved lines, or StockRejected with a reason.
type StockResultEvent struct {
	EventType     string      `json:"eventType"`
	OrderID       string      `json:"orderId"`
	CorrelationID string      `json:"correlationId"`
	ReservedItems []OrderItem `json:"reservedItems,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	ReservedAt    string      `json:"reservedAt,omitempty"`
	RejectedAt    string      `json:"rejectedAt,omitempty"`
}

// NewStockResult maps a ledger outcome back onto the wire, threading the
// order and correlation identifiers from the inbound event.
func NewStockResult(orderID, correlationID string, outcome Outcome) StockResultEvent {
	decided := outcome.DecidedAt
	if decided.IsZero() {
		decided = time.Now().UTC()
	}
	ts := decided.UTC().Format(time.RFC3339)

	if outcome.Reserved() {
		items := make([]OrderItem, 0, len(outcome.ReservedItems))
		for _, it := range outcome.ReservedItems {
			items = append(items, OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		return StockResultEvent{
			EventType:     EventStockReserved,
			OrderID:       orderID,
			CorrelationID: correlationID,
			ReservedItems: items,
			ReservedAt:    ts,
		}
	}
	return StockResultEvent{
		EventType:     EventStockRejected,
		OrderID:       orderID,
		CorrelationID: correlationID,
		Reason:        outcome.Reason,
		RejectedAt:    ts,
	}
}
