package application

import (
	"context"

	"github.com/orderflow/inventory-service/internal/inventory/domain"
)

// StockLedger is the single owner of product counters. TryReserveAll keys a
// processed-order log on orderID: replaying an order returns the recorded
// outcome without touching any counter.
type StockLedger interface {
	TryReserveAll(ctx context.Context, orderID string, items []domain.ReservationItem) (domain.Outcome, error)
	Release(ctx context.Context, items []domain.ReservationItem) error
	Status(ctx context.Context, productID string) (domain.ProductStock, error)
	List(ctx context.Context) ([]domain.ProductStock, error)
	CreateProduct(ctx context.Context, rec domain.ProductStock) error
	AdjustTotal(ctx context.Context, productID string, total int64) error
}

// ResultPublisher hands the outcome event to the transport. The in-memory
// deployment writes straight to Kafka; the persistent one records through the
// transactional outbox and lets the relay dispatch.
type ResultPublisher interface {
	Publish(ctx context.Context, orderID, eventType string, payload []byte, headers map[string]string, traceparent string) error
}
