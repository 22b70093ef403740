package application

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/orderflow/inventory-service/internal/inventory/domain"
)

// Service is the reservation engine: it validates the inbound event, asks the
// ledger for an all-or-nothing decision and publishes exactly one result event.
type Service struct {
	log       *slog.Logger
	ledger    StockLedger
	publisher ResultPublisher
	aliases   map[string]string
}

func NewService(log *slog.Logger, ledger StockLedger, publisher ResultPublisher, aliases map[string]string) *Service {
	return &Service{log: log, ledger: ledger, publisher: publisher, aliases: aliases}
}

// ProcessOrderCreated drives one inbound event to its terminal outcome.
// Validation failures return domain.ErrInvalidRequest before the ledger is
// touched; any other error is transient and safe to retry because the ledger
// records outcomes per order id.
func (s *Service) ProcessOrderCreated(ctx context.Context, ev domain.OrderCreatedEvent, headers map[string]string, traceparent string) (domain.Outcome, error) {
	items, err := toRequest(ev, s.aliases)
	if err != nil {
		return domain.Outcome{}, err
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.NewString()
	}

	outcome, err := s.ledger.TryReserveAll(ctx, ev.OrderID, items)
	if err != nil {
		return domain.Outcome{}, err
	}

	result := domain.NewStockResult(ev.OrderID, ev.CorrelationID, outcome)
	payload, err := json.Marshal(result)
	if err != nil {
		return domain.Outcome{}, err
	}

	if err := s.publisher.Publish(ctx, ev.OrderID, result.EventType, payload, headers, traceparent); err != nil {
		return domain.Outcome{}, err
	}

	s.log.Info("reservation decided",
		"order_id", ev.OrderID,
		"correlation_id", ev.CorrelationID,
		"outcome", string(outcome.Status),
		"reason", outcome.Reason,
	)
	return outcome, nil
}

// Release compensates a reservation for a cancelled or failed downstream
// order. It never fails a missing product and clamps at zero on double release.
func (s *Service) Release(ctx context.Context, items []domain.ReservationItem) error {
	resolved := make([]domain.ReservationItem, 0, len(items))
	for _, it := range items {
		if canonical, ok := s.aliases[it.ProductID]; ok {
			it.ProductID = canonical
		}
		resolved = append(resolved, it)
	}
	return s.ledger.Release(ctx, resolved)
}

func (s *Service) Status(ctx context.Context, productID string) (domain.ProductStock, error) {
	if canonical, ok := s.aliases[productID]; ok {
		productID = canonical
	}
	return s.ledger.Status(ctx, productID)
}

func (s *Service) List(ctx context.Context) ([]domain.ProductStock, error) {
	return s.ledger.List(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, rec domain.ProductStock) error {
	return s.ledger.CreateProduct(ctx, rec)
}

func (s *Service) AdjustTotal(ctx context.Context, productID string, total int64) error {
	if canonical, ok := s.aliases[productID]; ok {
		productID = canonical
	}
	return s.ledger.AdjustTotal(ctx, productID, total)
}
