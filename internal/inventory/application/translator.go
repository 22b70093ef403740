package application

import (
	"fmt"
	"strings"

	"github.com/orderflow/inventory-service/internal/inventory/domain"
)

// toRequest validates the inbound event shape and maps it onto a reservation
// request, preserving item order. Legacy product codes ("P-001") are resolved
// to their canonical ids here so the ledger only ever sees one schema.
func toRequest(ev domain.OrderCreatedEvent, aliases map[string]string) ([]domain.ReservationItem, error) {
	if ev.EventType != "" && ev.EventType != domain.EventOrderCreated {
		return nil, fmt.Errorf("%w: unexpected event type %q", domain.ErrInvalidRequest, ev.EventType)
	}
	if strings.TrimSpace(ev.OrderID) == "" {
		return nil, fmt.Errorf("%w: missing order id", domain.ErrInvalidRequest)
	}
	if len(ev.Items) == 0 {
		return nil, fmt.Errorf("%w: order %s has no items", domain.ErrInvalidRequest, ev.OrderID)
	}

	items := make([]domain.ReservationItem, 0, len(ev.Items))
	for i, it := range ev.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, fmt.Errorf("%w: item %d has no product id", domain.ErrInvalidRequest, i)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive, got %d", domain.ErrInvalidRequest, i, it.Quantity)
		}
		id := it.ProductID
		if canonical, ok := aliases[id]; ok {
			id = canonical
		}
		items = append(items, domain.ReservationItem{ProductID: id, Quantity: it.Quantity})
	}
	return items, nil
}
