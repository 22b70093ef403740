package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orderflow/inventory-service/internal/inventory/domain"
)

// Ledger keeps all product counters behind one mutex so a whole reservation
// batch is checked and mutated as a single critical section. Decided orders
// are remembered so a redelivered order id replays its recorded outcome.
type Ledger struct {
	mu       sync.Mutex
	products map[string]*domain.ProductStock
	decided  map[string]domain.Outcome
}

func NewLedger() *Ledger {
	return &Ledger{
		products: make(map[string]*domain.ProductStock),
		decided:  make(map[string]domain.Outcome),
	}
}

func (l *Ledger) TryReserveAll(ctx context.Context, orderID string, items []domain.ReservationItem) (domain.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if outcome, ok := l.decided[orderID]; ok {
		return outcome, nil
	}

	// Phase one: check every item in request order without touching anything.
	// pending accounts for earlier lines of the same order hitting one product.
	pending := make(map[string]int64, len(items))
	for _, it := range items {
		rec, ok := l.products[it.ProductID]
		if !ok {
			outcome := domain.RejectedOutcome(it.ProductID, domain.NotFoundReason(it.ProductID))
			l.decided[orderID] = outcome
			return outcome, nil
		}
		available := rec.Available() - pending[it.ProductID]
		if available < it.Quantity {
			outcome := domain.RejectedOutcome(it.ProductID, domain.InsufficientStockReason(it.ProductID, it.Quantity, available))
			l.decided[orderID] = outcome
			return outcome, nil
		}
		pending[it.ProductID] += it.Quantity
	}

	// Phase two: every check passed, mutate all records.
	now := time.Now().UTC()
	for _, it := range items {
		rec := l.products[it.ProductID]
		rec.Reserved += it.Quantity
		rec.LastUpdated = now
	}

	outcome := domain.ReservedOutcome(items)
	l.decided[orderID] = outcome
	return outcome, nil
}

func (l *Ledger) Release(ctx context.Context, items []domain.ReservationItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	for _, it := range items {
		rec, ok := l.products[it.ProductID]
		if !ok {
			continue
		}
		rec.Reserved -= it.Quantity
		if rec.Reserved < 0 {
			rec.Reserved = 0
		}
		rec.LastUpdated = now
	}
	return nil
}

func (l *Ledger) Status(ctx context.Context, productID string) (domain.ProductStock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.products[productID]
	if !ok {
		return domain.ProductStock{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return *rec, nil
}

func (l *Ledger) List(ctx context.Context) ([]domain.ProductStock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.ProductStock, 0, len(l.products))
	for _, rec := range l.products {
		out = append(out, *rec)
	}
	return out, nil
}

func (l *Ledger) CreateProduct(ctx context.Context, rec domain.ProductStock) error {
	if rec.Total < 0 || rec.Reserved < 0 || rec.Reserved > rec.Total {
		return fmt.Errorf("%w: total=%d reserved=%d", domain.ErrInvalidRequest, rec.Total, rec.Reserved)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.products[rec.ProductID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrProductExists, rec.ProductID)
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}
	l.products[rec.ProductID] = &rec
	return nil
}

func (l *Ledger) AdjustTotal(ctx context.Context, productID string, total int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.products[productID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if total < rec.Reserved {
		return fmt.Errorf("%w: total=%d reserved=%d", domain.ErrTotalBelowReserved, total, rec.Reserved)
	}
	rec.Total = total
	rec.LastUpdated = time.Now().UTC()
	return nil
}
