package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/orderflow/inventory-service/internal/inventory/domain"
)

func newTestLedger(t *testing.T, products ...domain.ProductStock) *Ledger {
	t.Helper()
	l := NewLedger()
	for _, p := range products {
		if err := l.CreateProduct(context.Background(), p); err != nil {
			t.Fatalf("seed product %s: %v", p.ProductID, err)
		}
	}
	return l
}

func TestTryReserveAll_Success(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 25})

	outcome, err := l.TryReserveAll(context.Background(), "order-1", []domain.ReservationItem{{ProductID: "tv", Quantity: 5}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Reserved() {
		t.Fatalf("expected reserved outcome, got %s (%s)", outcome.Status, outcome.Reason)
	}
	if len(outcome.ReservedItems) != 1 || outcome.ReservedItems[0].Quantity != 5 {
		t.Errorf("unexpected reserved items: %+v", outcome.ReservedItems)
	}

	rec, _ := l.Status(context.Background(), "tv")
	if rec.Available() != 20 {
		t.Errorf("expected available 20, got %d", rec.Available())
	}
	if rec.Reserved != 5 {
		t.Errorf("expected reserved 5, got %d", rec.Reserved)
	}
}

func TestTryReserveAll_InsufficientStock(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "ps5", ProductName: "PS5", Total: 5})

	outcome, err := l.TryReserveAll(context.Background(), "order-1", []domain.ReservationItem{{ProductID: "ps5", Quantity: 10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Reserved() {
		t.Fatal("expected rejection")
	}
	if outcome.FailingProductID != "ps5" {
		t.Errorf("expected failing product ps5, got %q", outcome.FailingProductID)
	}
	if !strings.Contains(outcome.Reason, "ps5") || !strings.Contains(outcome.Reason, "requested 10") || !strings.Contains(outcome.Reason, "available 5") {
		t.Errorf("reason should name product and shortfall, got %q", outcome.Reason)
	}

	rec, _ := l.Status(context.Background(), "ps5")
	if rec.Available() != 5 || rec.Reserved != 0 {
		t.Errorf("rejection must not mutate the record: %+v", rec)
	}
}

func TestTryReserveAll_AllOrNothing(t *testing.T) {
	l := newTestLedger(t,
		domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 25},
		domain.ProductStock{ProductID: "ps5", ProductName: "PS5", Total: 5},
	)

	outcome, err := l.TryReserveAll(context.Background(), "order-1", []domain.ReservationItem{
		{ProductID: "tv", Quantity: 5},
		{ProductID: "ps5", Quantity: 10},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Reserved() {
		t.Fatal("expected rejection")
	}
	if outcome.FailingProductID != "ps5" {
		t.Errorf("expected second item to fail, got %q", outcome.FailingProductID)
	}

	tv, _ := l.Status(context.Background(), "tv")
	if tv.Reserved != 0 {
		t.Errorf("first product must not be mutated on batch rejection, reserved=%d", tv.Reserved)
	}
	ps5, _ := l.Status(context.Background(), "ps5")
	if ps5.Reserved != 0 {
		t.Errorf("second product must not be mutated on batch rejection, reserved=%d", ps5.Reserved)
	}
}

func TestTryReserveAll_UnknownProduct(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 25})

	outcome, err := l.TryReserveAll(context.Background(), "order-1", []domain.ReservationItem{
		{ProductID: "tv", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Reserved() {
		t.Fatal("expected rejection for unknown product")
	}
	if outcome.FailingProductID != "ghost" {
		t.Errorf("expected failing product ghost, got %q", outcome.FailingProductID)
	}
	if !strings.Contains(outcome.Reason, "not found") {
		t.Errorf("reason should say not found, got %q", outcome.Reason)
	}

	tv, _ := l.Status(context.Background(), "tv")
	if tv.Reserved != 0 {
		t.Errorf("no mutation expected, reserved=%d", tv.Reserved)
	}
}

func TestTryReserveAll_FirstFailureInRequestOrder(t *testing.T) {
	l := newTestLedger(t,
		domain.ProductStock{ProductID: "a", ProductName: "A", Total: 0},
		domain.ProductStock{ProductID: "b", ProductName: "B", Total: 0},
	)

	outcome, err := l.TryReserveAll(context.Background(), "order-1", []domain.ReservationItem{
		{ProductID: "b", Quantity: 1},
		{ProductID: "a", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.FailingProductID != "b" {
		t.Errorf("expected first failing item in request order (b), got %q", outcome.FailingProductID)
	}
}

func TestTryReserveAll_DuplicateLinesAccumulate(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 10})

	outcome, err := l.TryReserveAll(context.Background(), "order-1", []domain.ReservationItem{
		{ProductID: "tv", Quantity: 6},
		{ProductID: "tv", Quantity: 6},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Reserved() {
		t.Fatal("two lines of 6 against total 10 must be rejected")
	}
	if !strings.Contains(outcome.Reason, "available 4") {
		t.Errorf("second line should see the first line's hold, got %q", outcome.Reason)
	}
}

func TestTryReserveAll_RedeliveryReplaysOutcome(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 10})
	items := []domain.ReservationItem{{ProductID: "tv", Quantity: 4}}

	first, err := l.TryReserveAll(context.Background(), "order-1", items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := l.TryReserveAll(context.Background(), "order-1", items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Status != first.Status || !second.DecidedAt.Equal(first.DecidedAt) {
		t.Errorf("redelivery must replay the recorded outcome: first=%+v second=%+v", first, second)
	}

	rec, _ := l.Status(context.Background(), "tv")
	if rec.Reserved != 4 {
		t.Errorf("redelivery must not double-reserve, reserved=%d", rec.Reserved)
	}
}

func TestRelease_RoundTrip(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 25})
	items := []domain.ReservationItem{{ProductID: "tv", Quantity: 5}}

	if _, err := l.TryReserveAll(context.Background(), "order-1", items); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Release(context.Background(), items); err != nil {
		t.Fatalf("release: %v", err)
	}

	rec, _ := l.Status(context.Background(), "tv")
	if rec.Available() != 25 || rec.Reserved != 0 {
		t.Errorf("release must restore pre-reservation state: %+v", rec)
	}
}

func TestRelease_ClampsAtZero(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 25})
	items := []domain.ReservationItem{{ProductID: "tv", Quantity: 5}}

	if err := l.Release(context.Background(), items); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := l.Release(context.Background(), []domain.ReservationItem{{ProductID: "ghost", Quantity: 1}}); err != nil {
		t.Fatalf("release of unknown product must be a no-op: %v", err)
	}

	rec, _ := l.Status(context.Background(), "tv")
	if rec.Reserved != 0 {
		t.Errorf("reserved must be clamped at zero, got %d", rec.Reserved)
	}
}

func TestTryReserveAll_NoOversellUnderConcurrency(t *testing.T) {
	const (
		total   = 10
		workers = 100
	)
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: total})

	var wg sync.WaitGroup
	outcomes := make([]domain.Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := l.TryReserveAll(context.Background(), fmt.Sprintf("order-%d", i), []domain.ReservationItem{{ProductID: "tv", Quantity: 1}})
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	var reservedSum int64
	for _, o := range outcomes {
		if o.Reserved() {
			for _, it := range o.ReservedItems {
				reservedSum += it.Quantity
			}
		}
	}
	if reservedSum != total {
		t.Errorf("expected exactly %d successful reservations, got %d", total, reservedSum)
	}

	rec, _ := l.Status(context.Background(), "tv")
	if rec.Reserved != total || rec.Available() != 0 {
		t.Errorf("ledger oversold or undersold: %+v", rec)
	}
}

func TestAdjustTotal_GuardsReserved(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 10})
	if _, err := l.TryReserveAll(context.Background(), "order-1", []domain.ReservationItem{{ProductID: "tv", Quantity: 6}}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := l.AdjustTotal(context.Background(), "tv", 5); err == nil {
		t.Fatal("adjusting total below reserved must fail")
	}
	if err := l.AdjustTotal(context.Background(), "tv", 6); err != nil {
		t.Fatalf("adjusting total to reserved must succeed: %v", err)
	}

	rec, _ := l.Status(context.Background(), "tv")
	if rec.Total != 6 || rec.Available() != 0 {
		t.Errorf("unexpected record after adjust: %+v", rec)
	}
}

func TestCreateProduct_Duplicate(t *testing.T) {
	l := newTestLedger(t, domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 10})
	err := l.CreateProduct(context.Background(), domain.ProductStock{ProductID: "tv", ProductName: "TV", Total: 3})
	if err == nil {
		t.Fatal("expected duplicate product error")
	}
}
