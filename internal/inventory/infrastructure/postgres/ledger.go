package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/inventory-service/internal/inventory/domain"
)

// Ledger is the transactional stock ledger. A reservation batch runs in one
// transaction: rows are locked in stable product-id order, checked, mutated,
// and the decision is recorded in the reservations log before commit.
type Ledger struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewLedger(log *slog.Logger, pool *pgxpool.Pool) *Ledger {
	return &Ledger{log: log, pool: pool}
}

// EnsureSchema creates the ledger tables. Run once at startup.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS product_stock (
			product_id   TEXT PRIMARY KEY,
			product_name TEXT NOT NULL,
			total        BIGINT NOT NULL CHECK (total >= 0),
			reserved     BIGINT NOT NULL DEFAULT 0 CHECK (reserved >= 0 AND reserved <= total),
			last_updated TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS reservations (
			order_id           TEXT PRIMARY KEY,
			status             TEXT NOT NULL,
			reason             TEXT NOT NULL DEFAULT '',
			failing_product_id TEXT NOT NULL DEFAULT '',
			items              JSONB NOT NULL,
			decided_at         TIMESTAMPTZ NOT NULL
		)`)
	return err
}

type reservedLine struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

func (l *Ledger) TryReserveAll(ctx context.Context, orderID string, items []domain.ReservationItem) (domain.Outcome, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Replay guard: an already decided order returns its recorded outcome.
	if outcome, ok, err := l.recordedOutcome(ctx, tx, orderID); err != nil {
		return domain.Outcome{}, err
	} else if ok {
		l.log.Info("duplicate order replayed from reservations log", "order_id", orderID)
		return outcome, nil
	}

	// Lock the affected rows in sorted order so concurrent batches touching
	// the same products cannot deadlock.
	locked, err := l.lockRows(ctx, tx, items)
	if err != nil {
		return domain.Outcome{}, err
	}

	// Check every line in request order before mutating anything.
	pending := make(map[string]int64, len(items))
	var outcome domain.Outcome
	decided := false
	for _, it := range items {
		rec, ok := locked[it.ProductID]
		if !ok {
			outcome = domain.RejectedOutcome(it.ProductID, domain.NotFoundReason(it.ProductID))
			decided = true
			break
		}
		available := rec.Available() - pending[it.ProductID]
		if available < it.Quantity {
			outcome = domain.RejectedOutcome(it.ProductID, domain.InsufficientStockReason(it.ProductID, it.Quantity, available))
			decided = true
			break
		}
		pending[it.ProductID] += it.Quantity
	}

	if !decided {
		now := time.Now().UTC()
		for id, qty := range pending {
			if _, err := tx.Exec(ctx,
				`UPDATE product_stock SET reserved = reserved + $2, last_updated = $3 WHERE product_id = $1`,
				id, qty, now); err != nil {
				return domain.Outcome{}, fmt.Errorf("reserve %s: %w", id, err)
			}
		}
		outcome = domain.ReservedOutcome(items)
	}

	if err := l.recordOutcome(ctx, tx, orderID, items, outcome); err != nil {
		return domain.Outcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Outcome{}, fmt.Errorf("commit reserve tx: %w", err)
	}
	return outcome, nil
}

func (l *Ledger) recordedOutcome(ctx context.Context, tx pgx.Tx, orderID string) (domain.Outcome, bool, error) {
	var (
		status    string
		reason    string
		failing   string
		itemsJSON []byte
		decidedAt time.Time
	)
	err := tx.QueryRow(ctx,
		`SELECT status, reason, failing_product_id, items, decided_at FROM reservations WHERE order_id = $1`,
		orderID).Scan(&status, &reason, &failing, &itemsJSON, &decidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Outcome{}, false, nil
	}
	if err != nil {
		return domain.Outcome{}, false, fmt.Errorf("load reservation %s: %w", orderID, err)
	}

	outcome := domain.Outcome{
		Status:           domain.OutcomeStatus(status),
		Reason:           reason,
		FailingProductID: failing,
		DecidedAt:        decidedAt,
	}
	if outcome.Reserved() {
		var lines []reservedLine
		if err := json.Unmarshal(itemsJSON, &lines); err != nil {
			return domain.Outcome{}, false, fmt.Errorf("decode reservation %s: %w", orderID, err)
		}
		for _, ln := range lines {
			outcome.ReservedItems = append(outcome.ReservedItems, domain.ReservationItem{ProductID: ln.ProductID, Quantity: ln.Quantity})
		}
	}
	return outcome, true, nil
}

func (l *Ledger) lockRows(ctx context.Context, tx pgx.Tx, items []domain.ReservationItem) (map[string]domain.ProductStock, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	sort.Strings(ids)

	locked := make(map[string]domain.ProductStock, len(ids))
	for _, id := range ids {
		var rec domain.ProductStock
		err := tx.QueryRow(ctx,
			`SELECT product_id, product_name, total, reserved, last_updated FROM product_stock WHERE product_id = $1 FOR UPDATE`,
			id).Scan(&rec.ProductID, &rec.ProductName, &rec.Total, &rec.Reserved, &rec.LastUpdated)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", id, err)
		}
		locked[id] = rec
	}
	return locked, nil
}

func (l *Ledger) recordOutcome(ctx context.Context, tx pgx.Tx, orderID string, items []domain.ReservationItem, outcome domain.Outcome) error {
	lines := make([]reservedLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, reservedLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	itemsJSON, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO reservations (order_id, status, reason, failing_product_id, items, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		orderID, string(outcome.Status), outcome.Reason, outcome.FailingProductID, itemsJSON, outcome.DecidedAt)
	if err != nil {
		return fmt.Errorf("record reservation %s: %w", orderID, err)
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, items []domain.ReservationItem) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	for _, it := range items {
		// GREATEST floors the counter at zero on double release.
		if _, err := tx.Exec(ctx,
			`UPDATE product_stock SET reserved = GREATEST(reserved - $2, 0), last_updated = $3 WHERE product_id = $1`,
			it.ProductID, it.Quantity, now); err != nil {
			return fmt.Errorf("release %s: %w", it.ProductID, err)
		}
	}
	return tx.Commit(ctx)
}

func (l *Ledger) Status(ctx context.Context, productID string) (domain.ProductStock, error) {
	var rec domain.ProductStock
	err := l.pool.QueryRow(ctx,
		`SELECT product_id, product_name, total, reserved, last_updated FROM product_stock WHERE product_id = $1`,
		productID).Scan(&rec.ProductID, &rec.ProductName, &rec.Total, &rec.Reserved, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProductStock{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return domain.ProductStock{}, fmt.Errorf("status %s: %w", productID, err)
	}
	return rec, nil
}

func (l *Ledger) List(ctx context.Context) ([]domain.ProductStock, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT product_id, product_name, total, reserved, last_updated FROM product_stock ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []domain.ProductStock
	for rows.Next() {
		var rec domain.ProductStock
		if err := rows.Scan(&rec.ProductID, &rec.ProductName, &rec.Total, &rec.Reserved, &rec.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l *Ledger) CreateProduct(ctx context.Context, rec domain.ProductStock) error {
	if rec.Total < 0 || rec.Reserved < 0 || rec.Reserved > rec.Total {
		return fmt.Errorf("%w: total=%d reserved=%d", domain.ErrInvalidRequest, rec.Total, rec.Reserved)
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO product_stock (product_id, product_name, total, reserved, last_updated) VALUES ($1, $2, $3, $4, $5)`,
		rec.ProductID, rec.ProductName, rec.Total, rec.Reserved, rec.LastUpdated)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrProductExists, rec.ProductID)
	}
	return err
}

func (l *Ledger) AdjustTotal(ctx context.Context, productID string, total int64) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin adjust tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var reserved int64
	err = tx.QueryRow(ctx,
		`SELECT reserved FROM product_stock WHERE product_id = $1 FOR UPDATE`,
		productID).Scan(&reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return fmt.Errorf("adjust %s: %w", productID, err)
	}
	if total < reserved {
		return fmt.Errorf("%w: total=%d reserved=%d", domain.ErrTotalBelowReserved, total, reserved)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE product_stock SET total = $2, last_updated = $3 WHERE product_id = $1`,
		productID, total, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
