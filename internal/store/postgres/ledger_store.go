package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polycopy/polycopy/internal/domain"
)

// LedgerStore implements domain.Ledger using PostgreSQL. Admission of new
// trades relies on the trades primary key: the conditional insert either
// claims the trade ID or observes that another writer already has.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// InsertIfAbsent atomically records a trade together with its pending copy
// order. Returns false when the trade ID is already present; the existing
// record is left untouched.
func (s *LedgerStore) InsertIfAbsent(ctx context.Context, trade domain.Trade, order domain.CopyOrder) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO trades (
			trade_id, market_id, asset_id, side,
			price, size, maker, taker, tx_hash, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (trade_id) DO NOTHING`,
		trade.TradeID, trade.MarketID, trade.AssetID, string(trade.Side),
		trade.Price, trade.Size, trade.Maker, trade.Taker, trade.TxHash,
		trade.ObservedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert trade %s: %w", trade.TradeID, err)
	}
	if tag.RowsAffected() == 0 {
		// Duplicate: some earlier admission already owns this trade ID.
		return false, nil
	}

	status := order.Status
	if status == "" {
		status = domain.OrderStatusPending
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO copy_orders (
			trade_id, status, retry_count, scaled_size, fail_reason, venue_order_id
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		trade.TradeID, string(status), order.RetryCount, order.ScaledSize,
		order.FailReason, order.VenueOrderID,
	); err != nil {
		return false, fmt.Errorf("postgres: insert copy order %s: %w", trade.TradeID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit insert %s: %w", trade.TradeID, err)
	}
	return true, nil
}

// UpdateStatus transitions the copy order for tradeID. Writes against a
// terminal order return domain.ErrTerminalOrder; a missing order returns
// domain.ErrNotFound.
func (s *LedgerStore) UpdateStatus(ctx context.Context, tradeID string, status domain.OrderStatus, retryCount int, venueOrderID, failReason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE copy_orders
		SET status = $2,
		    retry_count = $3,
		    venue_order_id = $4,
		    fail_reason = $5,
		    updated_at = NOW()
		WHERE trade_id = $1
		  AND status NOT IN ('success', 'failed')`,
		tradeID, string(status), retryCount, venueOrderID, failReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", tradeID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row updated: distinguish terminal from missing.
	var existing string
	err = s.pool.QueryRow(ctx,
		"SELECT status FROM copy_orders WHERE trade_id = $1", tradeID,
	).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: order %s: %w", tradeID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: check order %s: %w", tradeID, err)
	}
	return fmt.Errorf("postgres: order %s in status %s: %w", tradeID, existing, domain.ErrTerminalOrder)
}

// ListByStatus returns copy orders in the given status, oldest first.
func (s *LedgerStore) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.CopyOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, status, retry_count, scaled_size,
		       fail_reason, venue_order_id, created_at, updated_at
		FROM copy_orders
		WHERE status = $1
		ORDER BY created_at ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by status: %w", err)
	}
	defer rows.Close()

	var orders []domain.CopyOrder
	for rows.Next() {
		var o domain.CopyOrder
		var st string
		if err := rows.Scan(
			&o.TradeID, &st, &o.RetryCount, &o.ScaledSize,
			&o.FailReason, &o.VenueOrderID, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		o.Status = domain.OrderStatus(st)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders by status: %w", err)
	}
	return orders, nil
}

// GetTrade returns the recorded trade for tradeID.
func (s *LedgerStore) GetTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	var t domain.Trade
	var side string
	err := s.pool.QueryRow(ctx, `
		SELECT trade_id, market_id, asset_id, side,
		       price, size, maker, taker, tx_hash, observed_at
		FROM trades
		WHERE trade_id = $1`,
		tradeID,
	).Scan(
		&t.TradeID, &t.MarketID, &t.AssetID, &side,
		&t.Price, &t.Size, &t.Maker, &t.Taker, &t.TxHash, &t.ObservedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", tradeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", tradeID, err)
	}
	t.Side = domain.TradeSide(side)
	return t, nil
}

// GetOrder returns the copy order for tradeID.
func (s *LedgerStore) GetOrder(ctx context.Context, tradeID string) (domain.CopyOrder, error) {
	var o domain.CopyOrder
	var st string
	err := s.pool.QueryRow(ctx, `
		SELECT trade_id, status, retry_count, scaled_size,
		       fail_reason, venue_order_id, created_at, updated_at
		FROM copy_orders
		WHERE trade_id = $1`,
		tradeID,
	).Scan(
		&o.TradeID, &st, &o.RetryCount, &o.ScaledSize,
		&o.FailReason, &o.VenueOrderID, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CopyOrder{}, fmt.Errorf("postgres: order %s: %w", tradeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CopyOrder{}, fmt.Errorf("postgres: get order %s: %w", tradeID, err)
	}
	o.Status = domain.OrderStatus(st)
	return o, nil
}

// LastObservedAt returns the most recent trade observation time, or the zero
// time when the ledger is empty.
func (s *LedgerStore) LastObservedAt(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT MAX(observed_at) FROM trades").Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres: last observed at: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}
