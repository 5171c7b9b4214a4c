package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polycopy/polycopy/internal/domain"
)

// recoveryLockPrefix scopes the recovery lock to a single trade ID, so the
// lock TTL has to outlast one order's retries rather than the whole backlog.
const recoveryLockPrefix = "recovery:"

// recoveryLockTTL bounds how long a crashed recovery can block one order.
const recoveryLockTTL = 5 * time.Minute

// RecoverySweeper re-drives copy orders that were left pending by a crash
// or shutdown. It runs once at startup; a distributed lock per trade ID
// keeps concurrent instances from driving the same order.
type RecoverySweeper struct {
	ledger domain.Ledger
	locks  domain.LockManager // nil skips locking (single instance)
	coord  *RetryCoordinator
	logger *slog.Logger
}

// NewRecoverySweeper creates a sweeper. locks may be nil when only a single
// instance runs against the ledger.
func NewRecoverySweeper(ledger domain.Ledger, locks domain.LockManager, coord *RetryCoordinator, logger *slog.Logger) *RecoverySweeper {
	return &RecoverySweeper{
		ledger: ledger,
		locks:  locks,
		coord:  coord,
		logger: logger.With(slog.String("component", "recovery_sweeper")),
	}
}

// Sweep replays all pending orders sequentially, oldest first. Each order
// resumes from its persisted retry count, so the retry budget spans
// restarts. Orders already being recovered elsewhere are skipped.
func (s *RecoverySweeper) Sweep(ctx context.Context) error {
	pending, err := s.ledger.ListByStatus(ctx, domain.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("replicate: list pending orders: %w", err)
	}
	if len(pending) == 0 {
		s.logger.Info("no pending orders to recover")
		return nil
	}

	s.logger.Info("recovering pending orders", slog.Int("count", len(pending)))

	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.recover(ctx, order.TradeID); err != nil {
			return err
		}
	}

	return nil
}

// recover replays one pending order under its per-trade lock. An order held
// by another instance is skipped, not an error.
func (s *RecoverySweeper) recover(ctx context.Context, tradeID string) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, recoveryLockPrefix+tradeID, recoveryLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.Info("order recovery running elsewhere, skipping",
				slog.String("trade_id", tradeID),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("replicate: acquire recovery lock for %s: %w", tradeID, err)
		}
		defer unlock()
	}

	// Re-read under the lock: another instance may have settled the order
	// between listing and locking.
	order, err := s.ledger.GetOrder(ctx, tradeID)
	if err != nil {
		s.logger.Error("pending order vanished before recovery",
			slog.String("trade_id", tradeID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if order.Status != domain.OrderStatusPending {
		return nil
	}

	trade, err := s.ledger.GetTrade(ctx, tradeID)
	if err != nil {
		s.logger.Error("pending order without trade record",
			slog.String("trade_id", tradeID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	// Process handles its own terminal bookkeeping; errors here mean the
	// order went failed or ctx was cancelled, both already logged.
	_ = s.coord.Process(ctx, trade, order)
	return nil
}
