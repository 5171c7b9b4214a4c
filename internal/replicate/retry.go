package replicate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/polycopy/polycopy/internal/domain"
	"github.com/polycopy/polycopy/internal/notify"
)

// RetryCoordinator owns the copy-order state machine. Every order starts
// pending; the coordinator drives it to success or failed and persists each
// transition before acting on it.
//
// A retryable failure increments the retry count, persists the order as
// still pending, waits out the backoff, and re-invokes the executor. With a
// retry limit of N, an always-failing order is attempted 1+N times and ends
// failed with a retry count of N. Non-retryable failures go terminal
// immediately with the count unchanged.
type RetryCoordinator struct {
	ledger   domain.Ledger
	exec     VenueExecutor
	limit    int
	backoff  time.Duration
	notifier *notify.Notifier // nil disables notifications
	logger   *slog.Logger
}

// attemptTimeout bounds a single venue submission. Attempts run detached
// from the run context so a shutdown signal cannot kill one mid-flight.
const attemptTimeout = 30 * time.Second

// NewRetryCoordinator creates a coordinator with the given retry limit and
// backoff between attempts. notifier may be nil.
func NewRetryCoordinator(ledger domain.Ledger, exec VenueExecutor, limit int, backoff time.Duration, notifier *notify.Notifier, logger *slog.Logger) *RetryCoordinator {
	return &RetryCoordinator{
		ledger:   ledger,
		exec:     exec,
		limit:    limit,
		backoff:  backoff,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "retry_coordinator")),
	}
}

// Process executes the copy order for trade until it reaches a terminal
// status or ctx is cancelled. Cancellation leaves the order pending for the
// next recovery sweep.
func (r *RetryCoordinator) Process(ctx context.Context, trade domain.Trade, order domain.CopyOrder) error {
	req := domain.OrderRequest{
		TradeID:  trade.TradeID,
		MarketID: trade.MarketID,
		AssetID:  trade.AssetID,
		Side:     trade.Side,
		Price:    trade.Price,
		Size:     order.ScaledSize,
	}

	rc := order.RetryCount

	// Attempts and their ledger writes run detached from ctx: once a
	// submission is in flight its verdict must land in the ledger, or the
	// next recovery sweep would re-submit a venue-accepted order. Shutdown
	// is honored between attempts only.
	store := context.WithoutCancel(ctx)

	for {
		attemptCtx, cancel := context.WithTimeout(store, attemptTimeout)
		conf, err := r.exec.Execute(attemptCtx, req)
		cancel()
		if err == nil {
			if uerr := r.ledger.UpdateStatus(store, trade.TradeID, domain.OrderStatusSuccess, rc, conf.OrderID, ""); uerr != nil {
				return fmt.Errorf("replicate: persist success for %s: %w", trade.TradeID, uerr)
			}
			if r.notifier != nil {
				_ = r.notifier.OrderPlaced(store, trade.TradeID, string(trade.Side), order.ScaledSize, trade.Price)
			}
			return nil
		}

		if !domain.IsRetryable(err) {
			return r.fail(store, trade, rc, err)
		}

		// A count persisted under a previous, higher retry_limit can already
		// exceed the current budget.
		if rc >= r.limit {
			r.logger.Warn("retry limit reached",
				slog.String("trade_id", trade.TradeID),
				slog.Int("retry_count", rc),
			)
			return r.fail(store, trade, rc, err)
		}

		// The attempt's verdict is recorded above; between attempts a
		// cancelled run leaves the order pending for the recovery sweep.
		if cerr := ctx.Err(); cerr != nil {
			r.logger.Warn("execution interrupted, order left pending",
				slog.String("trade_id", trade.TradeID),
				slog.Int("retry_count", rc),
			)
			return cerr
		}

		rc++
		if uerr := r.ledger.UpdateStatus(store, trade.TradeID, domain.OrderStatusPending, rc, "", ""); uerr != nil {
			return fmt.Errorf("replicate: persist retry for %s: %w", trade.TradeID, uerr)
		}

		r.logger.Info("retrying order",
			slog.String("trade_id", trade.TradeID),
			slog.Int("retry_count", rc),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff):
		}
	}
}

// fail moves the order to its terminal failed status, recording the
// execution error code as the failure reason.
func (r *RetryCoordinator) fail(ctx context.Context, trade domain.Trade, rc int, execErr error) error {
	reason := failReason(execErr)

	if uerr := r.ledger.UpdateStatus(ctx, trade.TradeID, domain.OrderStatusFailed, rc, "", reason); uerr != nil {
		return fmt.Errorf("replicate: persist failure for %s: %w", trade.TradeID, uerr)
	}

	r.logger.Error("order failed",
		slog.String("trade_id", trade.TradeID),
		slog.String("reason", reason),
		slog.Int("retry_count", rc),
	)
	if r.notifier != nil {
		_ = r.notifier.OrderFailed(ctx, trade.TradeID, reason, rc)
	}

	return fmt.Errorf("replicate: order %s failed: %w", trade.TradeID, execErr)
}

// failReason maps an execution error to the code stored in the ledger.
// Untyped errors are connectivity failures that exhausted the retry budget.
func failReason(err error) string {
	if ee, ok := domain.AsExecError(err); ok {
		return string(ee.Code)
	}
	return string(domain.ExecVenueUnavailable)
}
