package replicate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/polycopy/polycopy/internal/domain"
)

// Replicator consumes normalized trades and drives each one through
// admission, sizing, and execution. Admission is the ledger's atomic
// conditional insert: exactly one observation of a trade ID wins, so
// redelivered events fall out here without side effects.
type Replicator struct {
	ledger domain.Ledger
	sizer  *PositionSizer
	coord  *RetryCoordinator
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewReplicator wires the admission, sizing, and execution stages.
func NewReplicator(ledger domain.Ledger, sizer *PositionSizer, coord *RetryCoordinator, logger *slog.Logger) *Replicator {
	return &Replicator{
		ledger: ledger,
		sizer:  sizer,
		coord:  coord,
		logger: logger.With(slog.String("component", "replicator")),
	}
}

// Run consumes trades from in until ctx is cancelled, then waits for all
// in-flight executions to settle or park themselves as pending.
func (r *Replicator) Run(ctx context.Context, in <-chan domain.Trade) error {
	defer r.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trade, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.handle(ctx, trade); err != nil {
				r.logger.Error("trade handling failed",
					slog.String("trade_id", trade.TradeID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// handle admits one trade and, when admission wins, hands the resulting
// pending order to the executor on its own goroutine so a slow venue call
// never blocks ingestion.
func (r *Replicator) handle(ctx context.Context, trade domain.Trade) error {
	scaled := r.sizer.Scale(trade.Size)

	order := domain.CopyOrder{
		TradeID:    trade.TradeID,
		Status:     domain.OrderStatusPending,
		ScaledSize: scaled,
	}

	inserted, err := r.ledger.InsertIfAbsent(ctx, trade, order)
	if err != nil {
		return fmt.Errorf("replicate: admit trade %s: %w", trade.TradeID, err)
	}
	if !inserted {
		r.logger.Debug("duplicate trade dropped",
			slog.String("trade_id", trade.TradeID),
		)
		return nil
	}

	r.logger.Info("trade admitted",
		slog.String("trade_id", trade.TradeID),
		slog.String("side", string(trade.Side)),
		slog.Float64("observed_size", trade.Size),
		slog.Float64("scaled_size", scaled),
		slog.Float64("price", trade.Price),
	)

	// Sizes below the venue minimum can never fill; fail without touching
	// the venue, retry count untouched. The write is detached from ctx so an
	// admitted verdict always lands, even mid-shutdown.
	if err := r.sizer.CheckMin(scaled); err != nil {
		reason := failReason(err)
		if uerr := r.ledger.UpdateStatus(context.WithoutCancel(ctx), trade.TradeID, domain.OrderStatusFailed, order.RetryCount, "", reason); uerr != nil {
			return fmt.Errorf("replicate: persist undersized order %s: %w", trade.TradeID, uerr)
		}
		r.logger.Warn("order below venue minimum",
			slog.String("trade_id", trade.TradeID),
			slog.Float64("scaled_size", scaled),
		)
		return nil
	}

	// Snap the submission price onto the venue grid.
	trade.Price = r.sizer.SnapPrice(trade.Price)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.coord.Process(ctx, trade, order)
	}()

	return nil
}
