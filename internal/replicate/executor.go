package replicate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/polycopy/polycopy/internal/domain"
	"github.com/polycopy/polycopy/internal/platform/polymarket"
)

// orderRateKey is the rate-limiter key shared by all order submissions.
const orderRateKey = "clob_orders"

// VenueExecutor places a single order against the venue. Implementations
// return typed execution errors so the retry coordinator can classify
// failures.
type VenueExecutor interface {
	Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderConfirmation, error)
}

// ClobExecutor submits live orders to the Polymarket CLOB, throttled by the
// shared rate limiter.
type ClobExecutor struct {
	client  *polymarket.ClobClient
	limiter domain.RateLimiter // nil disables throttling
	logger  *slog.Logger
}

// NewClobExecutor creates a live executor. limiter may be nil.
func NewClobExecutor(client *polymarket.ClobClient, limiter domain.RateLimiter, logger *slog.Logger) *ClobExecutor {
	return &ClobExecutor{
		client:  client,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "clob_executor")),
	}
}

// Execute submits the order, waiting for rate-limit clearance first.
func (e *ClobExecutor) Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderConfirmation, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, orderRateKey); err != nil {
			return domain.OrderConfirmation{}, err
		}
	}

	conf, err := e.client.PostOrder(ctx, req)
	if err != nil {
		return domain.OrderConfirmation{}, err
	}

	e.logger.Info("order placed",
		slog.String("trade_id", req.TradeID),
		slog.String("order_id", conf.OrderID),
		slog.String("side", string(req.Side)),
		slog.Float64("size", req.Size),
		slog.Float64("price", req.Price),
	)
	return conf, nil
}

// SimulatedExecutor confirms every order without touching the venue. Used
// for dry runs and monitor-adjacent setups where execution must not happen.
type SimulatedExecutor struct {
	logger *slog.Logger
}

// NewSimulatedExecutor creates a no-op executor.
func NewSimulatedExecutor(logger *slog.Logger) *SimulatedExecutor {
	return &SimulatedExecutor{
		logger: logger.With(slog.String("component", "simulated_executor")),
	}
}

// Execute logs the order and returns a synthetic confirmation.
func (e *SimulatedExecutor) Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderConfirmation{}, err
	}

	orderID := "sim-" + uuid.New().String()
	e.logger.Info("simulated order",
		slog.String("trade_id", req.TradeID),
		slog.String("order_id", orderID),
		slog.String("side", string(req.Side)),
		slog.Float64("size", req.Size),
		slog.Float64("price", req.Price),
	)

	return domain.OrderConfirmation{
		OrderID: orderID,
		Status:  "matched",
	}, nil
}

var (
	_ VenueExecutor = (*ClobExecutor)(nil)
	_ VenueExecutor = (*SimulatedExecutor)(nil)
)
