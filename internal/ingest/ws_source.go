package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/polycopy/polycopy/internal/domain"
	"github.com/polycopy/polycopy/internal/platform/polymarket"
)

const (
	// connectRetryDelay is the base backoff between boot connect attempts.
	connectRetryDelay = 2 * time.Second

	// maxConnectAttempts bounds boot connect retries before giving up.
	maxConnectAttempts = 5
)

// userChannel is the slice of polymarket.UserWSClient the source drives.
type userChannel interface {
	OnTrade(polymarket.TradeHandler)
	Connect(ctx context.Context) error
	Close() error
}

// WSSource adapts the CLOB user-channel WebSocket into a FillSource. The
// user channel streams only the authenticated account's trades, so it is
// usable when the target actor's API credentials are available (i.e. when
// mirroring one of the operator's own accounts).
type WSSource struct {
	client     userChannel
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewWSSource creates a WebSocket fill source.
func NewWSSource(client *polymarket.UserWSClient, logger *slog.Logger) *WSSource {
	return &WSSource{
		client:     client,
		retryDelay: connectRetryDelay,
		logger:     logger.With(slog.String("component", "ws_source")),
	}
}

// Run connects the user channel and forwards trade events until ctx is
// cancelled. The since parameter is ignored: a WebSocket feed has no replay,
// so the ledger's resume point only matters for the polling source.
func (s *WSSource) Run(ctx context.Context, since time.Time, out chan<- domain.FillEvent) error {
	s.client.OnTrade(func(msg polymarket.WSTradeMessage) {
		event, ok := toFillEvent(msg)
		if !ok {
			s.logger.Warn("dropping unparseable trade message",
				slog.String("id", msg.ID),
			)
			return
		}

		select {
		case out <- event:
		case <-ctx.Done():
		}
	})

	if err := s.connect(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	_ = s.client.Close()
	return ctx.Err()
}

// connect dials the user channel with exponential backoff so a venue blip at
// boot does not take the pipeline down. Drops after a successful connect are
// handled by the client's own reconnect loop.
func (s *WSSource) connect(ctx context.Context) error {
	delay := s.retryDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = s.client.Connect(ctx); err == nil {
			return nil
		}
		if attempt >= maxConnectAttempts {
			return fmt.Errorf("ingest: connect user channel: %w", err)
		}

		s.logger.Warn("user channel connect failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// toFillEvent converts a user-channel trade message to a FillEvent,
// promoting the decimal price and size strings to the feed's fixed-point
// scales.
func toFillEvent(msg polymarket.WSTradeMessage) (domain.FillEvent, bool) {
	price, ok := decimalToFixed(msg.Price, 18)
	if !ok {
		return domain.FillEvent{}, false
	}
	size, ok := decimalToFixed(msg.Size, 6)
	if !ok {
		return domain.FillEvent{}, false
	}

	side := domain.TradeSideBuy
	if msg.Side == "SELL" {
		side = domain.TradeSideSell
	}

	ts, err := strconv.ParseInt(msg.MatchTime, 10, 64)
	if err != nil {
		ts, err = strconv.ParseInt(msg.Timestamp, 10, 64)
		if err != nil {
			return domain.FillEvent{}, false
		}
	}
	// Some feeds report milliseconds.
	if ts > 1e12 {
		ts /= 1000
	}

	return domain.FillEvent{
		EventID:        msg.ID,
		Maker:          msg.Maker,
		Taker:          msg.Owner,
		MarketID:       msg.Market,
		AssetID:        msg.AssetID,
		Side:           side,
		Price:          price,
		Size:           size,
		BlockTimestamp: ts,
		TxHash:         msg.TxHash,
	}, true
}

// decimalToFixed parses a decimal string into a fixed-point big.Int with the
// given number of fractional digits.
func decimalToFixed(s string, digits int) (*big.Int, bool) {
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return nil, false
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil))
	f.Mul(f, scale)

	out, _ := f.Int(nil)
	return out, true
}
