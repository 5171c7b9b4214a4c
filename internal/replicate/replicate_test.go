package replicate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/polycopy/polycopy/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memLedger is an in-memory domain.Ledger for exercising the pipeline
// without Postgres. It enforces the same admission and terminal-write rules
// as the real store, and like the real store it fails writes once the
// caller's context is cancelled.
type memLedger struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
	orders map[string]domain.CopyOrder
	order  []string // insertion order, stands in for created_at ordering
}

func newMemLedger() *memLedger {
	return &memLedger{
		trades: make(map[string]domain.Trade),
		orders: make(map[string]domain.CopyOrder),
	}
}

func (l *memLedger) InsertIfAbsent(ctx context.Context, trade domain.Trade, order domain.CopyOrder) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.trades[trade.TradeID]; exists {
		return false, nil
	}
	l.trades[trade.TradeID] = trade
	l.orders[trade.TradeID] = order
	l.order = append(l.order, trade.TradeID)
	return true, nil
}

func (l *memLedger) UpdateStatus(ctx context.Context, tradeID string, status domain.OrderStatus, retryCount int, venueOrderID, failReason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[tradeID]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status.Terminal() {
		return domain.ErrTerminalOrder
	}
	o.Status = status
	o.RetryCount = retryCount
	if venueOrderID != "" {
		o.VenueOrderID = venueOrderID
	}
	if failReason != "" {
		o.FailReason = failReason
	}
	l.orders[tradeID] = o
	return nil
}

func (l *memLedger) ListByStatus(_ context.Context, status domain.OrderStatus) ([]domain.CopyOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.CopyOrder
	for _, id := range l.order {
		if o := l.orders[id]; o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (l *memLedger) GetTrade(_ context.Context, tradeID string) (domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[tradeID]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (l *memLedger) GetOrder(_ context.Context, tradeID string) (domain.CopyOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[tradeID]
	if !ok {
		return domain.CopyOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (l *memLedger) LastObservedAt(_ context.Context) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var latest time.Time
	for _, t := range l.trades {
		if t.ObservedAt.After(latest) {
			latest = t.ObservedAt
		}
	}
	return latest, nil
}

func (l *memLedger) get(tradeID string) domain.CopyOrder {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.orders[tradeID]
}

// scriptedExecutor replays a fixed sequence of errors, then succeeds.
type scriptedExecutor struct {
	mu      sync.Mutex
	script  []error // error per attempt; nil entry means success
	calls   int
	orderID string
}

func (e *scriptedExecutor) Execute(_ context.Context, _ domain.OrderRequest) (domain.OrderConfirmation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.calls < len(e.script) {
		err = e.script[e.calls]
	}
	e.calls++
	if err != nil {
		return domain.OrderConfirmation{}, err
	}
	id := e.orderID
	if id == "" {
		id = "venue-1"
	}
	return domain.OrderConfirmation{OrderID: id, Status: "matched"}, nil
}

func (e *scriptedExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func testTrade(id string) domain.Trade {
	return domain.Trade{
		TradeID:    id,
		MarketID:   "0xcondition",
		AssetID:    "1234",
		Side:       domain.TradeSideBuy,
		Price:      0.57,
		Size:       10.0,
		ObservedAt: time.Now(),
	}
}
