package ingest

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polycopy/polycopy/internal/domain"
)

// stubLedger implements only what the ingestor needs: the resume point.
type stubLedger struct {
	domain.Ledger
	last    time.Time
	lastErr error
}

func (s *stubLedger) LastObservedAt(context.Context) (time.Time, error) {
	return s.last, s.lastErr
}

func newTestIngestor(ledger domain.Ledger, now time.Time) *Ingestor {
	in := NewIngestor(nil, ledger, nil, testActor, 5*time.Minute, testLogger())
	in.now = func() time.Time { return now }
	return in
}

func buyEvent(id string, maker, taker string, ts int64) domain.FillEvent {
	return domain.FillEvent{
		EventID:        id,
		Maker:          maker,
		Taker:          taker,
		AssetID:        "777",
		Side:           domain.TradeSideBuy,
		Price:          new(big.Int).Mul(big.NewInt(57), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)), // 0.57
		Size:           big.NewInt(10_000_000),                                                                  // 10.0
		BlockTimestamp: ts,
		TxHash:         "0xtx",
	}
}

func TestNormalizeConvertsFixedPoint(t *testing.T) {
	now := time.Unix(1_700_000_100, 0)
	in := newTestIngestor(&stubLedger{}, now)

	e := buyEvent("e1", testActor, "0xother", 1_700_000_000)
	trade, ok := in.normalize(context.Background(), e)
	require.True(t, ok)

	require.Equal(t, "e1", trade.TradeID)
	require.Equal(t, domain.TradeSideBuy, trade.Side)
	require.InDelta(t, 0.57, trade.Price, 1e-12)
	require.InDelta(t, 10.0, trade.Size, 1e-12)
	require.Equal(t, time.Unix(1_700_000_000, 0), trade.ObservedAt)
}

func TestNormalizeFiltersNonTargetFills(t *testing.T) {
	now := time.Unix(1_700_000_100, 0)
	in := newTestIngestor(&stubLedger{}, now)

	e := buyEvent("e2", "0xsomeone", "0xelse", 1_700_000_000)
	_, ok := in.normalize(context.Background(), e)
	require.False(t, ok)
}

func TestNormalizeTargetMatchIgnoresCase(t *testing.T) {
	now := time.Unix(1_700_000_100, 0)
	in := newTestIngestor(&stubLedger{}, now)

	tests := []struct {
		name  string
		maker string
		taker string
	}{
		{"lowercase maker", "0xabcd000000000000000000000000000000000001", "0xother"},
		{"uppercase taker", "0xother", "0xABCD000000000000000000000000000000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := buyEvent("e3", tt.maker, tt.taker, 1_700_000_000)
			_, ok := in.normalize(context.Background(), e)
			require.True(t, ok)
		})
	}
}

func TestNormalizeDropsStaleEvents(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	in := newTestIngestor(&stubLedger{}, now)

	// Exactly at the staleness horizon: still fresh.
	fresh := buyEvent("e4", testActor, "0xother", now.Add(-5*time.Minute).Unix())
	_, ok := in.normalize(context.Background(), fresh)
	require.True(t, ok)

	stale := buyEvent("e5", testActor, "0xother", now.Add(-5*time.Minute-time.Second).Unix())
	_, ok = in.normalize(context.Background(), stale)
	require.False(t, ok)
}

func TestResumePoint(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	horizon := now.Add(-5 * time.Minute)

	tests := []struct {
		name   string
		ledger *stubLedger
		want   time.Time
	}{
		{"empty ledger uses horizon", &stubLedger{}, horizon},
		{"recent observation wins", &stubLedger{last: now.Add(-time.Minute)}, now.Add(-time.Minute)},
		{"old observation clamped to horizon", &stubLedger{last: now.Add(-time.Hour)}, horizon},
		{"lookup error falls back to horizon", &stubLedger{lastErr: context.DeadlineExceeded}, horizon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newTestIngestor(tt.ledger, now)
			require.Equal(t, tt.want, in.resumePoint(context.Background()))
		})
	}
}
