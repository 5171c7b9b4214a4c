package ingest

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polycopy/polycopy/internal/domain"
	"github.com/polycopy/polycopy/internal/platform/goldsky"
)

const testActor = "0xAbCd000000000000000000000000000000000001"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// usdcLeg builds a fill where the maker pays USDC (collateral) for tokens.
func usdcLeg(id, maker, taker string, collateral, tokens int64) goldsky.OrderFill {
	return goldsky.OrderFill{
		ID:                id,
		TransactionHash:   "0xtx",
		Timestamp:         1_700_000_000,
		Maker:             maker,
		MakerAssetID:      "0",
		MakerAmountFilled: big.NewInt(collateral),
		Taker:             taker,
		TakerAssetID:      "777",
		TakerAmountFilled: big.NewInt(tokens),
	}
}

func TestToFillEventBuySide(t *testing.T) {
	s := NewGoldskySource(nil, testActor, time.Second, nil, testLogger())

	// Target is the maker, giving up 5.70 USDC for 10 tokens.
	fill := usdcLeg("f1", testActor, "0xother", 5_700_000, 10_000_000)

	event, ok := s.toFillEvent(fill)
	require.True(t, ok)
	require.Equal(t, domain.TradeSideBuy, event.Side)
	require.Equal(t, "777", event.AssetID)
	require.InDelta(t, 0.57, event.PriceFloat(), 1e-12)
	require.InDelta(t, 10.0, event.SizeFloat(), 1e-12)
	require.Equal(t, int64(1_700_000_000), event.BlockTimestamp)
}

func TestToFillEventSellSide(t *testing.T) {
	s := NewGoldskySource(nil, testActor, time.Second, nil, testLogger())

	// Target is the taker receiving USDC, so it sells tokens.
	fill := usdcLeg("f2", "0xother", testActor, 5_700_000, 10_000_000)
	// Swap legs: taker gives tokens, maker gives USDC -> taker asset is USDC.
	fill.MakerAssetID, fill.TakerAssetID = "777", "0"
	fill.MakerAmountFilled, fill.TakerAmountFilled = big.NewInt(10_000_000), big.NewInt(5_700_000)

	event, ok := s.toFillEvent(fill)
	require.True(t, ok)
	require.Equal(t, domain.TradeSideSell, event.Side)
	require.Equal(t, "777", event.AssetID)
	require.InDelta(t, 0.57, event.PriceFloat(), 1e-12)
	require.InDelta(t, 10.0, event.SizeFloat(), 1e-12)
}

func TestToFillEventIgnoresUnrelatedActors(t *testing.T) {
	s := NewGoldskySource(nil, testActor, time.Second, nil, testLogger())

	fill := usdcLeg("f3", "0xsomeone", "0xelse", 1_000_000, 2_000_000)
	_, ok := s.toFillEvent(fill)
	require.False(t, ok)
}

func TestToFillEventAddressComparisonIsCaseInsensitive(t *testing.T) {
	s := NewGoldskySource(nil, testActor, time.Second, nil, testLogger())

	// Subgraph addresses come back lowercased.
	fill := usdcLeg("f4", "0xabcd000000000000000000000000000000000001", "0xother", 1_000_000, 2_000_000)
	event, ok := s.toFillEvent(fill)
	require.True(t, ok)
	require.Equal(t, domain.TradeSideBuy, event.Side)
}

func TestToFillEventRejectsZeroTokenLeg(t *testing.T) {
	s := NewGoldskySource(nil, testActor, time.Second, nil, testLogger())

	fill := usdcLeg("f5", testActor, "0xother", 1_000_000, 0)
	_, ok := s.toFillEvent(fill)
	require.False(t, ok)
}

// queueFetcher returns one scripted batch per call.
type queueFetcher struct {
	batches [][]goldsky.OrderFill
	calls   int
}

func (f *queueFetcher) FetchOrderFills(_ context.Context, _ string, _ time.Time, _ int) ([]goldsky.OrderFill, error) {
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	return batch, nil
}

func TestPollSuppressesRedeliveredFills(t *testing.T) {
	fill := usdcLeg("dup", testActor, "0xother", 5_700_000, 10_000_000)
	fetcher := &queueFetcher{batches: [][]goldsky.OrderFill{{fill}, {fill}}}

	s := NewGoldskySource(fetcher, testActor, time.Second, nil, testLogger())

	out := make(chan domain.FillEvent, 8)
	seen := make(map[string]int64)
	since := time.Unix(1_699_999_000, 0)

	// The timestamp_gte boundary re-delivers the last block, so the second
	// poll returns the same fill again.
	next, err := s.poll(context.Background(), since, seen, out)
	require.NoError(t, err)
	require.Equal(t, time.Unix(1_700_000_000, 0), next)

	_, err = s.poll(context.Background(), next, seen, out)
	require.NoError(t, err)

	require.Len(t, out, 1, "a re-delivered fill must be emitted once per session")
}

func TestPollPrunesSuppressionWindow(t *testing.T) {
	old := usdcLeg("old", testActor, "0xother", 5_700_000, 10_000_000)
	newer := usdcLeg("new", testActor, "0xother", 5_700_000, 10_000_000)
	newer.Timestamp = 1_700_000_600
	fetcher := &queueFetcher{batches: [][]goldsky.OrderFill{{old}, {newer}}}

	s := NewGoldskySource(fetcher, testActor, time.Second, nil, testLogger())

	out := make(chan domain.FillEvent, 8)
	seen := make(map[string]int64)

	next, err := s.poll(context.Background(), time.Unix(1_699_999_000, 0), seen, out)
	require.NoError(t, err)
	require.Contains(t, seen, "old")

	// Once the cursor moves past a fill's block, its suppression entry is no
	// longer needed and must not accumulate for the process lifetime.
	_, err = s.poll(context.Background(), next, seen, out)
	require.NoError(t, err)
	require.NotContains(t, seen, "old", "entries behind the resume boundary are pruned")
	require.Contains(t, seen, "new", "boundary entries stay suppressed")
}
