package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/polycopy/polycopy/internal/domain"
	"github.com/polycopy/polycopy/internal/platform/goldsky"
)

// usdcAssetID identifies the collateral side of a fill. When the maker asset
// is USDC, the maker is buying tokens; when the taker asset is USDC, the
// taker is buying.
const usdcAssetID = "0"

// fetchLimit caps the number of fills requested per poll.
const fetchLimit = 1000

// priceUnit is the 1e18 fixed-point scale used for fill prices.
var priceUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FillFetcher retrieves raw on-chain order-filled events for an actor.
type FillFetcher interface {
	FetchOrderFills(ctx context.Context, actor string, since time.Time, first int) ([]goldsky.OrderFill, error)
}

// GoldskySource polls the Goldsky subgraph for the target actor's fills,
// archives the raw batches, and emits them as FillEvents.
type GoldskySource struct {
	fetcher  FillFetcher
	target   string
	interval time.Duration
	archiver *Archiver // optional
	logger   *slog.Logger
}

// NewGoldskySource creates a polling fill source for the given target actor.
// archiver may be nil to disable raw-fill archival.
func NewGoldskySource(fetcher FillFetcher, target string, interval time.Duration, archiver *Archiver, logger *slog.Logger) *GoldskySource {
	return &GoldskySource{
		fetcher:  fetcher,
		target:   strings.ToLower(target),
		interval: interval,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "goldsky_source")),
	}
}

// Run polls the subgraph until ctx is cancelled. It tracks the last seen
// block timestamp so each poll only fetches new fills, and keeps running
// through transient fetch errors.
func (s *GoldskySource) Run(ctx context.Context, since time.Time, out chan<- domain.FillEvent) error {
	// Seen event IDs at the resume boundary, keyed to their block timestamp:
	// the timestamp_gte filter re-delivers the final block of the previous
	// poll, so fills already emitted this session are suppressed here.
	// Cross-restart duplicates are handled downstream by ledger admission.
	seen := make(map[string]int64)

	last := since

	// Poll immediately on start, then on the ticker.
	if next, err := s.poll(ctx, last, seen, out); err != nil {
		s.logger.Error("goldsky poll failed", slog.String("error", err.Error()))
	} else {
		last = next
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("goldsky source stopped")
			return ctx.Err()
		case <-ticker.C:
			next, err := s.poll(ctx, last, seen, out)
			if err != nil {
				s.logger.Error("goldsky poll failed", slog.String("error", err.Error()))
				continue
			}
			last = next
		}
	}
}

// poll fetches one batch of fills, archives it, and emits converted events.
// It returns the timestamp to resume from on the next poll.
func (s *GoldskySource) poll(ctx context.Context, since time.Time, seen map[string]int64, out chan<- domain.FillEvent) (time.Time, error) {
	fills, err := s.fetcher.FetchOrderFills(ctx, s.target, since, fetchLimit)
	if err != nil {
		return since, fmt.Errorf("fetching order fills since %v: %w", since, err)
	}
	if len(fills) == 0 {
		return since, nil
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, fills); err != nil {
			// Archival is best effort; the pipeline keeps going.
			s.logger.Warn("raw fill archive failed", slog.String("error", err.Error()))
		}
	}

	last := since
	for _, fill := range fills {
		if ts := time.Unix(fill.Timestamp, 0); ts.After(last) {
			last = ts
		}

		if _, dup := seen[fill.ID]; dup {
			continue
		}
		seen[fill.ID] = fill.Timestamp

		event, ok := s.toFillEvent(fill)
		if !ok {
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}

	// Only fills at the resume boundary can be re-delivered; entries behind
	// it fall out of the next query's window and can be forgotten.
	cutoff := last.Unix()
	for id, ts := range seen {
		if ts < cutoff {
			delete(seen, id)
		}
	}

	return last, nil
}

// toFillEvent converts a subgraph fill into a FillEvent from the target
// actor's perspective. Returns false when the fill does not involve the
// target or its amounts are unusable.
func (s *GoldskySource) toFillEvent(fill goldsky.OrderFill) (domain.FillEvent, bool) {
	maker := strings.ToLower(fill.Maker)
	taker := strings.ToLower(fill.Taker)

	var actorAsset string
	switch s.target {
	case maker:
		actorAsset = fill.MakerAssetID
	case taker:
		actorAsset = fill.TakerAssetID
	default:
		return domain.FillEvent{}, false
	}

	// The actor is buying when it gives up USDC.
	side := domain.TradeSideSell
	if actorAsset == usdcAssetID {
		side = domain.TradeSideBuy
	}

	// Collateral and token legs, both 1e6 fixed point on chain.
	var collateral, tokens *big.Int
	var assetID string
	if fill.MakerAssetID == usdcAssetID {
		collateral, tokens = fill.MakerAmountFilled, fill.TakerAmountFilled
		assetID = fill.TakerAssetID
	} else {
		collateral, tokens = fill.TakerAmountFilled, fill.MakerAmountFilled
		assetID = fill.MakerAssetID
	}

	if tokens == nil || tokens.Sign() <= 0 || collateral == nil {
		return domain.FillEvent{}, false
	}

	// price = collateral / tokens, scaled to 1e18 fixed point. Both legs
	// share the 1e6 scale, so the ratio needs the full 1e18 multiplier.
	price := new(big.Int).Mul(collateral, priceUnit)
	price.Quo(price, tokens)

	return domain.FillEvent{
		EventID:        fill.ID,
		Maker:          maker,
		Taker:          taker,
		AssetID:        assetID,
		Side:           side,
		Price:          price,
		Size:           new(big.Int).Set(tokens),
		BlockTimestamp: fill.Timestamp,
		TxHash:         fill.TransactionHash,
	}, true
}
