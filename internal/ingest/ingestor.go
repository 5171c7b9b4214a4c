package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/polycopy/polycopy/internal/domain"
)

// eventBuffer sizes the source-to-ingestor channel. The goldsky source can
// burst up to a full page of fills per poll.
const eventBuffer = 128

// Ingestor drives a FillSource and turns its events into normalized trades:
// it filters out fills that do not involve the target actor, drops stale
// events, enriches each trade with its market ID, and emits the result.
type Ingestor struct {
	source   FillSource
	ledger   domain.Ledger
	resolver *MarketResolver // optional
	target   common.Address
	maxAge   time.Duration
	logger   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewIngestor creates an Ingestor for the given target actor address.
// resolver may be nil to skip market enrichment.
func NewIngestor(source FillSource, ledger domain.Ledger, resolver *MarketResolver, target string, maxAge time.Duration, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		source:   source,
		ledger:   ledger,
		resolver: resolver,
		target:   common.HexToAddress(target),
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "ingestor")),
		now:      time.Now,
	}
}

// Run consumes the fill source until ctx is cancelled, sending normalized
// trades to out. The feed resumes from the ledger's last observation,
// clamped to the staleness horizon.
func (in *Ingestor) Run(ctx context.Context, out chan<- domain.Trade) error {
	since := in.resumePoint(ctx)
	in.logger.Info("starting fill ingestion",
		slog.String("target", in.target.Hex()),
		slog.Time("since", since),
	)

	events := make(chan domain.FillEvent, eventBuffer)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return in.source.Run(ctx, since, events)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case e := <-events:
				trade, ok := in.normalize(ctx, e)
				if !ok {
					continue
				}
				select {
				case out <- trade:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	return g.Wait()
}

// normalize applies the target filter and staleness check, then converts the
// event to a Trade. Returns false when the event should be dropped.
func (in *Ingestor) normalize(ctx context.Context, e domain.FillEvent) (domain.Trade, bool) {
	// Address comparison goes through common.Address so checksum and case
	// differences cannot split the filter.
	if common.HexToAddress(e.Maker) != in.target && common.HexToAddress(e.Taker) != in.target {
		return domain.Trade{}, false
	}

	if IsStale(e, in.now(), in.maxAge) {
		in.logger.Debug("dropping stale fill",
			slog.String("event_id", e.EventID),
			slog.Int64("block_timestamp", e.BlockTimestamp),
		)
		return domain.Trade{}, false
	}

	marketID := e.MarketID
	if marketID == "" && in.resolver != nil {
		marketID = in.resolver.Resolve(ctx, e.AssetID)
	}

	return domain.Trade{
		TradeID:    e.EventID,
		MarketID:   marketID,
		AssetID:    e.AssetID,
		Side:       e.Side,
		Price:      e.PriceFloat(),
		Size:       e.SizeFloat(),
		Maker:      e.Maker,
		Taker:      e.Taker,
		TxHash:     e.TxHash,
		ObservedAt: time.Unix(e.BlockTimestamp, 0),
	}, true
}

// resumePoint returns the timestamp the feed should resume from: the
// ledger's most recent observation, clamped to the staleness horizon.
func (in *Ingestor) resumePoint(ctx context.Context) time.Time {
	horizon := in.now().Add(-in.maxAge)

	last, err := in.ledger.LastObservedAt(ctx)
	if err != nil {
		in.logger.Warn("resume point lookup failed, using staleness horizon",
			slog.String("error", err.Error()),
		)
		return horizon
	}
	if last.IsZero() || last.Before(horizon) {
		return horizon
	}
	return last
}
