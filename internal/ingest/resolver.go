package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/polycopy/polycopy/internal/platform/polymarket"
)

// MarketLookup resolves market metadata from a CLOB token ID.
type MarketLookup interface {
	GetMarketByToken(ctx context.Context, tokenID string) (polymarket.Market, error)
}

// MarketResolver maps asset (token) IDs to market condition IDs with an
// in-memory cache. Token-to-market bindings never change, so entries are
// cached forever.
type MarketResolver struct {
	lookup MarketLookup
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string // asset id -> condition id
}

// NewMarketResolver creates a resolver backed by the given market lookup.
func NewMarketResolver(lookup MarketLookup, logger *slog.Logger) *MarketResolver {
	return &MarketResolver{
		lookup: lookup,
		logger: logger.With(slog.String("component", "market_resolver")),
		cache:  make(map[string]string),
	}
}

// Resolve returns the condition ID of the market trading assetID, or the
// empty string when the lookup fails. Resolution failure is not fatal: the
// replicated order is keyed by asset ID, the market ID is enrichment.
func (r *MarketResolver) Resolve(ctx context.Context, assetID string) string {
	r.mu.RLock()
	id, ok := r.cache[assetID]
	r.mu.RUnlock()
	if ok {
		return id
	}

	market, err := r.lookup.GetMarketByToken(ctx, assetID)
	if err != nil {
		r.logger.Warn("market lookup failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
		return ""
	}

	r.mu.Lock()
	r.cache[assetID] = market.ConditionID
	r.mu.Unlock()

	return market.ConditionID
}
