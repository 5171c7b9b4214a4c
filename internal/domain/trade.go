package domain

import (
	"math/big"
	"time"
)

// TradeSide indicates the target actor's direction in a fill.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is an observed fill on the target actor's account, normalized from a
// raw venue feed event. A Trade is immutable once recorded; only the derived
// CopyOrder changes state afterwards.
type Trade struct {
	// TradeID is the globally unique event identifier, derived from the
	// originating transaction (subgraph event id, "txhash-logindex").
	TradeID    string
	MarketID   string
	AssetID    string
	Side       TradeSide
	Price      float64 // venue-native price in collateral units per token
	Size       float64 // token amount in base units
	Maker      string
	Taker      string
	TxHash     string
	ObservedAt time.Time // block-level inclusion time
}

// FillEvent is a raw order-filled record as delivered by a venue feed
// adapter. Price and Size are fixed-point integers in the venue's on-chain
// scales; conversion to float happens during normalization in the ingestor.
type FillEvent struct {
	EventID        string
	Maker          string
	Taker          string
	MarketID       string
	AssetID        string
	Side           TradeSide
	Price          *big.Int // fixed-point, 1e18 scale
	Size           *big.Int // fixed-point, 1e6 scale
	BlockTimestamp int64    // unix seconds
	TxHash         string
}

// Fixed-point scales used by the venue feed.
var (
	priceScale = new(big.Float).SetFloat64(1e18)
	sizeScale  = new(big.Float).SetFloat64(1e6)
)

// PriceFloat converts the 1e18 fixed-point price to a float64.
func (e FillEvent) PriceFloat() float64 {
	if e.Price == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(e.Price), priceScale).Float64()
	return f
}

// SizeFloat converts the 1e6 fixed-point size to a float64.
func (e FillEvent) SizeFloat() float64 {
	if e.Size == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(e.Size), sizeScale).Float64()
	return f
}
