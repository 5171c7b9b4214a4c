package domain

import "time"

// OrderStatus tracks the lifecycle of a follower-side copy order.
//
// Valid transitions: pending -> pending (retry, with an incremented retry
// count), pending -> success, pending -> failed. Success and failed are
// terminal; the ledger rejects writes to a terminal order.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusSuccess OrderStatus = "success"
	OrderStatusFailed  OrderStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusSuccess || s == OrderStatusFailed
}

// CopyOrder is the follower-side execution record for a Trade, 1:1 by
// TradeID. It is created atomically with the Trade at pending status and
// mutated only by the retry coordinator.
type CopyOrder struct {
	TradeID      string
	Status       OrderStatus
	RetryCount   int
	ScaledSize   float64 // trade size after the copy ratio is applied
	FailReason   string  // ExecError code for terminal failures, empty otherwise
	VenueOrderID string  // venue-assigned confirmation id on success
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderRequest is a single order-placement request against the venue's
// execution API.
type OrderRequest struct {
	TradeID  string
	MarketID string
	AssetID  string
	Side     TradeSide
	Price    float64
	Size     float64
}

// OrderConfirmation is the venue's acknowledgement of an accepted order.
type OrderConfirmation struct {
	OrderID string
	Status  string
}
