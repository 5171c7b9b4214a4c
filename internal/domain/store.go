package domain

import (
	"context"
	"time"
)

// Ledger is the durable key-value store of Trade/CopyOrder records, keyed by
// trade ID. It is the single shared mutable resource of the pipeline: the
// deduplicator owns the existence check (InsertIfAbsent) and the retry
// coordinator owns status mutation (UpdateStatus).
type Ledger interface {
	// InsertIfAbsent atomically records a trade together with its pending
	// copy order. It returns false (and no error) when a record for the
	// trade ID already exists, which is the duplicate-admission signal.
	InsertIfAbsent(ctx context.Context, trade Trade, order CopyOrder) (bool, error)

	// UpdateStatus transitions the order for tradeID. retryCount always
	// overwrites the stored count. venueOrderID and failReason may be empty.
	// Writes against a terminal order return ErrTerminalOrder.
	UpdateStatus(ctx context.Context, tradeID string, status OrderStatus, retryCount int, venueOrderID, failReason string) error

	// ListByStatus returns copy orders in the given status, oldest first.
	ListByStatus(ctx context.Context, status OrderStatus) ([]CopyOrder, error)

	// GetTrade returns the recorded trade for tradeID.
	GetTrade(ctx context.Context, tradeID string) (Trade, error)

	// GetOrder returns the copy order for tradeID.
	GetOrder(ctx context.Context, tradeID string) (CopyOrder, error)

	// LastObservedAt returns the most recent trade observation time, or the
	// zero time when the ledger is empty. Used as the feed resume point.
	LastObservedAt(ctx context.Context) (time.Time, error)
}

// LockManager provides distributed locks so that concurrent instances do not
// recover the same pending order.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL, returning an
	// unlock function. Returns ErrLockHeld when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles calls against the venue execution API.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of limit requests per window, counting the request if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Wait blocks until a request for key is allowed or ctx is cancelled.
	Wait(ctx context.Context, key string) error
}
