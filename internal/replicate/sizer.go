// Package replicate turns normalized target trades into follower orders:
// deduplicated admission into the ledger, position sizing, bounded-retry
// execution, and startup recovery of interrupted orders.
package replicate

import (
	"fmt"
	"math"

	"github.com/polycopy/polycopy/internal/domain"
)

// PositionSizer derives the follower's order size and price from an observed
// trade. Sizing is deterministic: the same trade always produces the same
// scaled size.
type PositionSizer struct {
	ratio    float64
	minSize  float64
	tickSize float64
}

// NewPositionSizer creates a sizer with the given copy ratio, venue minimum
// order size, and price tick.
func NewPositionSizer(ratio, minSize, tickSize float64) *PositionSizer {
	return &PositionSizer{
		ratio:    ratio,
		minSize:  minSize,
		tickSize: tickSize,
	}
}

// Scale returns the follower-side size for an observed size.
func (s *PositionSizer) Scale(observed float64) float64 {
	return observed * s.ratio
}

// CheckMin validates a scaled size against the venue minimum. Sizes below
// the minimum can never fill, so the error is non-retryable.
func (s *PositionSizer) CheckMin(size float64) error {
	if size < s.minSize {
		return domain.NewExecError(domain.ExecBelowMinimumSize,
			fmt.Sprintf("scaled size %.6f below venue minimum %.6f", size, s.minSize))
	}
	return nil
}

// SnapPrice snaps a price onto the venue tick grid and clamps it inside the
// open (0, 1) interval prediction-market prices live in.
func (s *PositionSizer) SnapPrice(price float64) float64 {
	snapped := math.Round(price/s.tickSize) * s.tickSize

	if snapped < s.tickSize {
		snapped = s.tickSize
	}
	if snapped > 1-s.tickSize {
		snapped = 1 - s.tickSize
	}
	return snapped
}
