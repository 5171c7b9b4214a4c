package ingest

import (
	"time"

	"github.com/polycopy/polycopy/internal/domain"
)

// IsStale reports whether an event's block timestamp is older than maxAge
// relative to now. An event exactly maxAge old is still fresh; only strictly
// older events are dropped.
func IsStale(e domain.FillEvent, now time.Time, maxAge time.Duration) bool {
	age := now.Sub(time.Unix(e.BlockTimestamp, 0))
	return age > maxAge
}
