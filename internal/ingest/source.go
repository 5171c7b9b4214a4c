// Package ingest turns raw venue fill feeds into normalized trades: feed
// adapters, target-actor filtering, staleness checks, and the raw-fill
// archive.
package ingest

import (
	"context"
	"time"

	"github.com/polycopy/polycopy/internal/domain"
)

// FillSource delivers the target actor's fills as FillEvents. Run blocks
// until ctx is cancelled, sending every observed fill at or after the since
// timestamp to out.
type FillSource interface {
	Run(ctx context.Context, since time.Time, out chan<- domain.FillEvent) error
}
