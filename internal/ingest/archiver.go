package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/polycopy/polycopy/internal/domain"
	"github.com/polycopy/polycopy/internal/platform/goldsky"
)

// multipartThreshold switches uploads to the multipart path for batches
// larger than a single-shot PutObject comfortably handles.
const multipartThreshold = 8 * 1024 * 1024

// MultipartWriter is an optional extension of domain.BlobWriter for large
// objects. The S3 writer implements it.
type MultipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver uploads every raw fill batch to object storage as CSV, keeping an
// audit copy of exactly what the feed delivered.
type Archiver struct {
	writer domain.BlobWriter
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing through the given blob writer.
func NewArchiver(writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		logger: logger.With(slog.String("component", "fill_archiver")),
	}
}

// Archive serializes the batch to CSV and uploads it under a
// date-partitioned key.
func (a *Archiver) Archive(ctx context.Context, fills []goldsky.OrderFill) error {
	if len(fills) == 0 {
		return nil
	}

	csvData, err := fillsToCSV(fills)
	if err != nil {
		return fmt.Errorf("converting fills to CSV: %w", err)
	}

	now := time.Now().UTC()
	path := fmt.Sprintf("fills/%s/%s.csv", now.Format("2006-01-02"), now.Format("150405.000"))

	// Large batches go through the multipart path when the writer supports it.
	if mw, ok := a.writer.(MultipartWriter); ok && len(csvData) > multipartThreshold {
		if err := mw.PutMultipart(ctx, path, bytes.NewReader(csvData), 0); err != nil {
			return fmt.Errorf("uploading CSV to %s: %w", path, err)
		}
	} else if err := a.writer.Put(ctx, path, bytes.NewReader(csvData), "text/csv"); err != nil {
		return fmt.Errorf("uploading CSV to %s: %w", path, err)
	}

	a.logger.Info("raw fills archived",
		slog.Int("fills_count", len(fills)),
		slog.String("path", path),
	)
	return nil
}

// fillsToCSV converts a slice of fills to CSV bytes with a header row.
func fillsToCSV(fills []goldsky.OrderFill) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"id",
		"timestamp",
		"maker",
		"maker_asset_id",
		"maker_amount_filled",
		"taker",
		"taker_asset_id",
		"taker_amount_filled",
		"fee",
		"transaction_hash",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}

	for _, f := range fills {
		row := []string{
			f.ID,
			strconv.FormatInt(f.Timestamp, 10),
			f.Maker,
			f.MakerAssetID,
			bigString(f.MakerAmountFilled),
			f.Taker,
			f.TakerAssetID,
			bigString(f.TakerAmountFilled),
			bigString(f.Fee),
			f.TransactionHash,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV writer: %w", err)
	}

	return buf.Bytes(), nil
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
