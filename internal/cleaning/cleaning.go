// Package cleaning turns a staged raw batch into canonical snapshot rows.
package cleaning

import (
	"errors"
	"fmt"
	"time"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/storage"
)

// ErrMalformedBatch is returned for a non-empty batch without a fetch time.
var ErrMalformedBatch = errors.New("malformed batch")

// Result counts the outcome of cleaning one batch.
type Result struct {
	Accepted int
	Rejected int
}

func (r Result) String() string {
	return fmt.Sprintf("accepted %d rows (%d rejected)", r.Accepted, r.Rejected)
}

// Cleaner maps raw records to SnapshotRows for one quote currency.
type Cleaner struct {
	currency string
}

// NewCleaner creates a cleaner. An empty currency means USD.
func NewCleaner(currency string) *Cleaner {
	if currency == "" {
		currency = "USD"
	}
	return &Cleaner{currency: currency}
}

// Clean converts batch into accepted rows. Rejected records are counted,
// never returned. A repeated id within the batch keeps its first accepted
// row; later copies count as rejected. A nil or empty batch yields no rows.
func (c *Cleaner) Clean(batch *domain.RawBatch) ([]*domain.SnapshotRow, Result, error) {
	var res Result
	if batch.Len() == 0 {
		return nil, res, nil
	}
	if batch.FetchTime.IsZero() {
		return nil, res, fmt.Errorf("%w: run %s has no fetch_time", ErrMalformedBatch, batch.RunID)
	}
	fetchTime := storage.NormalizeTime(batch.FetchTime)

	rows := make([]*domain.SnapshotRow, 0, batch.Len())
	seen := make(map[string]struct{}, batch.Len())
	for _, rec := range batch.Records {
		row, ok := c.toRow(rec, fetchTime)
		if !ok {
			res.Rejected++
			continue
		}
		if row.ID != "" {
			if _, dup := seen[row.ID]; dup {
				res.Rejected++
				continue
			}
			seen[row.ID] = struct{}{}
		}
		rows = append(rows, row)
	}
	res.Accepted = len(rows)
	return rows, res, nil
}

// toRow maps one record. ok is false when price or market_cap is missing
// or market_cap is not positive.
func (c *Cleaner) toRow(rec domain.RawRecord, fetchTime time.Time) (*domain.SnapshotRow, bool) {
	price := c.number(rec, "price")
	marketCap := c.number(rec, "market_cap")
	if price == nil || marketCap == nil || *marketCap <= 0 {
		return nil, false
	}

	return &domain.SnapshotRow{
		FetchTime:        fetchTime,
		ID:               toText(rec["id"]),
		Name:             toText(rec["name"]),
		Symbol:           toText(rec["symbol"]),
		Rank:             toInt(first(rec, "rank", "cmc_rank")),
		Price:            *price,
		MarketCap:        *marketCap,
		Volume24h:        c.number(rec, "volume_24h"),
		PercentChange1h:  c.number(rec, "percent_change_1h"),
		PercentChange24h: c.number(rec, "percent_change_24h"),
		PercentChange7d:  c.number(rec, "percent_change_7d"),
	}, true
}

// number reads field from its flat key, falling back to the quote block.
func (c *Cleaner) number(rec domain.RawRecord, field string) *float64 {
	return toFloat(first(rec, field, "quote."+c.currency+"."+field))
}

// first returns the first non-null value among keys.
func first(rec domain.RawRecord, keys ...string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
