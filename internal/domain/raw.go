package domain

import "time"

// RawRecord is one flat upstream record: field name to raw value.
// Values are strings, numbers (float64, json.Number), bools or nil.
// Nested upstream objects are flattened into dotted keys (quote.USD.price).
type RawRecord map[string]any

// RawBatch is the record set produced by one ingestion.
// FetchTime is applied uniformly to every record in the batch.
type RawBatch struct {
	BatchID   string
	RunID     string
	FetchTime time.Time
	Records   []RawRecord
}

// Len returns the number of records in the batch.
func (b *RawBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}
