package domain

import "time"

// SnapshotRow is one asset's market state at one fetch time.
// Corresponds to snapshots table. Immutable once appended.
type SnapshotRow struct {
	FetchTime        time.Time // batch fetch time (UTC, ms precision)
	ID               string    // upstream asset identifier
	Name             string
	Symbol           string
	Rank             *int64   // upstream rank, NULL if absent
	Price            float64  // required, non-null
	MarketCap        float64  // required, > 0
	Volume24h        *float64 // NULL if absent or non-numeric
	PercentChange1h  *float64
	PercentChange24h *float64
	PercentChange7d  *float64
}

// Feature names a numeric column used by the embedding projection.
type Feature string

// Projection features, in column order.
const (
	FeaturePrice            Feature = "price"
	FeatureMarketCap        Feature = "market_cap"
	FeatureVolume24h        Feature = "volume_24h"
	FeaturePercentChange1h  Feature = "percent_change_1h"
	FeaturePercentChange24h Feature = "percent_change_24h"
	FeaturePercentChange7d  Feature = "percent_change_7d"
)

// AllFeatures lists the six projection features in column order.
var AllFeatures = []Feature{
	FeaturePrice,
	FeatureMarketCap,
	FeatureVolume24h,
	FeaturePercentChange1h,
	FeaturePercentChange24h,
	FeaturePercentChange7d,
}

// IsValid reports whether f is a known projection feature.
func (f Feature) IsValid() bool {
	for _, known := range AllFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// Value returns the row's value for feature f, or nil if it is NULL.
func (r *SnapshotRow) Value(f Feature) *float64 {
	switch f {
	case FeaturePrice:
		v := r.Price
		return &v
	case FeatureMarketCap:
		v := r.MarketCap
		return &v
	case FeatureVolume24h:
		return r.Volume24h
	case FeaturePercentChange1h:
		return r.PercentChange1h
	case FeaturePercentChange24h:
		return r.PercentChange24h
	case FeaturePercentChange7d:
		return r.PercentChange7d
	default:
		return nil
	}
}

// FeatureVector returns the values of features in order.
// ok is false if any of them is NULL.
func (r *SnapshotRow) FeatureVector(features []Feature) (vec []float64, ok bool) {
	vec = make([]float64, len(features))
	for i, f := range features {
		v := r.Value(f)
		if v == nil {
			return nil, false
		}
		vec[i] = *v
	}
	return vec, true
}

// FeatureFilter restricts ReadAll to rows with non-null values for Required.
// A zero filter matches every row.
type FeatureFilter struct {
	Required []Feature
}

// Matches reports whether row satisfies the filter.
func (f FeatureFilter) Matches(row *SnapshotRow) bool {
	for _, feat := range f.Required {
		if row.Value(feat) == nil {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the row.
func (r *SnapshotRow) Clone() *SnapshotRow {
	c := *r
	c.Rank = cloneInt64(r.Rank)
	c.Volume24h = cloneFloat64(r.Volume24h)
	c.PercentChange1h = cloneFloat64(r.PercentChange1h)
	c.PercentChange24h = cloneFloat64(r.PercentChange24h)
	c.PercentChange7d = cloneFloat64(r.PercentChange7d)
	return &c
}

func cloneFloat64(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
