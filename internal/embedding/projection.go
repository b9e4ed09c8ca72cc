// Package embedding computes two-dimensional projections of the snapshot
// history: a linear one (PCA) and a non-linear one (UMAP-style layout).
package embedding

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when fewer than two rows are eligible.
var ErrInsufficientData = errors.New("insufficient data for projection")

// Options tunes the non-linear layout.
type Options struct {
	NNeighbors int     // default 15, capped at n-1
	MinDist    float64 // default 0.1
	Spread     float64 // default 1.0
	Epochs     int     // default 200
	Seed       int64   // default 42
	// Negative samples per positive edge sample.
	NegativeSampleRate int // default 5
}

func (o Options) withDefaults() Options {
	if o.NNeighbors <= 0 {
		o.NNeighbors = 15
	}
	if o.MinDist <= 0 {
		o.MinDist = 0.1
	}
	if o.Spread <= 0 {
		o.Spread = 1.0
	}
	if o.Epochs <= 0 {
		o.Epochs = 200
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.NegativeSampleRate <= 0 {
		o.NegativeSampleRate = 5
	}
	return o
}

// Projection holds one 2-D point per input row, in input order.
type Projection struct {
	PCA               [][2]float64
	UMAP              [][2]float64
	ExplainedVariance float64 // share of total variance captured by PC1+PC2
}

// Project standardizes x (n rows × d features) and computes both projections.
func Project(x [][]float64, opts Options) (*Projection, error) {
	if len(x) < 2 {
		return nil, fmt.Errorf("%w: %d rows, need at least 2", ErrInsufficientData, len(x))
	}
	d := len(x[0])
	for i, row := range x {
		if len(row) != d {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), d)
		}
	}
	opts = opts.withDefaults()

	z := Standardize(x)

	pca, ratio, err := PCA2(z)
	if err != nil {
		return nil, err
	}

	layout, err := UMAP2(z, pca, opts)
	if err != nil {
		return nil, err
	}

	return &Projection{PCA: pca, UMAP: layout, ExplainedVariance: ratio}, nil
}
