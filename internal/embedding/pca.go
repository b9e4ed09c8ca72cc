package embedding

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Standardize returns a copy of x with every column scaled to zero mean and
// unit population variance. Constant columns are only centered.
func Standardize(x [][]float64) [][]float64 {
	n, d := len(x), len(x[0])
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, d)
	}

	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for i := range x {
			out[i][j] = (x[i][j] - mean) / std
		}
	}
	return out
}

// PCA2 projects z onto its first two principal components and returns the
// explained variance ratio of those two components.
// Component signs are fixed so the largest loading of each is positive.
func PCA2(z [][]float64) ([][2]float64, float64, error) {
	n, d := len(z), len(z[0])
	a := mat.NewDense(n, d, nil)
	for i, row := range z {
		a.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(a, nil); !ok {
		return nil, 0, fmt.Errorf("principal components analysis failed")
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	_, k := vecs.Dims()
	comps := min(2, k)

	var total, top float64
	for i, v := range vars {
		total += v
		if i < comps {
			top += v
		}
	}
	ratio := 0.0
	if total > 0 {
		ratio = top / total
	}

	// Center with the column means; z is standardized so this is usually a no-op.
	means := make([]float64, d)
	for j := 0; j < d; j++ {
		means[j] = stat.Mean(mat.Col(nil, j, a), nil)
	}

	out := make([][2]float64, n)
	for c := 0; c < comps; c++ {
		vec := mat.Col(nil, c, &vecs)
		sign := loadingSign(vec)
		for i := 0; i < n; i++ {
			var s float64
			for j := 0; j < d; j++ {
				s += (z[i][j] - means[j]) * vec[j]
			}
			out[i][c] = sign * s
		}
	}
	return out, ratio, nil
}

func loadingSign(vec []float64) float64 {
	best := 0
	for i, v := range vec {
		if math.Abs(v) > math.Abs(vec[best]) {
			best = i
		}
	}
	if vec[best] < 0 {
		return -1
	}
	return 1
}
