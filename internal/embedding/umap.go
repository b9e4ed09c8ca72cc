package embedding

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

const (
	smoothKTolerance = 1e-5
	minKDistScale    = 1e-3
	sigmaSearchSteps = 64
	gradClip         = 4.0
	initScale        = 10.0
	repulsionGamma   = 1.0
)

// UMAP2 lays z out in two dimensions. init supplies the starting
// coordinates (one per row) and is not modified.
func UMAP2(z [][]float64, init [][2]float64, opts Options) ([][2]float64, error) {
	opts = opts.withDefaults()
	n := len(z)
	if n < 2 {
		return nil, ErrInsufficientData
	}
	k := min(opts.NNeighbors, n-1)

	idx, dist := nearestNeighbors(z, k)
	graph := fuzzyGraph(idx, dist, k)

	rng := rand.New(rand.NewSource(opts.Seed))
	layout := initialLayout(init, rng)

	a, b := fitAB(opts.Spread, opts.MinDist)
	optimizeLayout(layout, graph, a, b, opts, rng)
	return layout, nil
}

type edge struct {
	head, tail int
	weight     float64
}

// fuzzyGraph builds the symmetric membership graph: per-point smooth kNN
// weights combined with the probabilistic union a + b - ab.
// Both directions of every edge are returned, sorted by (head, tail).
func fuzzyGraph(idx [][]int, dist [][]float64, k int) []edge {
	n := len(idx)
	target := math.Log2(float64(k))

	var meanAll float64
	var count int
	for _, ds := range dist {
		for _, d := range ds {
			meanAll += d
			count++
		}
	}
	if count > 0 {
		meanAll /= float64(count)
	}

	directed := make(map[[2]int]float64, n*k)
	for i := 0; i < n; i++ {
		rho, sigma := smoothKNN(dist[i], target, meanAll)
		for p, j := range idx[i] {
			w := 1.0
			if d := dist[i][p] - rho; d > 0 && sigma > 0 {
				w = math.Exp(-d / sigma)
			}
			directed[[2]int{i, j}] = w
		}
	}

	sym := make(map[[2]int]float64, len(directed))
	for key := range directed {
		i, j := key[0], key[1]
		lo, hi := min(i, j), max(i, j)
		if _, done := sym[[2]int{lo, hi}]; done {
			continue
		}
		wij := directed[[2]int{lo, hi}]
		wji := directed[[2]int{hi, lo}]
		sym[[2]int{lo, hi}] = wij + wji - wij*wji
	}

	edges := make([]edge, 0, 2*len(sym))
	for key, w := range sym {
		if w <= 0 {
			continue
		}
		edges = append(edges, edge{head: key[0], tail: key[1], weight: w})
		edges = append(edges, edge{head: key[1], tail: key[0], weight: w})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].head != edges[b].head {
			return edges[a].head < edges[b].head
		}
		return edges[a].tail < edges[b].tail
	})
	return edges
}

// smoothKNN finds rho (distance to the nearest non-identical neighbor) and
// sigma such that sum exp(-(d - rho)/sigma) over the neighbors is log2(k).
func smoothKNN(ds []float64, target, meanAll float64) (rho, sigma float64) {
	for _, d := range ds {
		if d > 0 {
			rho = d
			break
		}
	}

	lo, hi, mid := 0.0, math.Inf(1), 1.0
	for step := 0; step < sigmaSearchSteps; step++ {
		var psum float64
		for _, d := range ds {
			if dd := d - rho; dd > 0 {
				psum += math.Exp(-dd / mid)
			} else {
				psum++
			}
		}
		if math.Abs(psum-target) < smoothKTolerance {
			break
		}
		if psum > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}
	sigma = mid

	var meanI float64
	for _, d := range ds {
		meanI += d
	}
	if len(ds) > 0 {
		meanI /= float64(len(ds))
	}
	if rho > 0 {
		sigma = math.Max(sigma, minKDistScale*meanI)
	} else {
		sigma = math.Max(sigma, minKDistScale*meanAll)
	}
	return rho, sigma
}

// initialLayout scales the initial coordinates into [-10, 10].
// A degenerate init falls back to uniform random coordinates.
func initialLayout(init [][2]float64, rng *rand.Rand) [][2]float64 {
	out := make([][2]float64, len(init))
	var maxAbs float64
	for _, p := range init {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p[0]), math.Abs(p[1])))
	}
	if maxAbs == 0 || math.IsNaN(maxAbs) || math.IsInf(maxAbs, 0) {
		for i := range out {
			out[i] = [2]float64{rng.Float64()*2*initScale - initScale, rng.Float64()*2*initScale - initScale}
		}
		return out
	}
	scale := initScale / maxAbs
	for i, p := range init {
		// Small jitter separates coincident points.
		out[i] = [2]float64{p[0]*scale + rng.NormFloat64()*1e-4, p[1]*scale + rng.NormFloat64()*1e-4}
	}
	return out
}

// fitAB fits 1/(1 + a·x^(2b)) to the target membership curve for the
// given spread and min distance.
func fitAB(spread, minDist float64) (a, b float64) {
	const points = 300
	xs := make([]float64, points)
	ys := make([]float64, points)
	floats.Span(xs, 0, spread*3)
	for i, x := range xs {
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			if p[0] <= 0 || p[1] <= 0 {
				return math.Inf(1)
			}
			var sse float64
			for i, x := range xs {
				r := 1/(1+p[0]*math.Pow(x, 2*p[1])) - ys[i]
				sse += r * r
			}
			return sse
		},
	}
	result, err := optimize.Minimize(problem, []float64{1.5, 0.9}, nil, &optimize.NelderMead{})
	if err != nil || result == nil || !(result.X[0] > 0) || !(result.X[1] > 0) {
		return 1.577, 0.8951
	}
	return result.X[0], result.X[1]
}

// optimizeLayout runs the attractive/repulsive SGD over the edge list.
func optimizeLayout(layout [][2]float64, edges []edge, a, b float64, opts Options, rng *rand.Rand) {
	if len(edges) == 0 {
		return
	}
	n := len(layout)
	epochs := opts.Epochs

	var maxW float64
	for _, e := range edges {
		maxW = math.Max(maxW, e.weight)
	}

	epochsPerSample := make([]float64, len(edges))
	for i, e := range edges {
		eps := maxW / e.weight
		if e.weight < maxW/float64(epochs) {
			eps = -1
		}
		epochsPerSample[i] = eps
	}
	epochsPerNeg := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	nextNeg := make([]float64, len(edges))
	for i, eps := range epochsPerSample {
		epochsPerNeg[i] = eps / float64(opts.NegativeSampleRate)
		nextSample[i] = eps
		nextNeg[i] = epochsPerNeg[i]
	}

	for epoch := 0; epoch < epochs; epoch++ {
		alpha := 1 - float64(epoch)/float64(epochs)
		for i, e := range edges {
			if epochsPerSample[i] <= 0 || nextSample[i] > float64(epoch) {
				continue
			}
			cur, oth := &layout[e.head], &layout[e.tail]

			d2 := sqDist(*cur, *oth)
			coeff := 0.0
			if d2 > 0 {
				coeff = -2 * a * b * math.Pow(d2, b-1) / (a*math.Pow(d2, b) + 1)
			}
			for c := 0; c < 2; c++ {
				g := clip(coeff * (cur[c] - oth[c]))
				cur[c] += g * alpha
				oth[c] -= g * alpha
			}
			nextSample[i] += epochsPerSample[i]

			nNeg := int((float64(epoch) - nextNeg[i]) / epochsPerNeg[i])
			for p := 0; p < nNeg; p++ {
				k := rng.Intn(n)
				if k == e.head {
					continue
				}
				other := layout[k]
				d2 := sqDist(*cur, other)
				coeff := 0.0
				if d2 > 0 {
					coeff = 2 * repulsionGamma * b / ((0.001 + d2) * (a*math.Pow(d2, b) + 1))
				}
				for c := 0; c < 2; c++ {
					g := gradClip
					if coeff > 0 {
						g = clip(coeff * (cur[c] - other[c]))
					}
					cur[c] += g * alpha
				}
			}
			nextNeg[i] += float64(nNeg) * epochsPerNeg[i]
		}
	}
}

func sqDist(p, q [2]float64) float64 {
	dx, dy := p[0]-q[0], p[1]-q[1]
	return dx*dx + dy*dy
}

func clip(v float64) float64 {
	return math.Max(-gradClip, math.Min(gradClip, v))
}
