package embedding

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// point is one standardized row tagged with its row index.
type point struct {
	v   []float64
	row int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.v[d] - c.(point).v[d]
}

func (p point) Dims() int { return len(p.v) }

// Distance is the squared Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	var sum float64
	for i, x := range p.v {
		d := x - q.v[i]
		sum += d * d
	}
	return sum
}

type points []point

func (p points) Index(i int) kdtree.Comparable { return p[i] }
func (p points) Len() int                        { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p points) Pivot(d kdtree.Dim) int {
	return plane{dim: d, points: p}.Pivot()
}

// plane sorts points along one dimension while the tree is built.
type plane struct {
	dim kdtree.Dim
	points
}

func (p plane) Less(i, j int) bool { return p.points[i].v[p.dim] < p.points[j].v[p.dim] }
func (p plane) Swap(i, j int)      { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// nearestNeighbors returns, per row, the k closest other rows and their
// Euclidean distances in ascending order, using a k-d tree so a run stays
// near O(n log n) as the store grows. Equal distances order by row index.
func nearestNeighbors(z [][]float64, k int) ([][]int, [][]float64) {
	n := len(z)
	pts := make(points, n)
	for i, v := range z {
		pts[i] = point{v: v, row: i}
	}
	// New reorders its input.
	tree := kdtree.New(append(points(nil), pts...), false)

	idx := make([][]int, n)
	dist := make([][]float64, n)
	for i, q := range pts {
		keeper := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keeper, q)

		found := make([]kdtree.ComparableDist, 0, len(keeper.Heap))
		for _, c := range keeper.Heap {
			if c.Comparable == nil || c.Comparable.(point).row == i {
				continue
			}
			found = append(found, c)
		}
		sort.Slice(found, func(a, b int) bool {
			if found[a].Dist != found[b].Dist {
				return found[a].Dist < found[b].Dist
			}
			return found[a].Comparable.(point).row < found[b].Comparable.(point).row
		})
		if len(found) > k {
			found = found[:k]
		}

		idx[i] = make([]int, len(found))
		dist[i] = make([]float64, len(found))
		for p, c := range found {
			idx[i][p] = c.Comparable.(point).row
			dist[i][p] = math.Sqrt(c.Dist)
		}
	}
	return idx, dist
}
