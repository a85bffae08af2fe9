package spatial

import "gonum.org/v1/gonum/spatial/kdtree"

// point is a projected site carrying its position in the input slice, since
// tree construction reorders the backing array.
type point struct {
	coord []float64
	idx   int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord[d] - c.(point).coord[d]
}

func (p point) Dims() int { return len(p.coord) }

// Distance is the squared Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	var sum float64
	for i := range p.coord {
		d := p.coord[i] - q.coord[i]
		sum += d * d
	}
	return sum
}

type points []point

func (p points) Index(i int) kdtree.Comparable { return p[i] }
func (p points) Len() int                      { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p points) Pivot(d kdtree.Dim) int {
	return plane{points: p, dim: d}.Pivot()
}

// plane sorts points along one dimension for median selection.
type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.points[i].coord[p.dim] < p.points[j].coord[p.dim]
}

func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
