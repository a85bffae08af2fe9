// Package spatial provides immutable nearest-neighbour and ball queries over a
// set of geographic sites projected by a geo.Metric.
package spatial

import (
	"math"
	"sort"

	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Site is an input coordinate with an optional attached scalar.
type Site struct {
	Lat   float64
	Lon   float64
	Value float64
}

// Neighbor is a nearest-neighbour hit. Distance is in search-space units.
type Neighbor struct {
	Index    int
	Distance float64
}

// Index answers radius and nearest-neighbour queries. It is safe for
// concurrent use once built.
type Index struct {
	metric geo.Metric
	tree   *kdtree.Tree
	sites  []Site
	coords [][]float64
}

// Empty is the index of a field with zero active cells. Every query on it
// reports no match.
var Empty = &Index{}

// New builds an index over sites. An empty input returns Empty.
func New(metric geo.Metric, sites []Site) *Index {
	if len(sites) == 0 {
		return Empty
	}
	idx := &Index{
		metric: metric,
		sites:  make([]Site, len(sites)),
		coords: make([][]float64, len(sites)),
	}
	copy(idx.sites, sites)

	pts := make(points, len(sites))
	for i, s := range sites {
		c := metric.Project(s.Lat, s.Lon)
		idx.coords[i] = c
		pts[i] = point{coord: c, idx: i}
	}
	idx.tree = kdtree.New(pts, false)
	return idx
}

// Empty reports whether the index holds no sites.
func (x *Index) Empty() bool { return x == nil || len(x.sites) == 0 }

// Len returns the number of indexed sites.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.sites)
}

// Site returns the i-th input site.
func (x *Index) Site(i int) Site { return x.sites[i] }

// Within reports whether any site lies within deg degrees of (lat, lon).
func (x *Index) Within(lat, lon, deg float64) bool {
	if x.Empty() {
		return false
	}
	r := x.metric.Radius(deg)
	_, d2 := x.tree.Nearest(x.query(lat, lon))
	return d2 <= r*r
}

// WithinAll answers Within for a batch of query sites.
func (x *Index) WithinAll(qs []Site, deg float64) []bool {
	out := make([]bool, len(qs))
	if x.Empty() {
		return out
	}
	r2 := x.metric.Radius(deg)
	r2 *= r2
	for i, q := range qs {
		_, d2 := x.tree.Nearest(x.query(q.Lat, q.Lon))
		out[i] = d2 <= r2
	}
	return out
}

// Ball returns the indices of all sites within deg degrees of (lat, lon),
// in ascending order.
func (x *Index) Ball(lat, lon, deg float64) []int {
	if x.Empty() {
		return nil
	}
	r := x.metric.Radius(deg)
	keep := kdtree.NewDistKeeper(r * r)
	x.tree.NearestSet(keep, x.query(lat, lon))

	var hits []int
	for _, c := range keep.Heap {
		// The keeper seeds its heap with a nil sentinel at the radius.
		if c.Comparable == nil {
			continue
		}
		hits = append(hits, c.Comparable.(point).idx)
	}
	sort.Ints(hits)
	return hits
}

// Nearest returns the closest site regardless of distance. ok is false only
// for an empty index.
func (x *Index) Nearest(lat, lon float64) (n Neighbor, ok bool) {
	if x.Empty() {
		return Neighbor{}, false
	}
	c, d2 := x.tree.Nearest(x.query(lat, lon))
	if c == nil {
		return Neighbor{}, false
	}
	return Neighbor{Index: c.(point).idx, Distance: math.Sqrt(d2)}, true
}

// Distance is the search-space distance between sites i and j of two indexes
// built with the same metric.
func (x *Index) Distance(i int, other *Index, j int) float64 {
	return geo.Distance(x.coords[i], other.coords[j])
}

// Radius converts degrees into this index's search-space units.
func (x *Index) Radius(deg float64) float64 {
	if x.Empty() {
		return 0
	}
	return x.metric.Radius(deg)
}

func (x *Index) query(lat, lon float64) point {
	return point{coord: x.metric.Project(lat, lon), idx: -1}
}
