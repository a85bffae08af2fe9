// Package grid holds gridded object masks and builds per-timestep spatial
// indexes over their active cells.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/couchcryptid/storm-overlap-engine/internal/spatial"
)

// Field is an immutable (time, latitude, longitude) object mask.
type Field struct {
	Name  string
	Kind  domain.ObjectKind
	Lat   []float64
	Lon   []float64
	Times []time.Time

	active []bool
}

// NewField builds a Field from raw values laid out time-major then latitude
// then longitude. A cell is active when its value is greater than zero, so
// NaN and negative fill values are inactive. Longitudes are normalized here
// and latitudes are reordered ascending.
func NewField(name string, kind domain.ObjectKind, lat, lon []float64, times []time.Time, values []float64) (*Field, error) {
	nlat, nlon, nt := len(lat), len(lon), len(times)
	if nlat == 0 || nlon == 0 {
		return nil, fmt.Errorf("field %s: empty coordinate axis", name)
	}
	if len(values) != nt*nlat*nlon {
		return nil, fmt.Errorf("field %s: %d values for shape (%d, %d, %d)", name, len(values), nt, nlat, nlon)
	}
	for i := 1; i < nt; i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("field %s: time axis not strictly increasing at %d", name, i)
		}
	}

	f := &Field{
		Name:   name,
		Kind:   kind,
		Lat:    make([]float64, nlat),
		Lon:    make([]float64, nlon),
		Times:  make([]time.Time, nt),
		active: make([]bool, len(values)),
	}
	for i, t := range times {
		f.Times[i] = domain.Discretize(t)
	}
	for i, l := range lon {
		f.Lon[i] = domain.NormalizeLon(l)
	}

	order := ascendingOrder(lat)
	for y, src := range order {
		f.Lat[y] = lat[src]
	}
	for t := 0; t < nt; t++ {
		for y, src := range order {
			in := (t*nlat + src) * nlon
			out := (t*nlat + y) * nlon
			for x := 0; x < nlon; x++ {
				v := values[in+x]
				f.active[out+x] = !math.IsNaN(v) && v > 0
			}
		}
	}
	return f, nil
}

// ascendingOrder returns the source indices that sort vals ascending.
func ascendingOrder(vals []float64) []int {
	order := make([]int, len(vals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return vals[order[a]] < vals[order[b]] })
	return order
}

// Active reports whether cell (t, y, x) holds an object.
func (f *Field) Active(t, y, x int) bool {
	return f.active[(t*len(f.Lat)+y)*len(f.Lon)+x]
}

// ActiveCount returns the number of active cells at time index t.
func (f *Field) ActiveCount(t int) int {
	n := 0
	stride := len(f.Lat) * len(f.Lon)
	for _, a := range f.active[t*stride : (t+1)*stride] {
		if a {
			n++
		}
	}
	return n
}

// Options filter the cells that enter an index.
type Options struct {
	Bounds domain.Bounds
	Mask   *LandMask
}

// Cells returns the coordinates of active cells at time index t that pass
// the bounds and land-mask filters. Out-of-range t yields no cells.
func (f *Field) Cells(t int, opts Options) []spatial.Site {
	if t < 0 || t >= len(f.Times) {
		return nil
	}
	var out []spatial.Site
	for y, lat := range f.Lat {
		for x, lon := range f.Lon {
			if !f.Active(t, y, x) {
				continue
			}
			if !opts.Bounds.Contains(lat, lon) {
				continue
			}
			if opts.Mask != nil && opts.Mask.IsLand(lat, lon) {
				continue
			}
			out = append(out, spatial.Site{Lat: lat, Lon: lon, Value: 1})
		}
	}
	return out
}

// BuildIndex indexes the filtered active cells of f at time index t. A
// timestep with no surviving cells yields spatial.Empty.
func BuildIndex(f *Field, t int, metric geo.Metric, opts Options) *spatial.Index {
	return spatial.New(metric, f.Cells(t, opts))
}

// LandMask marks land cells on its own grid. It is loaded once and shared
// read-only.
type LandMask struct {
	lat  []float64 // ascending
	lon  []float64 // normalized, ascending
	land []bool
}

// NewLandMask builds a mask from a (latitude, longitude) land-sea fraction
// grid. Cells with a fraction above zero are land.
func NewLandMask(lat, lon, lsm []float64) (*LandMask, error) {
	if len(lat) == 0 || len(lon) == 0 {
		return nil, errors.New("land mask: empty coordinate axis")
	}
	if len(lsm) != len(lat)*len(lon) {
		return nil, fmt.Errorf("land mask: %d values for shape (%d, %d)", len(lsm), len(lat), len(lon))
	}

	latIdx := ascendingOrder(lat)
	norm := make([]float64, len(lon))
	for i, l := range lon {
		norm[i] = domain.NormalizeLon(l)
	}
	lonIdx := ascendingOrder(norm)

	m := &LandMask{
		lat:  make([]float64, len(lat)),
		lon:  make([]float64, len(lon)),
		land: make([]bool, len(lsm)),
	}
	for y, sy := range latIdx {
		m.lat[y] = lat[sy]
	}
	for x, sx := range lonIdx {
		m.lon[x] = norm[sx]
	}
	for y, sy := range latIdx {
		for x, sx := range lonIdx {
			v := lsm[sy*len(lon)+sx]
			m.land[y*len(lon)+x] = !math.IsNaN(v) && v > 0
		}
	}
	return m, nil
}

// IsLand reports whether the mask cell nearest to (lat, lon) is land.
func (m *LandMask) IsLand(lat, lon float64) bool {
	y := nearest(m.lat, lat, false)
	x := nearest(m.lon, domain.NormalizeLon(lon), true)
	return m.land[y*len(m.lon)+x]
}

// nearest finds the closest entry of an ascending axis. When wrap is set the
// axis is treated as periodic over 360 degrees.
func nearest(axis []float64, v float64, wrap bool) int {
	i := sort.SearchFloat64s(axis, v)
	dist := func(k int) float64 {
		d := math.Abs(axis[k] - v)
		if wrap && d > 180 {
			d = 360 - d
		}
		return d
	}
	cands := []int{i - 1, i}
	if wrap {
		cands = append(cands, 0, len(axis)-1)
	}
	best := -1
	for _, k := range cands {
		if k < 0 || k >= len(axis) {
			continue
		}
		if best < 0 || dist(k) < dist(best) {
			best = k
		}
	}
	return best
}
