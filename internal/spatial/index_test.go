package spatial

import (
	"math/rand/v2"
	"testing"

	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridSites() []Site {
	var sites []Site
	for lat := 30.0; lat <= 32.0; lat += 0.5 {
		for lon := -100.0; lon <= -98.0; lon += 0.5 {
			sites = append(sites, Site{Lat: lat, Lon: lon, Value: lat + lon})
		}
	}
	return sites
}

func TestEmptySentinel(t *testing.T) {
	idx := New(geo.New(geo.Planar), nil)
	assert.Same(t, Empty, idx)
	assert.True(t, idx.Empty())
	assert.Equal(t, 0, idx.Len())
	assert.False(t, idx.Within(0, 0, 180))
	assert.Nil(t, idx.Ball(0, 0, 180))
	_, ok := idx.Nearest(0, 0)
	assert.False(t, ok)
	assert.Equal(t, []bool{false, false}, idx.WithinAll([]Site{{}, {}}, 10))
}

func TestWithin_Planar(t *testing.T) {
	idx := New(geo.New(geo.Planar), []Site{{Lat: 40, Lon: -100}})

	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"on site", 40, -100, true},
		{"exactly on radius", 40.5, -100, true},
		{"inside", 40.3, -99.7, true},
		{"just outside", 40.51, -100, false},
		{"diagonal outside", 40.4, -99.6, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, idx.Within(tc.lat, tc.lon, 0.5))
		})
	}
}

func TestWithinAll_MatchesWithin(t *testing.T) {
	idx := New(geo.New(geo.Spherical), gridSites())
	rng := rand.New(rand.NewPCG(1, 2))

	qs := make([]Site, 200)
	for i := range qs {
		qs[i] = Site{Lat: 29 + 4*rng.Float64(), Lon: -101 + 4*rng.Float64()}
	}
	got := idx.WithinAll(qs, 0.3)
	for i, q := range qs {
		assert.Equal(t, idx.Within(q.Lat, q.Lon, 0.3), got[i], "query %d", i)
	}
}

func TestBall_MatchesBruteForce(t *testing.T) {
	m := geo.New(geo.Spherical)
	sites := gridSites()
	idx := New(m, sites)

	got := idx.Ball(31.1, -99.1, 0.8)

	var want []int
	r := m.Radius(0.8)
	q := m.Project(31.1, -99.1)
	for i, s := range sites {
		if geo.Distance(q, m.Project(s.Lat, s.Lon)) <= r {
			want = append(want, i)
		}
	}
	require.NotEmpty(t, want)
	assert.Equal(t, want, got)
}

func TestNearest_UnboundedDistance(t *testing.T) {
	sites := []Site{{Lat: 10, Lon: 10, Value: 1010}, {Lat: -50, Lon: 120, Value: 990}}
	idx := New(geo.New(geo.Planar), sites)

	n, ok := idx.Nearest(60, 0)
	require.True(t, ok)
	assert.Equal(t, 0, n.Index)
	assert.InDelta(t, 50.990195, n.Distance, 1e-6)
	assert.Equal(t, 1010.0, idx.Site(n.Index).Value)
}

func TestNearest_AcrossAntimeridian(t *testing.T) {
	sites := []Site{{Lat: 45, Lon: 179.9}, {Lat: 45, Lon: 170}}

	sph := New(geo.New(geo.Spherical), sites)
	n, ok := sph.Nearest(45, -179.9)
	require.True(t, ok)
	assert.Equal(t, 0, n.Index)

	pl := New(geo.New(geo.Planar), sites)
	n, ok = pl.Nearest(45, -179.9)
	require.True(t, ok)
	assert.Equal(t, 1, n.Index, "planar mode misses the seam")
}

func TestDistanceBetweenIndexes(t *testing.T) {
	m := geo.New(geo.Planar)
	a := New(m, []Site{{Lat: 0, Lon: 0}})
	b := New(m, []Site{{Lat: 3, Lon: 4}})
	assert.InDelta(t, 5.0, a.Distance(0, b, 0), 1e-12)
	assert.Equal(t, 0.25, a.Radius(0.25))
}
