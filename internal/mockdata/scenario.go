// Package mockdata builds a small synthetic dataset with a known outcome:
// gridded AR, front and vortex masks, a track file and a companion node file.
// Both cmd/genmock and package tests write it to disk.
package mockdata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/adapter/netcdf"
	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
)

// Start is the first timestep of the default scenario.
var Start = time.Date(1979, time.January, 2, 0, 0, 0, 0, time.UTC)

// Step is the spacing of the default time axis.
const Step = 6 * time.Hour

// Point is one fix of a synthetic track.
type Point struct {
	Step  int
	Lat   float64
	Lon   float64 // written in 0..360 to exercise normalization
	Value float64
}

// Cell is an active mask cell at a timestep.
type Cell struct {
	Step int
	Lat  float64
	Lon  float64
}

// Scenario is a synthetic dataset description.
type Scenario struct {
	Start     time.Time
	Step      time.Duration
	Steps     int
	Lat       []float64 // descending, as ERA5 stores it
	Lon       []float64 // 0..360
	Tracks    [][]Point
	Objects   map[domain.ObjectKind][]Cell
	Companion [][]Point // per step
	Land      func(lat, lon float64) bool
	Expected  map[int]domain.Classification
}

// Paths are the files written by Write.
type Paths struct {
	Tracks    string
	Companion string
	AR        string
	Front     string
	Vortex    string
	LandMask  string
}

// Field returns the mask path for a gridded kind.
func (p Paths) Field(k domain.ObjectKind) string {
	switch k {
	case domain.KindAR:
		return p.AR
	case domain.KindFront:
		return p.Front
	case domain.KindVortex:
		return p.Vortex
	}
	return ""
}

// Variables are the mask variable names written per kind.
var Variables = map[domain.ObjectKind]string{
	domain.KindAR:     "object_id",
	domain.KindFront:  "binary_tag",
	domain.KindVortex: "object_id",
}

// Default returns three tracks over a 1-degree grid:
//
//	track 1 sits in all three objects for three consecutive steps (persistent)
//	track 2 only ever touches the AR (transient)
//	track 3 has a single triple overlap (transient), on land
func Default() Scenario {
	s := Scenario{
		Start:    Start,
		Step:     Step,
		Steps:    4,
		Objects:  make(map[domain.ObjectKind][]Cell),
		Expected: map[int]domain.Classification{1: domain.Persistent, 2: domain.Transient, 3: domain.Transient},
		Land:     func(_, lon float64) bool { return lon <= 255 },
	}
	for lat := 40.0; lat >= 30; lat-- {
		s.Lat = append(s.Lat, lat)
	}
	for lon := 250.0; lon <= 270; lon++ {
		s.Lon = append(s.Lon, lon)
	}

	s.Tracks = [][]Point{
		{{0, 35, 260, 1.2e-4}, {1, 35, 260, 1.3e-4}, {2, 35, 260, 1.4e-4}, {3, 35, 260, 1.1e-4}},
		{{0, 32, 265, 9.0e-5}, {1, 32, 265, 9.5e-5}, {2, 32, 265, 9.9e-5}},
		{{1, 38, 255, 8.0e-5}, {2, 38, 255, 8.5e-5}},
	}

	for _, k := range domain.GriddedKinds {
		for step := 0; step < 3; step++ {
			s.Objects[k] = append(s.Objects[k], Cell{step, 35, 260})
		}
		s.Objects[k] = append(s.Objects[k], Cell{1, 38, 255})
	}
	for step := 0; step < 3; step++ {
		s.Objects[domain.KindAR] = append(s.Objects[domain.KindAR], Cell{step, 32, 265})
	}

	for step := 0; step < s.Steps; step++ {
		s.Companion = append(s.Companion, []Point{
			{step, 35.2, 259.9, 98500 + float64(step)*100},
			{step, 20, 200, 101300},
		})
	}
	return s
}

// Times returns the time axis.
func (s Scenario) Times() []time.Time {
	out := make([]time.Time, s.Steps)
	for i := range out {
		out[i] = s.Start.Add(time.Duration(i) * s.Step)
	}
	return out
}

// Write creates every input file of s under dir.
func (s Scenario) Write(dir string) (Paths, error) {
	p := Paths{
		Tracks:    filepath.Join(dir, "tracks.txt"),
		Companion: filepath.Join(dir, "slp_nodes.txt"),
		AR:        filepath.Join(dir, "ar_objects.nc"),
		Front:     filepath.Join(dir, "front_objects.nc"),
		Vortex:    filepath.Join(dir, "vortex_objects.nc"),
		LandMask:  filepath.Join(dir, "lsm.nc"),
	}
	if err := os.WriteFile(p.Tracks, []byte(s.TrackText()), 0o644); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(p.Companion, []byte(s.CompanionText()), 0o644); err != nil {
		return Paths{}, err
	}
	for _, k := range domain.GriddedKinds {
		if err := s.writeGrid(p.Field(k), s.maskGrid(k)); err != nil {
			return Paths{}, fmt.Errorf("write %s mask: %w", k, err)
		}
	}
	if err := s.writeGrid(p.LandMask, s.landGrid()); err != nil {
		return Paths{}, fmt.Errorf("write land mask: %w", err)
	}
	return p, nil
}

// TrackText renders the tracks in the "start"-delimited dialect.
func (s Scenario) TrackText() string {
	var b strings.Builder
	for _, tr := range s.Tracks {
		first := s.Start.Add(time.Duration(tr[0].Step) * s.Step)
		fmt.Fprintf(&b, "start\t%d\t%s\n", len(tr), stamp(first))
		for _, p := range tr {
			i, j := s.indices(p.Lat, p.Lon)
			t := s.Start.Add(time.Duration(p.Step) * s.Step)
			fmt.Fprintf(&b, "\t%d\t%d\t%.2f\t%.2f\t%g\t%s\n", i, j, p.Lon, p.Lat, p.Value, stamp(t))
		}
	}
	return b.String()
}

// CompanionText renders the companion points in the node dialect.
func (s Scenario) CompanionText() string {
	var b strings.Builder
	for step, pts := range s.Companion {
		t := s.Start.Add(time.Duration(step) * s.Step)
		fmt.Fprintf(&b, "%d\t%d\t%d\t%d\t%d\n", t.Year(), int(t.Month()), t.Day(), len(pts), t.Hour())
		for _, p := range pts {
			i, j := s.indices(p.Lat, p.Lon)
			fmt.Fprintf(&b, "\t%d\t%d\t%.2f\t%.2f\t%.1f\n", i, j, p.Lon, p.Lat, p.Value)
		}
	}
	return b.String()
}

func (s Scenario) maskGrid(k domain.ObjectKind) netcdf.Grid {
	nlat, nlon := len(s.Lat), len(s.Lon)
	vals := make([]float32, s.Steps*nlat*nlon)
	for id, c := range s.Objects[k] {
		y, x := s.cell(c.Lat, c.Lon)
		if y < 0 || x < 0 || c.Step >= s.Steps {
			continue
		}
		vals[(c.Step*nlat+y)*nlon+x] = float32(id + 1)
	}
	return netcdf.Grid{Variable: Variables[k], Lat: s.Lat, Lon: s.Lon, Times: s.Times(), Values: vals}
}

func (s Scenario) landGrid() netcdf.Grid {
	vals := make([]float32, len(s.Lat)*len(s.Lon))
	for y, lat := range s.Lat {
		for x, lon := range s.Lon {
			if s.Land != nil && s.Land(lat, lon) {
				vals[y*len(s.Lon)+x] = 1
			}
		}
	}
	return netcdf.Grid{Variable: "LSM", Lat: s.Lat, Lon: s.Lon, Values: vals}
}

func (s Scenario) writeGrid(path string, g netcdf.Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := netcdf.Write(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s Scenario) cell(lat, lon float64) (y, x int) {
	y, x = -1, -1
	for i, v := range s.Lat {
		if v == lat {
			y = i
		}
	}
	for i, v := range s.Lon {
		if v == lon {
			x = i
		}
	}
	return y, x
}

func (s Scenario) indices(lat, lon float64) (i, j int) {
	y, x := s.cell(lat, lon)
	return max(x, 0), max(y, 0)
}

func stamp(t time.Time) string {
	return fmt.Sprintf("%d\t%d\t%d\t%d", t.Year(), int(t.Month()), t.Day(), t.Hour())
}
