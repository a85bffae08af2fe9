// Package geo maps geographic coordinates into the space the spatial index
// searches, and converts an angular radius into that space's units.
package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/floats"
)

// Mode selects the coordinate transform.
type Mode string

const (
	// Planar treats (lat, lon) degrees as a flat Euclidean plane. It ignores
	// meridian convergence and the antimeridian seam.
	Planar Mode = "planar"
	// Spherical embeds points on the unit sphere and measures chord length.
	Spherical Mode = "spherical"
)

// ParseMode maps a configuration token to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Planar, Spherical:
		return m, nil
	default:
		return "", fmt.Errorf("unknown metric mode %q", s)
	}
}

// Metric projects coordinates and radii into one search space. Distances
// between projected points are Euclidean.
type Metric interface {
	Mode() Mode
	Dims() int
	// Project maps normalized (lat, lon) degrees to search-space coordinates.
	Project(lat, lon float64) []float64
	// Radius converts a radius in degrees to search-space units.
	Radius(deg float64) float64
}

// New returns the Metric for a mode. Unknown modes fall back to Planar.
func New(mode Mode) Metric {
	if mode == Spherical {
		return spherical{}
	}
	return planar{}
}

type planar struct{}

func (planar) Mode() Mode { return Planar }
func (planar) Dims() int  { return 2 }

func (planar) Project(lat, lon float64) []float64 {
	return []float64{lat, lon}
}

func (planar) Radius(deg float64) float64 {
	return math.Max(deg, 0)
}

type spherical struct{}

func (spherical) Mode() Mode { return Spherical }
func (spherical) Dims() int  { return 3 }

func (spherical) Project(lat, lon float64) []float64 {
	p := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	return []float64{p.X, p.Y, p.Z}
}

// Radius returns the chord length 2*sin(θ/2) subtending θ degrees.
func (spherical) Radius(deg float64) float64 {
	if deg <= 0 {
		return 0
	}
	chord := s1.ChordAngleFromAngle(s1.Angle(deg) * s1.Degree)
	return math.Sqrt(float64(chord))
}

// Distance is the Euclidean distance between two projected points.
func Distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// GreatCircleDegrees is the central angle between two coordinates in degrees.
func GreatCircleDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Degrees()
}
