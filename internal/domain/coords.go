package domain

import (
	"errors"
	"math"
	"time"
)

// NormalizeLon maps a longitude in degrees to [-180, 180).
func NormalizeLon(lon float64) float64 {
	if lon >= -180 && lon < 180 {
		return lon
	}
	l := math.Mod(lon+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

// Discretize truncates a timestamp to whole seconds in UTC.
func Discretize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Bounds restricts the analysis domain. The zero value is unbounded. When
// West is greater than East the box wraps across the antimeridian.
type Bounds struct {
	North, South float64
	East, West   float64
	Set          bool
}

// NewBounds validates and returns a bounded domain.
func NewBounds(north, south, east, west float64) (Bounds, error) {
	if north < south {
		return Bounds{}, errors.New("bounds: north must not be below south")
	}
	if north > 90 || south < -90 {
		return Bounds{}, errors.New("bounds: latitude out of range")
	}
	return Bounds{
		North: north,
		South: south,
		East:  NormalizeLon(east),
		West:  NormalizeLon(west),
		Set:   true,
	}, nil
}

// Contains reports whether a normalized coordinate lies inside the bounds.
func (b Bounds) Contains(lat, lon float64) bool {
	if !b.Set {
		return true
	}
	if lat < b.South || lat > b.North {
		return false
	}
	if b.West <= b.East {
		return lon >= b.West && lon <= b.East
	}
	return lon >= b.West || lon <= b.East
}
