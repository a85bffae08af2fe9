package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ObjectKind identifies one of the phenomena a track point can be co-located with.
type ObjectKind string

const (
	KindAR        ObjectKind = "ar"
	KindFront     ObjectKind = "front"
	KindVortex    ObjectKind = "vortex"
	KindCompanion ObjectKind = "companion"
)

// GriddedKinds lists the kinds backed by a gridded object field.
var GriddedKinds = []ObjectKind{KindAR, KindFront, KindVortex}

// ParseObjectKind maps a configuration token to an ObjectKind.
func ParseObjectKind(s string) (ObjectKind, error) {
	switch k := ObjectKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindAR, KindFront, KindVortex, KindCompanion:
		return k, nil
	default:
		return "", fmt.Errorf("unknown object kind %q", s)
	}
}

// TrackPoint is one timestep of a candidate track.
type TrackPoint struct {
	TrackID int
	Time    time.Time
	Lat     float64
	Lon     float64
	Value   float64
	I, J    int
}

// OverlapRecord holds the co-location flags for one TrackPoint.
type OverlapRecord struct {
	NearAR         bool
	NearFront      bool
	NearVortex     bool
	NearCompanion  bool
	Triple         bool
	CompanionValue float64 // NaN when no companion observation exists
	Resolved       bool    // false when the timestamp could not be aligned
}

// NoOverlap is the neutral record used for degraded timestamps.
func NoOverlap() OverlapRecord {
	return OverlapRecord{CompanionValue: math.NaN()}
}

// Near reports the flag for a single object kind.
func (r OverlapRecord) Near(kind ObjectKind) bool {
	switch kind {
	case KindAR:
		return r.NearAR
	case KindFront:
		return r.NearFront
	case KindVortex:
		return r.NearVortex
	case KindCompanion:
		return r.NearCompanion
	}
	return false
}

// SetNear sets the flag for a single object kind.
func (r *OverlapRecord) SetNear(kind ObjectKind, v bool) {
	switch kind {
	case KindAR:
		r.NearAR = v
	case KindFront:
		r.NearFront = v
	case KindVortex:
		r.NearVortex = v
	case KindCompanion:
		r.NearCompanion = v
	}
}

// Track is a time-ordered chain of detections. Overlap is parallel to Points
// once the track has been evaluated.
type Track struct {
	ID       int
	Declared int // step count from the "start" line, 0 when absent
	Points   []TrackPoint
	Overlap  []OverlapRecord
}

// Evaluated reports whether every point carries an overlap record.
func (t Track) Evaluated() bool {
	return len(t.Overlap) == len(t.Points)
}

// TripleSequence returns the triple-overlap flags ordered by time. Points are
// re-sorted here rather than trusting the caller.
func (t Track) TripleSequence() []bool {
	idx := make([]int, len(t.Points))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return t.Points[idx[a]].Time.Before(t.Points[idx[b]].Time)
	})

	flags := make([]bool, len(idx))
	for n, i := range idx {
		if i < len(t.Overlap) {
			flags[n] = t.Overlap[i].Triple
		}
	}
	return flags
}

// Classification is the persistence verdict for a whole track.
type Classification int

const (
	Transient Classification = iota
	Persistent
)

func (c Classification) String() string {
	if c == Persistent {
		return "persistent"
	}
	return "transient"
}

// Label is the category name used in the exported tables.
func (c Classification) Label() string {
	if c == Persistent {
		return "AR-MFW"
	}
	return "only-AR"
}

// ParseClassification accepts either the String or the Label form.
func ParseClassification(s string) (Classification, error) {
	switch s {
	case "persistent", "AR-MFW":
		return Persistent, nil
	case "transient", "only-AR":
		return Transient, nil
	}
	return Transient, fmt.Errorf("unknown classification %q", s)
}
