// Package timealign maps track timestamps onto gridded field time axes.
package timealign

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
)

// Policy decides what happens when no exact match exists.
type Policy int

const (
	// Strict reports not found unless the timestamps are equal.
	Strict Policy = iota
	// Snap falls back to the nearest axis time, ties going to the earlier one.
	Snap
)

func (p Policy) String() string {
	if p == Snap {
		return "snap"
	}
	return "strict"
}

// ParsePolicy maps a configuration token to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "exact":
		return Strict, nil
	case "snap", "nearest":
		return Snap, nil
	}
	return Strict, fmt.Errorf("unknown time policy %q", s)
}

// Aligner resolves timestamps against ascending time axes.
type Aligner struct {
	Policy Policy
	// Tolerance bounds the snap distance. Zero accepts any distance.
	Tolerance time.Duration
}

// Resolve returns the index in axis matching target. Both sides are
// discretized to whole seconds before comparison.
func (a Aligner) Resolve(target time.Time, axis []time.Time) (int, bool) {
	if len(axis) == 0 {
		return -1, false
	}
	target = domain.Discretize(target)
	i := sort.Search(len(axis), func(k int) bool {
		return !domain.Discretize(axis[k]).Before(target)
	})
	if i < len(axis) && domain.Discretize(axis[i]).Equal(target) {
		return i, true
	}
	if a.Policy != Snap {
		return -1, false
	}

	best, bestDiff := -1, time.Duration(0)
	for _, k := range []int{i - 1, i} {
		if k < 0 || k >= len(axis) {
			continue
		}
		d := domain.Discretize(axis[k]).Sub(target).Abs()
		// Candidates are visited earlier first, so strict < keeps the earlier on ties.
		if best < 0 || d < bestDiff {
			best, bestDiff = k, d
		}
	}
	if a.Tolerance > 0 && bestDiff > a.Tolerance {
		return -1, false
	}
	return best, true
}

// ResolveAll resolves target against every axis and fails if any one fails.
func (a Aligner) ResolveAll(target time.Time, axes ...[]time.Time) ([]int, bool) {
	out := make([]int, len(axes))
	for n, axis := range axes {
		i, ok := a.Resolve(target, axis)
		if !ok {
			return nil, false
		}
		out[n] = i
	}
	return out, true
}
