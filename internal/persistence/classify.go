// Package persistence classifies whole tracks by how sustained their
// triple-overlap signal is.
package persistence

import (
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
)

// Rule is one persistence criterion over a time-ordered flag sequence.
type Rule interface {
	Name() string
	Holds(flags []bool) bool
}

// AdjacentPair holds when two consecutive flags are both true.
type AdjacentPair struct{}

func (AdjacentPair) Name() string { return "adjacent-pair" }

func (AdjacentPair) Holds(flags []bool) bool {
	for i := 1; i < len(flags); i++ {
		if flags[i-1] && flags[i] {
			return true
		}
	}
	return false
}

// WindowMajority holds when some window of Size flags has at least Min true.
// Sequences shorter than Size never hold.
type WindowMajority struct {
	Size int
	Min  int
}

func (w WindowMajority) Name() string { return fmt.Sprintf("window-%d-of-%d", w.Min, w.Size) }

func (w WindowMajority) Holds(flags []bool) bool {
	if w.Size <= 0 || len(flags) < w.Size {
		return false
	}
	sum := 0
	for i, f := range flags {
		if f {
			sum++
		}
		if i >= w.Size && flags[i-w.Size] {
			sum--
		}
		if i >= w.Size-1 && sum >= w.Min {
			return true
		}
	}
	return false
}

// Sustained holds when Run consecutive flags are all true.
type Sustained struct {
	Run int
}

func (s Sustained) Name() string { return fmt.Sprintf("sustained-%d", s.Run) }

func (s Sustained) Holds(flags []bool) bool {
	if s.Run <= 0 {
		return false
	}
	streak := 0
	for _, f := range flags {
		if !f {
			streak = 0
			continue
		}
		streak++
		if streak >= s.Run {
			return true
		}
	}
	return false
}

// RunLength converts a duration in hours into a step count on a track with
// the given modal interval. It returns 0 when either input is non-positive.
func RunLength(hours float64, interval time.Duration) int {
	if hours <= 0 || interval <= 0 {
		return 0
	}
	return max(int(math.Round(hours/interval.Hours())), 1)
}

// DefaultRules is the adjacent-pair or 3-of-4 disjunction.
func DefaultRules() []Rule {
	return []Rule{AdjacentPair{}, WindowMajority{Size: 4, Min: 3}}
}

// Classifier applies a disjunction of rules. A track is persistent when any
// rule holds.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier over rules, or DefaultRules when none
// are given.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// WithSustained returns a copy that also accepts a run of sustainHours of
// consecutive hits, measured in steps of interval.
func (c *Classifier) WithSustained(sustainHours float64, interval time.Duration) *Classifier {
	n := RunLength(sustainHours, interval)
	if n == 0 {
		return c
	}
	rules := append(append([]Rule(nil), c.rules...), Sustained{Run: n})
	return &Classifier{rules: rules}
}

// Rules returns the configured rules in evaluation order.
func (c *Classifier) Rules() []Rule { return c.rules }

// Classify returns the verdict for a track.
func (c *Classifier) Classify(t domain.Track) domain.Classification {
	class, _ := c.Explain(t)
	return class
}

// Explain returns the verdict and the name of the first rule that held.
// Tracks with fewer than two points are always transient.
func (c *Classifier) Explain(t domain.Track) (domain.Classification, string) {
	if len(t.Points) < 2 {
		return domain.Transient, ""
	}
	return c.ClassifyFlags(t.TripleSequence())
}

// ClassifyFlags applies the rules to an already time-ordered sequence.
func (c *Classifier) ClassifyFlags(flags []bool) (domain.Classification, string) {
	if len(flags) < 2 {
		return domain.Transient, ""
	}
	for _, r := range c.rules {
		if r.Holds(flags) {
			return domain.Persistent, r.Name()
		}
	}
	return domain.Transient, ""
}
