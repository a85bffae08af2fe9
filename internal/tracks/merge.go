package tracks

import (
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
)

// MergeNodeBlocks combines node blocks from several files into one block per
// timestamp, sorted by time. Within a timestamp, points keep file order.
func MergeNodeBlocks(results ...Result) []NodeBlock {
	byTime := make(map[time.Time]int)
	var out []NodeBlock
	for _, r := range results {
		for _, b := range r.Blocks {
			i, ok := byTime[b.Time]
			if !ok {
				i = len(out)
				byTime[b.Time] = i
				out = append(out, NodeBlock{Time: b.Time})
			}
			out[i].Declared += b.Declared
			out[i].Points = append(out[i].Points, b.Points...)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })
	return out
}

// ModalInterval returns the most common positive spacing between consecutive
// points across all tracks. Ties resolve to the smallest interval. It returns
// zero when no track has two points.
func ModalInterval(ts []domain.Track) time.Duration {
	counts := make(map[time.Duration]int)
	for _, t := range ts {
		times := make([]time.Time, len(t.Points))
		for i, p := range t.Points {
			times[i] = p.Time
		}
		slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
		for i := 1; i < len(times); i++ {
			if d := times[i].Sub(times[i-1]); d > 0 {
				counts[d]++
			}
		}
	}

	var best time.Duration
	bestN := 0
	for d, n := range counts {
		if n > bestN || (n == bestN && d < best) {
			best, bestN = d, n
		}
	}
	return best
}

// Timestamps returns the distinct point times across all tracks, ascending.
func Timestamps(ts []domain.Track) []time.Time {
	seen := make(map[time.Time]struct{})
	var out []time.Time
	for _, t := range ts {
		for _, p := range t.Points {
			if _, ok := seen[p.Time]; ok {
				continue
			}
			seen[p.Time] = struct{}{}
			out = append(out, p.Time)
		}
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}
