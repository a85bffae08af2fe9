package domain

import (
	"sort"
	"time"
)

// Row is one (track_id, time) line of the exported overlap table.
type Row struct {
	Point   TrackPoint
	Overlap OverlapRecord
	Class   Classification
}

// OverlapCell is a frontal cell that has both an AR and a vortex cell within
// radius, and those two within radius of each other.
type OverlapCell struct {
	Time time.Time
	Lat  float64
	Lon  float64
}

// RunResult is the complete, classified output of one engine run.
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Tracks    []Track
	Classes   map[int]Classification
	Cells     []OverlapCell
}

// Rows flattens the evaluated tracks ordered by (track_id, time).
func (r *RunResult) Rows() []Row {
	tracks := make([]Track, len(r.Tracks))
	copy(tracks, r.Tracks)
	sort.SliceStable(tracks, func(a, b int) bool { return tracks[a].ID < tracks[b].ID })

	var rows []Row
	for _, t := range tracks {
		start := len(rows)
		for i, p := range t.Points {
			rec := NoOverlap()
			if i < len(t.Overlap) {
				rec = t.Overlap[i]
			}
			rows = append(rows, Row{Point: p, Overlap: rec, Class: r.Classes[t.ID]})
		}
		seg := rows[start:]
		sort.SliceStable(seg, func(a, b int) bool { return seg[a].Point.Time.Before(seg[b].Point.Time) })
	}
	return rows
}

// Partition splits rows by the classification of their track. A track id
// never appears in both halves.
func Partition(rows []Row) (persistent, transient []Row) {
	for _, row := range rows {
		if row.Class == Persistent {
			persistent = append(persistent, row)
		} else {
			transient = append(transient, row)
		}
	}
	return persistent, transient
}

// Count returns the number of tracks in each class.
func (r *RunResult) Count() (persistent, transient int) {
	for _, t := range r.Tracks {
		if r.Classes[t.ID] == Persistent {
			persistent++
		} else {
			transient++
		}
	}
	return persistent, transient
}
